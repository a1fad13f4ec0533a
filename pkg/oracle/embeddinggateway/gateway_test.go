package embeddinggateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethrdev/cognitive-memory-sub004/internal/resilience"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/oracle/embeddings/mock"
)

func testConfig() Config {
	return Config{
		MaxRetries:     2,
		BaseDelay:      time.Millisecond,
		CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: 10},
	}
}

func TestGateway_Embed_SucceedsWithoutRetry(t *testing.T) {
	provider := &mock.Provider{
		EmbedResult:     []float32{0.1, 0.2, 0.3},
		DimensionsValue: 3,
		ModelIDValue:    "test-embed",
	}
	g := New(provider, testConfig())

	vec, err := g.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("len(vec) = %d, want 3", len(vec))
	}
	if len(provider.EmbedCalls) != 1 {
		t.Fatalf("provider called %d times, want 1", len(provider.EmbedCalls))
	}
}

// flakyProvider fails the first N calls then succeeds, used to exercise the
// gateway's retry loop without a real embedding backend.
type flakyProvider struct {
	*mock.Provider
	failuresRemaining int
}

func (p *flakyProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if p.failuresRemaining > 0 {
		p.failuresRemaining--
		return nil, errors.New("transient failure")
	}
	return p.Provider.Embed(ctx, text)
}

func TestGateway_Embed_RetriesThenSucceeds(t *testing.T) {
	provider := &flakyProvider{
		Provider: &mock.Provider{
			EmbedResult:     []float32{1, 2},
			DimensionsValue: 2,
		},
		failuresRemaining: 2,
	}
	g := New(provider, testConfig())

	vec, err := g.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 2 {
		t.Fatalf("len(vec) = %d, want 2", len(vec))
	}
}

func TestGateway_Embed_ExhaustsRetries(t *testing.T) {
	provider := &flakyProvider{
		Provider:          &mock.Provider{},
		failuresRemaining: 100,
	}
	g := New(provider, testConfig())

	_, err := g.Embed(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if ckg.KindOf(err) != ckg.KindEmbeddingUnavailable {
		t.Errorf("KindOf(err) = %v, want KindEmbeddingUnavailable", ckg.KindOf(err))
	}
}

func TestGateway_Embed_ContextCancelled(t *testing.T) {
	provider := &flakyProvider{
		Provider:          &mock.Provider{},
		failuresRemaining: 100,
	}
	cfg := testConfig()
	cfg.BaseDelay = 50 * time.Millisecond
	g := New(provider, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := g.Embed(ctx, "hello")
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestGateway_DimensionsAndModelID(t *testing.T) {
	provider := &mock.Provider{DimensionsValue: 1536, ModelIDValue: "text-embedding-3-small"}
	g := New(provider, testConfig())

	if g.Dimensions() != 1536 {
		t.Errorf("Dimensions() = %d, want 1536", g.Dimensions())
	}
	if g.ModelID() != "text-embedding-3-small" {
		t.Errorf("ModelID() = %q, want text-embedding-3-small", g.ModelID())
	}
}
