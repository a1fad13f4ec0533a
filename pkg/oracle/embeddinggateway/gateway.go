// Package embeddinggateway wraps an embeddings.Provider with the retry policy
// required of the embedding oracle (§4.2): up to N retries with exponential
// backoff and jitter, circuit-breaker protection against a provider that is
// consistently down, and structured logging of every retry attempt.
package embeddinggateway

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/ethrdev/cognitive-memory-sub004/internal/resilience"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/oracle/embeddings"
)

// Config tunes the retry policy (§4.2, §6 retry.*).
type Config struct {
	// MaxRetries bounds retry attempts after the first failure. Default 4.
	MaxRetries int

	// BaseDelay is the first retry's backoff delay; each subsequent retry
	// doubles it (1s, 2s, 4s, 8s at the defaults).
	BaseDelay time.Duration

	// JitterEnabled multiplies each delay by a random factor in [0.8, 1.2]
	// to avoid thundering-herd retries across concurrent callers.
	JitterEnabled bool

	// CircuitBreaker tunes the breaker guarding the underlying provider.
	CircuitBreaker resilience.CircuitBreakerConfig
}

// Gateway wraps an embeddings.Provider with retry and circuit-breaker logic.
// It implements embeddings.Provider itself so callers can use it as a
// drop-in replacement.
type Gateway struct {
	provider embeddings.Provider
	cfg      Config
	breaker  *resilience.CircuitBreaker
}

// New wraps provider with the given retry configuration. Zero-valued Config
// fields are replaced with the §4.2 defaults.
func New(provider embeddings.Provider, cfg Config) *Gateway {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 4
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.CircuitBreaker.Name == "" {
		cfg.CircuitBreaker.Name = "embedding-gateway:" + provider.ModelID()
	}
	return &Gateway{
		provider: provider,
		cfg:      cfg,
		breaker:  resilience.NewCircuitBreaker(cfg.CircuitBreaker),
	}
}

// Embed implements embeddings.Provider with retry.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	var result []float32
	err := g.retry(ctx, func() error {
		var err error
		result, err = g.provider.Embed(ctx, text)
		return err
	})
	if err != nil {
		return nil, ckg.NewError(ckg.KindEmbeddingUnavailable, "embedding request failed after retries").WithCause(err)
	}
	return result, nil
}

// EmbedBatch implements embeddings.Provider with retry.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var result [][]float32
	err := g.retry(ctx, func() error {
		var err error
		result, err = g.provider.EmbedBatch(ctx, texts)
		return err
	})
	if err != nil {
		return nil, ckg.NewError(ckg.KindEmbeddingUnavailable, "batch embedding request failed after retries").WithCause(err)
	}
	return result, nil
}

// Dimensions implements embeddings.Provider.
func (g *Gateway) Dimensions() int { return g.provider.Dimensions() }

// ModelID implements embeddings.Provider.
func (g *Gateway) ModelID() string { return g.provider.ModelID() }

// retry runs fn through the circuit breaker with exponential backoff between
// attempts. The first attempt plus up to MaxRetries further attempts are
// made; ctx cancellation aborts immediately.
func (g *Gateway) retry(ctx context.Context, fn func() error) error {
	delay := g.cfg.BaseDelay
	var lastErr error

	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		lastErr = g.breaker.Execute(fn)
		if lastErr == nil {
			return nil
		}

		if attempt == g.cfg.MaxRetries {
			break
		}

		wait := delay
		if g.cfg.JitterEnabled {
			wait = time.Duration(float64(delay) * (0.8 + 0.4*rand.Float64()))
		}

		slog.Warn("embedding gateway retrying after failure",
			"attempt", attempt+1,
			"max_retries", g.cfg.MaxRetries,
			"wait", wait,
			"error", lastErr,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		delay *= 2
	}

	return lastErr
}

var _ embeddings.Provider = (*Gateway)(nil)
