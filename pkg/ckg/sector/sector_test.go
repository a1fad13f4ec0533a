package sector

import (
	"context"
	"testing"

	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg"
)

func TestClassify_OrderedRules(t *testing.T) {
	c := New(0)
	ctx := context.Background()

	tests := []struct {
		name       string
		relation   string
		properties map[string]any
		want       ckg.Sector
	}{
		{
			name:       "emotional valence wins regardless of relation",
			relation:   "LEARNED",
			properties: map[string]any{"emotional_valence": "positive"},
			want:       ckg.SectorEmotional,
		},
		{
			name:       "shared experience context type",
			relation:   "KNOWS",
			properties: map[string]any{"context_type": "shared_experience"},
			want:       ckg.SectorEpisodic,
		},
		{
			name:     "emotional valence precedes shared experience",
			relation: "KNOWS",
			properties: map[string]any{
				"emotional_valence": "negative",
				"context_type":      "shared_experience",
			},
			want: ckg.SectorEmotional,
		},
		{
			name:       "LEARNED is procedural",
			relation:   "LEARNED",
			properties: nil,
			want:       ckg.SectorProcedural,
		},
		{
			name:       "CAN_DO is procedural",
			relation:   "CAN_DO",
			properties: map[string]any{},
			want:       ckg.SectorProcedural,
		},
		{
			name:       "REFLECTS is reflective",
			relation:   "REFLECTS",
			properties: nil,
			want:       ckg.SectorReflective,
		},
		{
			name:       "REALIZED is reflective",
			relation:   "REALIZED",
			properties: nil,
			want:       ckg.SectorReflective,
		},
		{
			name:       "unmatched relation falls back to semantic",
			relation:   "KNOWS",
			properties: nil,
			want:       ckg.SectorSemantic,
		},
		{
			name:       "non-string context_type is ignored",
			relation:   "KNOWS",
			properties: map[string]any{"context_type": 42},
			want:       ckg.SectorSemantic,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(ctx, tt.relation, tt.properties)
			if got != tt.want {
				t.Errorf("Classify(%q, %v) = %v, want %v", tt.relation, tt.properties, got, tt.want)
			}
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	c := New(0)
	ctx := context.Background()
	props := map[string]any{"context_type": "shared_experience"}

	first := c.Classify(ctx, "KNOWS", props)
	for i := 0; i < 5; i++ {
		if got := c.Classify(ctx, "KNOWS", props); got != first {
			t.Fatalf("Classify is not deterministic: got %v, want %v", got, first)
		}
	}
}

func TestNew_DefaultRuleCap(t *testing.T) {
	c := New(0)
	if c.MaxRulesPerSector() != defaultMaxRulesPerSector {
		t.Errorf("MaxRulesPerSector() = %d, want %d", c.MaxRulesPerSector(), defaultMaxRulesPerSector)
	}

	c2 := New(10)
	if c2.MaxRulesPerSector() != 10 {
		t.Errorf("MaxRulesPerSector() = %d, want 10", c2.MaxRulesPerSector())
	}
}
