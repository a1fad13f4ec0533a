package staged_test

import (
	"context"
	"testing"

	"github.com/ethrdev/cognitive-memory-sub004/pkg/oracle/judge"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/oracle/judge/staged"
)

// fakeEvaluator returns Reward from a per-call sequence, cycling the last
// value once exhausted.
type fakeEvaluator struct {
	rewards []float64
	calls   int
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, query, retrievedContext, answer string) (judge.Verdict, error) {
	i := f.calls
	if i >= len(f.rewards) {
		i = len(f.rewards) - 1
	}
	f.calls++
	return judge.Verdict{Reward: f.rewards[i]}, nil
}

func TestEvaluate_NoSecondaryDelegatesToPrimary(t *testing.T) {
	primary := &fakeEvaluator{rewards: []float64{0.9}}
	j := staged.New(primary, nil, staged.Config{TransitionKappaThreshold: 0.85, MinQueriesBeforeTransition: 1})

	v, err := j.Evaluate(context.Background(), "q", "ctx", "a")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if v.Reward != 0.9 {
		t.Fatalf("Reward = %v, want 0.9", v.Reward)
	}
	if primary.calls != 1 {
		t.Fatalf("primary.calls = %d, want 1", primary.calls)
	}
}

func TestEvaluate_TransitionsOncePerfectAgreementClearsMinQueries(t *testing.T) {
	// Both judges agree (both helpful) on every call, so kappa is
	// undefined-but-treated-as-1 (pe == 1) from the first query, and
	// transition fires once MinQueriesBeforeTransition is reached.
	primary := &fakeEvaluator{rewards: []float64{0.9, 0.9, 0.9}}
	secondary := &fakeEvaluator{rewards: []float64{0.8, 0.8, 0.8}}
	j := staged.New(primary, secondary, staged.Config{
		TransitionKappaThreshold:  0.85,
		MinQueriesBeforeTransition: 3,
		SpotCheckRate:              0,
	})

	for i := 0; i < 3; i++ {
		if _, err := j.Evaluate(context.Background(), "q", "ctx", "a"); err != nil {
			t.Fatalf("Evaluate[%d]: %v", i, err)
		}
	}

	if !j.Transitioned() {
		t.Fatalf("expected transition after %d agreeing queries, kappa=%v", 3, j.Kappa())
	}
	if secondary.calls != 3 {
		t.Fatalf("secondary.calls = %d, want 3 (consulted through the dual phase)", secondary.calls)
	}

	// Post-transition, with SpotCheckRate 0 the secondary is never consulted again.
	if _, err := j.Evaluate(context.Background(), "q", "ctx", "a"); err != nil {
		t.Fatalf("Evaluate post-transition: %v", err)
	}
	if secondary.calls != 3 {
		t.Fatalf("secondary.calls = %d after post-transition call, want unchanged at 3", secondary.calls)
	}
	if primary.calls != 4 {
		t.Fatalf("primary.calls = %d, want 4", primary.calls)
	}
}

func TestEvaluate_DisagreementKeepsDualPhaseActive(t *testing.T) {
	primary := &fakeEvaluator{rewards: []float64{0.9, 0.1, 0.9, 0.1}}
	secondary := &fakeEvaluator{rewards: []float64{0.1, 0.9, 0.1, 0.9}}
	j := staged.New(primary, secondary, staged.Config{
		TransitionKappaThreshold:  0.85,
		MinQueriesBeforeTransition: 4,
	})

	for i := 0; i < 4; i++ {
		if _, err := j.Evaluate(context.Background(), "q", "ctx", "a"); err != nil {
			t.Fatalf("Evaluate[%d]: %v", i, err)
		}
	}

	if j.Transitioned() {
		t.Fatalf("expected no transition under total disagreement, kappa=%v", j.Kappa())
	}
	if secondary.calls != 4 {
		t.Fatalf("secondary.calls = %d, want 4 (still in dual phase every call)", secondary.calls)
	}
}
