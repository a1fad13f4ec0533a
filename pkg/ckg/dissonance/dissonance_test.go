package dissonance_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg/dissonance"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/oracle/classifier"
	classifiermock "github.com/ethrdev/cognitive-memory-sub004/pkg/oracle/classifier/mock"
)

// fakeStore overrides only the [ckg.Store] methods the dissonance engine
// uses; every other method panics via the embedded nil interface if called.
type fakeStore struct {
	ckg.Store

	candidates [][2]ckg.Edge
	audits     []ckg.AuditEntry
	resolved   bool
}

func (f *fakeStore) ListCandidateConflicts(ctx context.Context, limit int) ([][2]ckg.Edge, error) {
	return f.candidates, nil
}

func (f *fakeStore) WriteAudit(ctx context.Context, entry ckg.AuditEntry) (int64, error) {
	f.audits = append(f.audits, entry)
	return int64(len(f.audits)), nil
}

func (f *fakeStore) ResolveDissonance(ctx context.Context, edgeAID, edgeBID int64, resolutionType ckg.ResolutionType, resolutionContext, resolvedBy string) (ckg.Edge, error) {
	f.resolved = true
	return ckg.Edge{ID: 999, Properties: map[string]any{"edge_type": "resolution"}}, nil
}

func edgePair(now time.Time) (ckg.Edge, ckg.Edge) {
	a := ckg.Edge{ID: 1, SourceName: "Ava", TargetName: "Coffee", Relation: "LIKES", ModifiedAt: now, LastAccessed: now}
	b := ckg.Edge{ID: 2, SourceName: "Ava", TargetName: "Tea", Relation: "LIKES", ModifiedAt: now, LastAccessed: now}
	return a, b
}

func TestCheck_RejectsUnknownScope(t *testing.T) {
	store := &fakeStore{}
	engine := dissonance.New(store, &classifiermock.Classifier{})

	_, err := engine.Check(context.Background(), "bogus", "")
	if ckg.KindOf(err) != ckg.KindInvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestCheck_ClassifiesEveryCandidate(t *testing.T) {
	a, b := edgePair(time.Now())
	store := &fakeStore{candidates: [][2]ckg.Edge{{a, b}}}
	mock := &classifiermock.Classifier{Verdict: classifier.Verdict{ResolutionType: ckg.ResolutionEvolution, Confidence: 0.9}}
	engine := dissonance.New(store, mock)

	result, err := engine.Check(context.Background(), dissonance.ScopeFull, "")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(result.Pairs) != 1 {
		t.Fatalf("expected 1 classified pair, got %d", len(result.Pairs))
	}
	if result.Pairs[0].Verdict.ResolutionType != ckg.ResolutionEvolution {
		t.Fatalf("expected EVOLUTION verdict, got %q", result.Pairs[0].Verdict.ResolutionType)
	}
	if result.ClassifierUnavailable {
		t.Fatalf("expected classifier available")
	}
}

func TestCheck_NuanceVerdictsQueueForPendingReview(t *testing.T) {
	a, b := edgePair(time.Now())
	store := &fakeStore{candidates: [][2]ckg.Edge{{a, b}}}
	mock := &classifiermock.Classifier{Verdict: classifier.Verdict{ResolutionType: ckg.ResolutionNuance, Confidence: 0.6}}
	engine := dissonance.New(store, mock)

	result, err := engine.Check(context.Background(), dissonance.ScopeFull, "")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(result.PendingReview) != 1 {
		t.Fatalf("expected 1 pending-review pair, got %d", len(result.PendingReview))
	}
	if len(store.audits) != 1 || store.audits[0].Action != ckg.AuditActionFlagNuance {
		t.Fatalf("expected a FLAG_NUANCE_REVIEW audit entry, got %+v", store.audits)
	}
}

func TestCheck_RecentScopeExcludesStaleEdges(t *testing.T) {
	stale := time.Now().Add(-60 * 24 * time.Hour)
	a, b := edgePair(stale)
	store := &fakeStore{candidates: [][2]ckg.Edge{{a, b}}}
	mock := &classifiermock.Classifier{Verdict: classifier.Verdict{ResolutionType: ckg.ResolutionEvolution}}
	engine := dissonance.New(store, mock)

	result, err := engine.Check(context.Background(), dissonance.ScopeRecent, "")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.TotalCandidates != 0 || len(result.Pairs) != 0 {
		t.Fatalf("expected stale pair excluded from recent scope, got %+v", result)
	}
}

func TestCheck_ContextNodeFiltersUnrelatedPairs(t *testing.T) {
	now := time.Now()
	touching := ckg.Edge{ID: 1, SourceName: "Ava", TargetName: "Coffee", ModifiedAt: now, LastAccessed: now}
	other := ckg.Edge{ID: 2, SourceName: "Ava", TargetName: "Tea", ModifiedAt: now, LastAccessed: now}
	unrelatedA := ckg.Edge{ID: 3, SourceName: "Marco", TargetName: "Pizza", ModifiedAt: now, LastAccessed: now}
	unrelatedB := ckg.Edge{ID: 4, SourceName: "Marco", TargetName: "Pasta", ModifiedAt: now, LastAccessed: now}

	store := &fakeStore{candidates: [][2]ckg.Edge{{touching, other}, {unrelatedA, unrelatedB}}}
	mock := &classifiermock.Classifier{Verdict: classifier.Verdict{ResolutionType: ckg.ResolutionEvolution}}
	engine := dissonance.New(store, mock)

	result, err := engine.Check(context.Background(), dissonance.ScopeFull, "Ava")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.TotalCandidates != 1 || len(result.Pairs) != 1 {
		t.Fatalf("expected only the Ava-rooted pair to survive filtering, got %+v", result)
	}
}

func TestCheck_PreservesClassifiedPairsOnPartialClassifierFailure(t *testing.T) {
	now := time.Now()
	a1, b1 := edgePair(now)
	a2 := ckg.Edge{ID: 5, SourceName: "Marco", TargetName: "Pizza", ModifiedAt: now, LastAccessed: now}
	b2 := ckg.Edge{ID: 6, SourceName: "Marco", TargetName: "Pasta", ModifiedAt: now, LastAccessed: now}

	store := &fakeStore{candidates: [][2]ckg.Edge{{a1, b1}, {a2, b2}}}
	callCount := 0
	mock := &partialFailureClassifier{
		fail: func(edgeA ckg.Edge) bool {
			callCount++
			return edgeA.ID == a2.ID
		},
		verdict: classifier.Verdict{ResolutionType: ckg.ResolutionEvolution},
	}
	engine := dissonance.New(store, mock)

	result, err := engine.Check(context.Background(), dissonance.ScopeFull, "")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !result.ClassifierUnavailable {
		t.Fatalf("expected ClassifierUnavailable true")
	}
	if len(result.Pairs) != 1 {
		t.Fatalf("expected the one successfully classified pair preserved, got %d", len(result.Pairs))
	}
}

func TestCheck_CapsSubmissionAt100Pairs(t *testing.T) {
	now := time.Now()
	var candidates [][2]ckg.Edge
	for i := 0; i < 150; i++ {
		a := ckg.Edge{ID: int64(i*2 + 1), SourceName: "Ava", TargetName: "X", ModifiedAt: now, LastAccessed: now}
		b := ckg.Edge{ID: int64(i*2 + 2), SourceName: "Ava", TargetName: "Y", ModifiedAt: now, LastAccessed: now}
		candidates = append(candidates, [2]ckg.Edge{a, b})
	}
	store := &fakeStore{candidates: candidates}
	mock := &classifiermock.Classifier{Verdict: classifier.Verdict{ResolutionType: ckg.ResolutionEvolution}}
	engine := dissonance.New(store, mock)

	result, err := engine.Check(context.Background(), dissonance.ScopeFull, "")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.TotalCandidates != 150 {
		t.Fatalf("expected 150 total candidates, got %d", result.TotalCandidates)
	}
	if result.Submitted != 100 {
		t.Fatalf("expected submission capped at 100, got %d", result.Submitted)
	}
}

func TestResolve_DelegatesToStore(t *testing.T) {
	store := &fakeStore{}
	engine := dissonance.New(store, &classifiermock.Classifier{})

	edge, err := engine.Resolve(context.Background(), 1, 2, ckg.ResolutionEvolution, "shift after reading", "judge")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !store.resolved {
		t.Fatalf("expected store.ResolveDissonance to be invoked")
	}
	if !edge.IsResolution() {
		t.Fatalf("expected resolution hyperedge returned")
	}
}

// partialFailureClassifier fails classification for edges matching fail.
type partialFailureClassifier struct {
	fail    func(edgeA ckg.Edge) bool
	verdict classifier.Verdict
}

func (c *partialFailureClassifier) Classify(ctx context.Context, edgeA, edgeB ckg.Edge) (classifier.Verdict, error) {
	if c.fail(edgeA) {
		return classifier.Verdict{}, errors.New("oracle unavailable")
	}
	return c.verdict, nil
}
