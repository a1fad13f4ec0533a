// Package dissonance implements the contradiction-detection engine of §4.6:
// it enumerates candidate-conflicting edge pairs, submits them to an
// external classifier oracle, and surfaces verdicts for resolution. It never
// mutates the graph on its own — resolution always goes through
// [ckg.GraphStore.ResolveDissonance], which enforces AGM alignment and
// retains both originals.
package dissonance

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/oracle/classifier"
)

const (
	defaultMaxPairs        = 100
	fetchMultiplier        = 5
	recentWindow           = 30 * 24 * time.Hour
	maxClassifyConcurrency = 8
)

// Scope controls how [Engine.Check] bounds candidate enumeration (§4.6
// dissonance_check).
type Scope string

const (
	// ScopeRecent restricts candidates to edges modified or accessed within
	// the last 30 days.
	ScopeRecent Scope = "recent"
	// ScopeFull considers every edge of context_node, with no temporal filter.
	ScopeFull Scope = "full"
)

// IsValid reports whether s is a recognised scope.
func (s Scope) IsValid() bool { return s == ScopeRecent || s == ScopeFull }

// Pair is one candidate-conflicting edge pair, along with its classification
// outcome. Err is set when the classifier oracle failed for this pair; such
// pairs are excluded from Result.Pairs but counted toward
// Result.ClassifierUnavailable.
type Pair struct {
	EdgeA   ckg.Edge
	EdgeB   ckg.Edge
	Verdict classifier.Verdict
	Err     error
}

// Result is the response shape of dissonance_check (§4.6).
type Result struct {
	// Pairs holds every successfully classified candidate.
	Pairs []Pair
	// PendingReview holds the subset of Pairs classified NUANCE, which §4.6
	// additionally queues for PENDING_IO_REVIEW.
	PendingReview []Pair
	// ClassifierUnavailable is true when at least one candidate could not be
	// classified. Already-classified pairs are still returned (§9
	// "Dissonance classifier failure").
	ClassifierUnavailable bool
	// TotalCandidates is the count after scope/context-node filtering, before
	// the 100-pair submission cap.
	TotalCandidates int
	// Submitted is the count actually sent to the classifier.
	Submitted int
}

// Engine enumerates candidate-conflicting edge pairs and classifies them.
// Safe for concurrent use; Check bounds its own classifier fan-out.
type Engine struct {
	store    ckg.Store
	classify classifier.Classifier
	maxPairs int
}

// New constructs an Engine reading candidates from store and classifying
// them via classify.
func New(store ckg.Store, classify classifier.Classifier) *Engine {
	return &Engine{store: store, classify: classify, maxPairs: defaultMaxPairs}
}

// Check runs dissonance_check: it enumerates edges sharing a common
// endpoint and relation, filters them by scope and (if given) contextNode,
// caps the result at 100 pairs, and classifies each concurrently (bounded to
// maxClassifyConcurrency in-flight oracle calls). NUANCE verdicts are
// additionally flagged for pending review via the audit log.
func (e *Engine) Check(ctx context.Context, scope Scope, contextNode string) (Result, error) {
	if !scope.IsValid() {
		return Result{}, ckg.NewError(ckg.KindInvalidArgument, "unknown dissonance scope").
			WithDetails(map[string]any{"scope": scope})
	}

	candidates, err := e.store.ListCandidateConflicts(ctx, e.maxPairs*fetchMultiplier)
	if err != nil {
		return Result{}, err
	}

	cutoff := time.Now().Add(-recentWindow)
	filtered := make([][2]ckg.Edge, 0, len(candidates))
	for _, pair := range candidates {
		a, b := pair[0], pair[1]
		if contextNode != "" && !pairTouchesNode(a, b, contextNode) {
			continue
		}
		if scope == ScopeRecent && !(isRecent(a, cutoff) && isRecent(b, cutoff)) {
			continue
		}
		filtered = append(filtered, pair)
	}

	submitted := filtered
	if len(submitted) > e.maxPairs {
		submitted = submitted[:e.maxPairs]
	}

	result := Result{TotalCandidates: len(filtered), Submitted: len(submitted)}
	if len(submitted) == 0 {
		return result, nil
	}

	slots := make([]Pair, len(submitted))
	var unavailable bool
	var mu sync.Mutex

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(maxClassifyConcurrency)
	for i, cand := range submitted {
		i, cand := i, cand
		group.Go(func() error {
			verdict, cErr := e.classify.Classify(gctx, cand[0], cand[1])
			if cErr != nil {
				mu.Lock()
				unavailable = true
				mu.Unlock()
				slots[i] = Pair{EdgeA: cand[0], EdgeB: cand[1], Err: cErr}
				return nil
			}
			slots[i] = Pair{EdgeA: cand[0], EdgeB: cand[1], Verdict: verdict}
			return nil
		})
	}
	_ = group.Wait()

	result.ClassifierUnavailable = unavailable
	for _, p := range slots {
		if p.Err != nil {
			continue
		}
		result.Pairs = append(result.Pairs, p)
		if p.Verdict.ResolutionType == ckg.ResolutionNuance {
			if err := e.flagPendingReview(ctx, p); err != nil {
				return result, err
			}
			result.PendingReview = append(result.PendingReview, p)
		}
	}
	return result, nil
}

// Resolve implements resolve_dissonance (§4.6): it inserts a resolution
// hyperedge referencing both originals, never deleting either. AGM
// alignment (descriptive edges yield before constitutive; among
// descriptive, lower entrenchment yields) is enforced by the store.
func (e *Engine) Resolve(ctx context.Context, edgeAID, edgeBID int64, resolutionType ckg.ResolutionType, resolutionContext, resolvedBy string) (ckg.Edge, error) {
	return e.store.ResolveDissonance(ctx, edgeAID, edgeBID, resolutionType, resolutionContext, resolvedBy)
}

func (e *Engine) flagPendingReview(ctx context.Context, p Pair) error {
	_, err := e.store.WriteAudit(ctx, ckg.AuditEntry{
		EdgeID: &p.EdgeA.ID,
		Action: ckg.AuditActionFlagNuance,
		Actor:  "dissonance_engine",
		Properties: map[string]any{
			"edge_a":     p.EdgeA.ID,
			"edge_b":     p.EdgeB.ID,
			"confidence": p.Verdict.Confidence,
			"rationale":  p.Verdict.Rationale,
			"status":     "PENDING_IO_REVIEW",
		},
	})
	return err
}

func pairTouchesNode(a, b ckg.Edge, name string) bool {
	return a.SourceName == name || a.TargetName == name || b.TargetName == name
}

func isRecent(e ckg.Edge, cutoff time.Time) bool {
	return e.ModifiedAt.After(cutoff) || e.LastAccessed.After(cutoff)
}
