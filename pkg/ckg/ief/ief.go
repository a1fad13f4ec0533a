// Package ief implements the Integrative Evaluation Function of §4.8: a
// value-weighted re-ranker that layers sector-relevance, semantic
// similarity, recency, and a constitutive-edge weight on top of raw
// retrieval rank, flags conflicts against a context node's constitutive
// edges, and recalibrates its constitutive weight from accumulated judge
// feedback.
package ief

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg/decay"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/oracle/judge"
)

const (
	// WMinConstitutive is the hard floor on constitutive_weight (§4.8).
	WMinConstitutive = 1.5
	// wMaxConstitutive bounds recalibration so a long run of positive
	// feedback cannot inflate the weight without limit; §4.8 gives no upper
	// bound explicitly, so this is a conservative ceiling.
	wMaxConstitutive = 5.0

	// RecalibrationThreshold is the number of unlabeled feedback rows that
	// triggers a constitutive-weight recalibration (§4.8, §6).
	RecalibrationThreshold = 50

	weightRelevance  = 0.30
	weightSemantic   = 0.25
	weightRecency    = 0.20
	weightConstitutive = 0.25

	recencyHalfLifeDays = 14.0
	recalibrationStep   = 0.10
)

// Candidate is one scored-retrieval input to the IEF (§4.8). Edge is the
// graph edge backing the candidate, when one exists (an edge-linked insight
// or an edge returned directly by the graph leg of hybrid retrieval); its
// zero value is valid and yields relevance/constitutive terms of 0/1.0.
type Candidate struct {
	ID int64
	Edge ckg.Edge
	// SemanticDistance is the pgvector cosine distance (range [0,2]) between
	// the query embedding and the candidate's own embedding, as already
	// computed by the semantic retrieval leg.
	SemanticDistance float64
}

// Engine scores and re-ranks retrieval candidates and accumulates judge
// feedback toward the next constitutive-weight recalibration.
type Engine struct {
	store  ckg.Store
	judge  judge.Evaluator
	scorer *decay.Scorer

	mu                 sync.RWMutex
	constitutiveWeight float64
}

// New constructs an Engine. configConstitutiveWeight is the cold-loaded
// starting weight (§6); it is clamped to [WMinConstitutive, wMaxConstitutive]
// before first use.
func New(store ckg.Store, evaluator judge.Evaluator, scorer *decay.Scorer, configConstitutiveWeight float64) *Engine {
	return &Engine{
		store:              store,
		judge:              evaluator,
		scorer:             scorer,
		constitutiveWeight: clampWeight(configConstitutiveWeight),
	}
}

// ConstitutiveWeight returns the currently active constitutive_weight value.
func (e *Engine) ConstitutiveWeight() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.constitutiveWeight
}

// Score computes each candidate's [ckg.IEFScore] against contextConstitutive
// — context_node's constitutive edges, used for both the constitutive_weight
// term and the per-candidate dissonance sub-check — and returns them sorted
// by Total descending (§4.8).
func (e *Engine) Score(ctx context.Context, candidates []Candidate, contextConstitutive []ckg.Edge, now time.Time) []ckg.IEFScore {
	weight := e.ConstitutiveWeight()
	scores := make([]ckg.IEFScore, 0, len(candidates))
	for _, c := range candidates {
		s := ckg.IEFScore{CandidateID: c.ID}
		s.Relevance = e.scorer.RelevanceScore(ctx, c.Edge, now)
		s.SemanticSimilarity = semanticSimilarity(c.SemanticDistance)
		s.Recency = recencyScore(c.Edge.LastAccessed, now)
		s.ConstitutiveWeight = constitutiveWeightFor(c.Edge, contextConstitutive, weight)
		s.Total = weightRelevance*s.Relevance +
			weightSemantic*s.SemanticSimilarity +
			weightRecency*s.Recency +
			weightConstitutive*s.ConstitutiveWeight

		if conflict, reason := dissonanceSubCheck(c.Edge, contextConstitutive); conflict {
			s.ConflictFlagged = true
			s.ConflictReason = reason
		}
		scores = append(scores, s)
	}

	sortScoresDescending(scores)
	return scores
}

// RecordFeedback implements the out-of-band feedback leg of §4.8: it scores
// the query/context/answer triple with the judge oracle, persists the
// result, and triggers recalibration once RecalibrationThreshold unlabeled
// rows have accumulated.
func (e *Engine) RecordFeedback(ctx context.Context, query, retrievedContext, answer string) (ckg.Feedback, error) {
	verdict, err := e.judge.Evaluate(ctx, query, retrievedContext, answer)
	if err != nil {
		return ckg.Feedback{}, fmt.Errorf("ief: record feedback: evaluate: %w", err)
	}

	count, err := e.store.RecordFeedback(ctx, ckg.Feedback{
		Query:            query,
		RetrievedContext: retrievedContext,
		Answer:           answer,
		Reward:           verdict.Reward,
		Reasoning:        verdict.Reasoning,
	})
	if err != nil {
		return ckg.Feedback{}, fmt.Errorf("ief: record feedback: %w", err)
	}

	if count >= RecalibrationThreshold {
		if err := e.recalibrate(ctx); err != nil {
			return ckg.Feedback{}, fmt.Errorf("ief: recalibrate: %w", err)
		}
	}
	return ckg.Feedback{Query: query, RetrievedContext: retrievedContext, Answer: answer, Reward: verdict.Reward, Reasoning: verdict.Reasoning}, nil
}

// recalibrate implements §4.8's ICAI-style weight update: it nudges
// constitutive_weight toward rewarding candidates that scored above the
// midpoint of the judge's [0,1] reward range, proportionally to how far the
// accumulated helpful-rate sits from 0.5, then clamps to the configured
// bounds and resets the recalibration counter.
func (e *Engine) recalibrate(ctx context.Context) error {
	feedback, err := e.store.ListFeedbackSinceRecalibration(ctx)
	if err != nil {
		return err
	}
	if len(feedback) == 0 {
		return e.store.MarkRecalibrated(ctx)
	}

	helpful := 0
	for _, f := range feedback {
		if f.Reward > 0.5 {
			helpful++
		}
	}
	helpfulRate := float64(helpful) / float64(len(feedback))

	e.mu.Lock()
	e.constitutiveWeight = clampWeight(e.constitutiveWeight * (1 + recalibrationStep*(helpfulRate-0.5)))
	e.mu.Unlock()

	return e.store.MarkRecalibrated(ctx)
}

func clampWeight(w float64) float64 {
	if w < WMinConstitutive {
		return WMinConstitutive
	}
	if w > wMaxConstitutive {
		return wMaxConstitutive
	}
	return w
}

// semanticSimilarity converts a pgvector cosine distance (range [0,2]) into
// a [0,1] similarity score.
func semanticSimilarity(distance float64) float64 {
	sim := 1 - distance
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

func recencyScore(lastAccessed, now time.Time) float64 {
	days := now.Sub(lastAccessed).Hours() / 24
	if days < 0 {
		days = 0
	}
	return math.Exp(-days / recencyHalfLifeDays)
}

// constitutiveWeightFor reports §4.8's constitutive_weight term: weight if
// edge shares an endpoint with one of contextConstitutive, else 1.0.
func constitutiveWeightFor(edge ckg.Edge, contextConstitutive []ckg.Edge, weight float64) float64 {
	if touchesAny(edge, contextConstitutive) {
		return math.Max(WMinConstitutive, weight)
	}
	return 1.0
}

// dissonanceSubCheck reports whether edge disagrees with any of
// contextConstitutive on the same (source, relation) pair but a different
// target or weight — the same conflict shape the dissonance engine
// enumerates (§4.6), scoped here to a single context node's identity edges.
func dissonanceSubCheck(edge ckg.Edge, contextConstitutive []ckg.Edge) (bool, string) {
	for _, c := range contextConstitutive {
		if c.ID == edge.ID {
			continue
		}
		if c.SourceName != edge.SourceName || c.Relation != edge.Relation {
			continue
		}
		if c.TargetName != edge.TargetName || c.Weight != edge.Weight {
			return true, fmt.Sprintf("disagrees with constitutive edge %d (%s %s %s)", c.ID, c.SourceName, c.Relation, c.TargetName)
		}
	}
	return false, ""
}

func touchesAny(edge ckg.Edge, edges []ckg.Edge) bool {
	for _, c := range edges {
		if edge.SourceName == c.SourceName || edge.SourceName == c.TargetName ||
			edge.TargetName == c.SourceName || edge.TargetName == c.TargetName {
			return true
		}
	}
	return false
}

func sortScoresDescending(scores []ckg.IEFScore) {
	for i := 1; i < len(scores); i++ {
		for j := i; j > 0 && scores[j].Total > scores[j-1].Total; j-- {
			scores[j], scores[j-1] = scores[j-1], scores[j]
		}
	}
}
