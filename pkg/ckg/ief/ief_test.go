package ief_test

import (
	"context"
	"testing"
	"time"

	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg/decay"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg/ief"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/oracle/judge"
	judgemock "github.com/ethrdev/cognitive-memory-sub004/pkg/oracle/judge/mock"
)

// fakeFeedbackStore overrides only the [ckg.Store] methods the IEF engine uses.
type fakeFeedbackStore struct {
	ckg.Store

	recorded       []ckg.Feedback
	countToReturn  int
	recalibrated   bool
}

func (f *fakeFeedbackStore) RecordFeedback(ctx context.Context, fb ckg.Feedback) (int, error) {
	f.recorded = append(f.recorded, fb)
	return f.countToReturn, nil
}

func (f *fakeFeedbackStore) ListFeedbackSinceRecalibration(ctx context.Context) ([]ckg.Feedback, error) {
	return f.recorded, nil
}

func (f *fakeFeedbackStore) MarkRecalibrated(ctx context.Context) error {
	f.recalibrated = true
	f.recorded = nil
	return nil
}

func newScorer() *decay.Scorer {
	return decay.NewScorer(context.Background(), decay.DefaultTable())
}

func TestScore_ConstitutiveCandidateGetsFullRelevance(t *testing.T) {
	store := &fakeFeedbackStore{}
	engine := ief.New(store, &judgemock.Evaluator{}, newScorer(), 2.0)

	now := time.Now()
	candidate := ief.Candidate{
		ID:               1,
		Edge:             ckg.Edge{ID: 5, SourceName: "Ava", TargetName: "Identity", Properties: map[string]any{"edge_type": "constitutive"}, LastAccessed: now},
		SemanticDistance: 0.2,
	}

	scores := engine.Score(context.Background(), []ief.Candidate{candidate}, nil, now)
	if len(scores) != 1 {
		t.Fatalf("expected 1 score, got %d", len(scores))
	}
	if scores[0].Relevance != 1.0 {
		t.Fatalf("expected constitutive edge relevance 1.0, got %v", scores[0].Relevance)
	}
	if scores[0].SemanticSimilarity <= 0.7 || scores[0].SemanticSimilarity > 1.0 {
		t.Fatalf("unexpected semantic similarity %v", scores[0].SemanticSimilarity)
	}
}

func TestScore_TouchingContextConstitutiveBoostsWeight(t *testing.T) {
	store := &fakeFeedbackStore{}
	engine := ief.New(store, &judgemock.Evaluator{}, newScorer(), 2.0)

	now := time.Now()
	contextConstitutive := []ckg.Edge{{ID: 1, SourceName: "Ava", TargetName: "Vegetarian", Relation: "IS", Properties: map[string]any{"edge_type": "constitutive"}}}
	touching := ief.Candidate{ID: 2, Edge: ckg.Edge{ID: 2, SourceName: "Ava", TargetName: "Tofu", Relation: "LIKES", LastAccessed: now}}
	distant := ief.Candidate{ID: 3, Edge: ckg.Edge{ID: 3, SourceName: "Marco", TargetName: "Pizza", Relation: "LIKES", LastAccessed: now}}

	scores := engine.Score(context.Background(), []ief.Candidate{touching, distant}, contextConstitutive, now)

	var touchingScore, distantScore ckg.IEFScore
	for _, s := range scores {
		if s.CandidateID == 2 {
			touchingScore = s
		} else {
			distantScore = s
		}
	}
	if touchingScore.ConstitutiveWeight != 2.0 {
		t.Fatalf("expected touching candidate weight 2.0, got %v", touchingScore.ConstitutiveWeight)
	}
	if distantScore.ConstitutiveWeight != 1.0 {
		t.Fatalf("expected distant candidate weight 1.0, got %v", distantScore.ConstitutiveWeight)
	}
}

func TestScore_FlagsConflictAgainstContextConstitutive(t *testing.T) {
	store := &fakeFeedbackStore{}
	engine := ief.New(store, &judgemock.Evaluator{}, newScorer(), 2.0)

	now := time.Now()
	contextConstitutive := []ckg.Edge{{ID: 1, SourceName: "Ava", TargetName: "Vegetarian", Relation: "IS"}}
	conflicting := ief.Candidate{ID: 2, Edge: ckg.Edge{ID: 2, SourceName: "Ava", TargetName: "Carnivore", Relation: "IS", LastAccessed: now}}

	scores := engine.Score(context.Background(), []ief.Candidate{conflicting}, contextConstitutive, now)
	if !scores[0].ConflictFlagged {
		t.Fatalf("expected conflict flagged, got %+v", scores[0])
	}
}

func TestScore_SortsDescendingByTotal(t *testing.T) {
	store := &fakeFeedbackStore{}
	engine := ief.New(store, &judgemock.Evaluator{}, newScorer(), 2.0)

	now := time.Now()
	stale := ief.Candidate{ID: 1, Edge: ckg.Edge{ID: 1, SourceName: "Ava", TargetName: "Old", LastAccessed: now.Add(-365 * 24 * time.Hour)}, SemanticDistance: 1.5}
	fresh := ief.Candidate{ID: 2, Edge: ckg.Edge{ID: 2, SourceName: "Ava", TargetName: "New", LastAccessed: now}, SemanticDistance: 0.1}

	scores := engine.Score(context.Background(), []ief.Candidate{stale, fresh}, nil, now)
	if scores[0].CandidateID != 2 {
		t.Fatalf("expected fresher candidate ranked first, got order %+v", scores)
	}
}

func TestRecordFeedback_TriggersRecalibrationAtThreshold(t *testing.T) {
	store := &fakeFeedbackStore{countToReturn: ief.RecalibrationThreshold}
	store.recorded = make([]ckg.Feedback, 0, ief.RecalibrationThreshold)
	for i := 0; i < ief.RecalibrationThreshold-1; i++ {
		store.recorded = append(store.recorded, ckg.Feedback{Reward: 0.9})
	}
	mockJudge := &judgemock.Evaluator{Verdict: judge.Verdict{Reward: 0.9, Reasoning: "clear, grounded answer"}}
	engine := ief.New(store, mockJudge, newScorer(), ief.WMinConstitutive)

	before := engine.ConstitutiveWeight()
	_, err := engine.RecordFeedback(context.Background(), "what does Ava like?", "Ava likes tofu", "Ava likes tofu")
	if err != nil {
		t.Fatalf("RecordFeedback: %v", err)
	}
	if !store.recalibrated {
		t.Fatalf("expected recalibration to run at threshold")
	}
	if engine.ConstitutiveWeight() <= before {
		t.Fatalf("expected constitutive weight to increase after mostly-helpful feedback, before=%v after=%v", before, engine.ConstitutiveWeight())
	}
}

func TestRecordFeedback_SkipsRecalibrationBelowThreshold(t *testing.T) {
	store := &fakeFeedbackStore{countToReturn: 3}
	mockJudge := &judgemock.Evaluator{Verdict: judge.Verdict{Reward: 0.9}}
	engine := ief.New(store, mockJudge, newScorer(), 2.0)

	if _, err := engine.RecordFeedback(context.Background(), "q", "ctx", "a"); err != nil {
		t.Fatalf("RecordFeedback: %v", err)
	}
	if store.recalibrated {
		t.Fatalf("expected no recalibration below threshold")
	}
}

func TestNew_ClampsStartingWeightToFloor(t *testing.T) {
	store := &fakeFeedbackStore{}
	engine := ief.New(store, &judgemock.Evaluator{}, newScorer(), 0.5)
	if engine.ConstitutiveWeight() != ief.WMinConstitutive {
		t.Fatalf("expected weight clamped to floor %v, got %v", ief.WMinConstitutive, engine.ConstitutiveWeight())
	}
}
