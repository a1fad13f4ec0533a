package decay

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg"
)

func TestDefaultTable_Validates(t *testing.T) {
	if err := DefaultTable().Validate(); err != nil {
		t.Fatalf("DefaultTable().Validate() = %v, want nil", err)
	}
}

func TestTable_Validate_MissingSector(t *testing.T) {
	table := DefaultTable()
	delete(table, ckg.SectorProcedural)
	if err := table.Validate(); err == nil {
		t.Fatal("Validate() = nil, want error for missing sector")
	} else if ckg.KindOf(err) != ckg.KindInvalidArgument {
		t.Errorf("KindOf(err) = %v, want KindInvalidArgument", ckg.KindOf(err))
	}
}

func TestTable_Validate_NonPositiveSBase(t *testing.T) {
	table := DefaultTable()
	table[ckg.SectorSemantic] = SectorParams{SBase: 0}
	if err := table.Validate(); err == nil {
		t.Fatal("Validate() = nil, want error for non-positive S_base")
	}
}

func TestNewScorer_FallsBackOnInvalidTable(t *testing.T) {
	bad := Table{ckg.SectorSemantic: {SBase: -1}}
	s := NewScorer(context.Background(), bad)
	// Should have fallen back to defaults: semantic S_base=100.
	got := s.MemoryStrength(ckg.SectorSemantic, 0, ImportanceNone)
	if got != 100 {
		t.Errorf("MemoryStrength after fallback = %v, want 100", got)
	}
}

func TestMemoryStrength_AccessCountAndFloor(t *testing.T) {
	s := NewScorer(context.Background(), DefaultTable())

	// emotional: S_base=200, floor=150, access_count=0 -> 200*(1+ln(1))=200
	got := s.MemoryStrength(ckg.SectorEmotional, 0, ImportanceNone)
	want := 200.0
	if math.Abs(got-want) > 0.01 {
		t.Errorf("emotional S(0) = %v, want %v", got, want)
	}

	// semantic: no floor, high access count raises strength above floor-less base.
	got = s.MemoryStrength(ckg.SectorSemantic, 10, ImportanceNone)
	want = 100 * (1 + math.Log(11))
	if math.Abs(got-want) > 0.01 {
		t.Errorf("semantic S(10) = %v, want %v", got, want)
	}
}

func TestMemoryStrength_ImportanceOverride(t *testing.T) {
	s := NewScorer(context.Background(), DefaultTable())

	got := s.MemoryStrength(ckg.SectorSemantic, 0, ImportanceMedium)
	if got < 100 {
		t.Errorf("medium importance should floor at 100, got %v", got)
	}

	got = s.MemoryStrength(ckg.SectorSemantic, 0, ImportanceHigh)
	if got < 200 {
		t.Errorf("high importance should floor at 200, got %v", got)
	}
}

func TestRelevanceScore_DecayAcrossSectors(t *testing.T) {
	s := NewScorer(context.Background(), DefaultTable())
	now := time.Now()
	hundredDaysAgo := now.Add(-100 * 24 * time.Hour)

	emotional := ckg.Edge{
		Sector:       ckg.SectorEmotional,
		Properties:   map[string]any{},
		AccessCount:  0,
		LastAccessed: hundredDaysAgo,
	}
	semantic := ckg.Edge{
		Sector:       ckg.SectorSemantic,
		Properties:   map[string]any{},
		AccessCount:  0,
		LastAccessed: hundredDaysAgo,
	}

	gotEmotional := s.RelevanceScore(context.Background(), emotional, now)
	gotSemantic := s.RelevanceScore(context.Background(), semantic, now)

	if math.Abs(gotEmotional-0.606) > 0.01 {
		t.Errorf("emotional relevance_score = %v, want ~0.606", gotEmotional)
	}
	if math.Abs(gotSemantic-0.368) > 0.01 {
		t.Errorf("semantic relevance_score = %v, want ~0.368", gotSemantic)
	}
}

func TestRelevanceScore_ConstitutiveShortCircuits(t *testing.T) {
	s := NewScorer(context.Background(), DefaultTable())
	edge := ckg.Edge{
		Sector:       ckg.SectorSemantic,
		Properties:   map[string]any{"edge_type": "constitutive"},
		AccessCount:  0,
		LastAccessed: time.Now().Add(-1000 * 24 * time.Hour),
	}
	got := s.RelevanceScore(context.Background(), edge, time.Now())
	if got != 1.0 {
		t.Errorf("constitutive edge relevance_score = %v, want 1.0", got)
	}
}
