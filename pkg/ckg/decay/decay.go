// Package decay implements the Ebbinghaus-style memory-strength and
// relevance scoring of §4.4: a pure, sub-5ms-per-edge calculation driven by
// a per-sector {S_base, S_floor} table loaded once at startup.
package decay

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg"
)

// SectorParams holds the per-sector decay constants (§4.4).
type SectorParams struct {
	// SBase is the sector's base memory strength.
	SBase float64
	// SFloor is the minimum memory strength for the sector. A nil pointer
	// means no floor.
	SFloor *float64
}

// Table maps each sector to its decay parameters. All five sectors must be
// present; [DefaultTable] supplies the hardcoded fallback values.
type Table map[ckg.Sector]SectorParams

func floatPtr(f float64) *float64 { return &f }

// DefaultTable is the hardcoded configuration used when no decay
// configuration file is present or it fails validation (§4.4).
func DefaultTable() Table {
	return Table{
		ckg.SectorEmotional:  {SBase: 200, SFloor: floatPtr(150)},
		ckg.SectorEpisodic:   {SBase: 150, SFloor: floatPtr(100)},
		ckg.SectorSemantic:   {SBase: 100, SFloor: nil},
		ckg.SectorProcedural: {SBase: 120, SFloor: nil},
		ckg.SectorReflective: {SBase: 180, SFloor: floatPtr(120)},
	}
}

// Validate reports whether t carries an entry for every sector and every
// SBase is strictly positive, per §4.4 "mapping... loaded from disk at
// start" and §6's "5 sectors required".
func (t Table) Validate() error {
	for _, s := range []ckg.Sector{
		ckg.SectorEmotional, ckg.SectorEpisodic, ckg.SectorSemantic,
		ckg.SectorProcedural, ckg.SectorReflective,
	} {
		p, ok := t[s]
		if !ok {
			return ckg.NewError(ckg.KindInvalidArgument, "decay table missing sector").
				WithDetails(map[string]any{"sector": s})
		}
		if p.SBase <= 0 {
			return ckg.NewError(ckg.KindInvalidArgument, "decay table S_base must be positive").
				WithDetails(map[string]any{"sector": s, "s_base": p.SBase})
		}
		if p.SFloor != nil && *p.SFloor <= 0 {
			return ckg.NewError(ckg.KindInvalidArgument, "decay table S_floor must be positive when set").
				WithDetails(map[string]any{"sector": s, "s_floor": *p.SFloor})
		}
	}
	return nil
}

// Scorer computes memory strength and relevance score against a loaded
// [Table]. The zero value is not usable; construct with [NewScorer].
type Scorer struct {
	table Table
}

// NewScorer validates table and returns a Scorer, or falls back to
// [DefaultTable] with a logged warning if validation fails.
func NewScorer(ctx context.Context, table Table) *Scorer {
	if err := table.Validate(); err != nil {
		slog.WarnContext(ctx, "decay table invalid, falling back to defaults", "error", err)
		table = DefaultTable()
	}
	return &Scorer{table: table}
}

// Importance is the optional `properties.importance` override (§4.4).
type Importance string

const (
	ImportanceNone   Importance = ""
	ImportanceMedium Importance = "medium"
	ImportanceHigh   Importance = "high"
)

// MemoryStrength computes S for sector given accessCount and importance
// (§4.4):
//
//	S = S_base_sector * (1 + ln(1 + access_count))
//	if S_floor_sector != null: S = max(S, S_floor_sector)
//	if importance == "medium": S = max(S, 100)
//	if importance == "high":   S = max(S, 200)
func (s *Scorer) MemoryStrength(sector ckg.Sector, accessCount int64, importance Importance) float64 {
	params, ok := s.table[sector]
	if !ok {
		params = DefaultTable()[ckg.SectorSemantic]
	}
	if accessCount < 0 {
		accessCount = 0
	}
	strength := params.SBase * (1 + math.Log(1+float64(accessCount)))
	if params.SFloor != nil {
		strength = math.Max(strength, *params.SFloor)
	}
	switch importance {
	case ImportanceMedium:
		strength = math.Max(strength, 100)
	case ImportanceHigh:
		strength = math.Max(strength, 200)
	}
	return strength
}

// RelevanceScore computes relevance_score for an edge (§4.4). Constitutive
// edges short-circuit to 1.0 regardless of age or access history. The
// calculation is pure and logs its duration at debug level.
func (s *Scorer) RelevanceScore(ctx context.Context, edge ckg.Edge, now time.Time) float64 {
	start := time.Now()
	defer func() {
		slog.DebugContext(ctx, "relevance score computed", "edge_id", edge.ID, "duration", time.Since(start))
	}()

	if edge.IsConstitutive() {
		return 1.0
	}

	importance := ImportanceNone
	if v, ok := edge.Properties["importance"].(string); ok {
		importance = Importance(v)
	}

	strength := s.MemoryStrength(edge.Sector, edge.AccessCount, importance)
	daysSinceAccess := now.Sub(edge.LastAccessed).Hours() / 24
	if daysSinceAccess < 0 {
		daysSinceAccess = 0
	}
	return math.Exp(-daysSinceAccess / strength)
}
