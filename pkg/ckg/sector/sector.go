// Package sector implements the pure edge-sector classifier (§4.3): a
// deterministic, I/O-free function from (relation, properties) to a
// [ckg.Sector].
package sector

import (
	"context"
	"log/slog"

	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg"
)

// defaultMaxRulesPerSector bounds how many custom rules [Classifier] accepts
// per sector, keeping classification latency bounded regardless of
// configuration size.
const defaultMaxRulesPerSector = 50

// procedural relations trigger rule 3; reflective relations trigger rule 4.
var proceduralRelations = map[string]bool{
	"LEARNED": true,
	"CAN_DO":  true,
}

var reflectiveRelations = map[string]bool{
	"REFLECTS": true,
	"REALIZED": true,
}

// Classifier evaluates the ordered rule set. It holds no mutable state
// beyond its configured rule cap. A zero-value Classifier classifies
// normally but reports a rule cap of 0; [New] applies the default cap.
type Classifier struct {
	maxRulesPerSector int
}

// New constructs a Classifier. maxRulesPerSector <= 0 uses the default cap
// of 50.
func New(maxRulesPerSector int) *Classifier {
	if maxRulesPerSector <= 0 {
		maxRulesPerSector = defaultMaxRulesPerSector
	}
	return &Classifier{maxRulesPerSector: maxRulesPerSector}
}

// Classify applies the five ordered rules, first match wins, and logs the
// triggering rule at debug level. It performs no I/O and completes in
// constant time.
func (c *Classifier) Classify(ctx context.Context, relation string, properties map[string]any) ckg.Sector {
	if _, ok := properties["emotional_valence"]; ok {
		slog.DebugContext(ctx, "sector classified", "rule", 1, "relation", relation, "sector", ckg.SectorEmotional)
		return ckg.SectorEmotional
	}
	if ctxType, _ := properties["context_type"].(string); ctxType == "shared_experience" {
		slog.DebugContext(ctx, "sector classified", "rule", 2, "relation", relation, "sector", ckg.SectorEpisodic)
		return ckg.SectorEpisodic
	}
	if proceduralRelations[relation] {
		slog.DebugContext(ctx, "sector classified", "rule", 3, "relation", relation, "sector", ckg.SectorProcedural)
		return ckg.SectorProcedural
	}
	if reflectiveRelations[relation] {
		slog.DebugContext(ctx, "sector classified", "rule", 4, "relation", relation, "sector", ckg.SectorReflective)
		return ckg.SectorReflective
	}
	slog.DebugContext(ctx, "sector classified", "rule", 5, "relation", relation, "sector", ckg.SectorSemantic)
	return ckg.SectorSemantic
}

// MaxRulesPerSector returns the configured cap, for configuration validation
// that checks a loaded rule table doesn't exceed it.
func (c *Classifier) MaxRulesPerSector() int {
	return c.maxRulesPerSector
}
