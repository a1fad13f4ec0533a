// Package ckg defines the core constitutive-knowledge-graph domain model:
// nodes, edges, resolution hyperedges, sectors, and the store interfaces that
// the graph core, dissonance engine, SMF, and hybrid retrieval are built on.
//
// In-memory representations carry surrogate IDs, not back-pointers (§9
// "avoid cycles in ownership") — everything lives in the store.
package ckg

import "time"

// Sector is the closed memory-sector enum governing decay parameters (§3, §4.3).
type Sector string

const (
	SectorEmotional  Sector = "emotional"
	SectorEpisodic   Sector = "episodic"
	SectorSemantic   Sector = "semantic"
	SectorProcedural Sector = "procedural"
	SectorReflective Sector = "reflective"
)

// IsValid reports whether s is one of the five recognised sectors.
func (s Sector) IsValid() bool {
	switch s {
	case SectorEmotional, SectorEpisodic, SectorSemantic, SectorProcedural, SectorReflective:
		return true
	default:
		return false
	}
}

// EntrenchmentLevel is the AGM-aligned tie-breaker used by the dissonance
// engine when choosing which edge yields in a contradiction (§4.6, GLOSSARY).
type EntrenchmentLevel string

const (
	EntrenchmentDefault EntrenchmentLevel = "default"
	EntrenchmentMaximal EntrenchmentLevel = "maximal"
)

// ResolutionType classifies a resolution hyperedge (§3, §4.6).
type ResolutionType string

const (
	ResolutionEvolution    ResolutionType = "EVOLUTION"
	ResolutionContradiction ResolutionType = "CONTRADICTION"
	ResolutionNuance       ResolutionType = "NUANCE"
)

// IsValid reports whether t is one of the three recognised resolution types.
func (t ResolutionType) IsValid() bool {
	switch t {
	case ResolutionEvolution, ResolutionContradiction, ResolutionNuance:
		return true
	default:
		return false
	}
}

// Node is a stable, uniquely-addressable graph vertex (§3). Identity is the
// surrogate ID; (Label, Name) is a second, unique, name-based key used for
// idempotent upsert.
type Node struct {
	ID         int64
	Label      string
	Name       string
	Properties map[string]any
	VectorID   *int64
	CreatedAt  time.Time
}

// Reclassification records the most recent sector change applied to an edge
// (§4.5 "Classification round-trip").
type Reclassification struct {
	FromSector Sector    `json:"from_sector"`
	ToSector   Sector    `json:"to_sector"`
	Actor      string    `json:"actor"`
	At         time.Time `json:"at"`
}

// Edge is a typed, weighted, directed relation between two nodes (§3).
//
// IsConstitutive is derived, not stored independently: it is true exactly
// when Properties["edge_type"] == "constitutive". A constitutive edge always
// carries Entrenchment == EntrenchmentMaximal and is exempt from decay.
type Edge struct {
	ID         int64
	SourceID   int64
	TargetID   int64
	Relation   string
	Weight     float64
	Properties map[string]any

	Sector        Sector
	Entrenchment  EntrenchmentLevel

	CreatedAt        time.Time
	ModifiedAt       time.Time
	LastAccessed     time.Time
	AccessCount      int64
	LastReclassification *Reclassification

	// Denormalized read-path conveniences populated by some queries (neighbor
	// traversal, path-finding); zero-valued when not applicable.
	Distance int
	SourceName string
	TargetName string
}

// IsConstitutive reports whether e is identity-defining per §3's derived
// semantics.
func (e Edge) IsConstitutive() bool {
	if e.Properties == nil {
		return false
	}
	v, _ := e.Properties["edge_type"].(string)
	return v == "constitutive"
}

// IsResolution reports whether e is a resolution hyperedge (§3: "modeled as
// an edge with properties.edge_type = \"resolution\"").
func (e Edge) IsResolution() bool {
	if e.Properties == nil {
		return false
	}
	v, _ := e.Properties["edge_type"].(string)
	return v == "resolution"
}

// ResolutionDetail unpacks the resolution-hyperedge-specific properties of an
// edge for which IsResolution() is true (§3).
type ResolutionDetail struct {
	ResolutionType ResolutionType
	Supersedes     []int64
	SupersededBy   []int64
	Context        string
	ResolvedAt     time.Time
	ResolvedBy     string
}

// AuditAction enumerates the mutation kinds recorded to the audit log (§3, §4.5).
type AuditAction string

const (
	AuditActionAddNode           AuditAction = "ADD_NODE"
	AuditActionAddEdge           AuditAction = "ADD_EDGE"
	AuditActionDeleteEdge        AuditAction = "DELETE_EDGE"
	AuditActionReclassify        AuditAction = "RECLASSIFY"
	AuditActionResolveDissonance AuditAction = "RESOLVE_DISSONANCE"
	AuditActionFlagNuance        AuditAction = "FLAG_NUANCE_REVIEW"
	AuditActionSMFExecute        AuditAction = "SMF_EXECUTE"
	AuditActionSMFUndo           AuditAction = "SMF_UNDO"
)

// AuditEntry is an append-only record of a mutation attempt, successful or
// blocked (§3, §4.5 "All delete attempts... emit an audit entry").
type AuditEntry struct {
	ID         int64
	EdgeID     *int64
	Action     AuditAction
	Blocked    bool
	Reason     string
	Actor      string
	Properties map[string]any
	CreatedAt  time.Time
}

// Actor identifies which party performed or consented to an action (§3, §4.7).
type Actor string

const (
	ActorPrimary   Actor = "primary"
	ActorSecondary Actor = "secondary"
)
