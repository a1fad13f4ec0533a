package ckg

import (
	"context"
	"time"
)

// GraphStore is the graph core: node/edge CRUD, constitutive-edge
// protection, sector reclassification, bounded traversal, and resolution
// hyperedges (§3, §4.5, §4.6).
//
// Mutating operations on a (label, name) or (source, target, relation) key
// behave as upserts, consistent with the teacher idiom this module is
// adapted from. Implementations must be safe for concurrent use.
type GraphStore interface {
	// AddNode upserts a node identified by (label, name).
	AddNode(ctx context.Context, label, name string, properties map[string]any) (Node, error)

	// GetNode retrieves a node by (label, name). Returns [ErrNotFound] when
	// absent.
	GetNode(ctx context.Context, label, name string) (Node, error)

	// AddEdge upserts an edge identified by (sourceName, targetName,
	// relation). weight and properties (including edge_type, which governs
	// [Edge.IsConstitutive]) are set on creation; on update only weight and
	// properties are refreshed — sector and entrenchment are left untouched
	// unless explicitly reclassified (§4.5 "idempotent upsert semantics").
	AddEdge(ctx context.Context, sourceName, targetName, relation string, weight float64, sector Sector, properties map[string]any) (Edge, error)

	// GetEdge retrieves an edge by (sourceName, targetName, relation).
	// Returns [ErrNotFound] when absent, or a [KindAmbiguous] error when more
	// than one edge matches (§4.5 "ambiguous match").
	GetEdge(ctx context.Context, sourceName, targetName, relation string) (Edge, error)

	// GetEdgeByID retrieves an edge by its surrogate ID.
	GetEdgeByID(ctx context.Context, edgeID int64) (Edge, error)

	// GetEdgeFuzzy resolves an edge between sourceName and targetName whose
	// relation approximately matches relation, falling back to lexical
	// similarity over candidate relations when no exact match exists
	// (reclassify_memory_sector's resolution step, §4.5, §7). Returns
	// [ErrNotFound] when no candidate clears the similarity threshold, or a
	// [KindAmbiguous] error carrying every clearing edge's ID when more than
	// one does.
	GetEdgeFuzzy(ctx context.Context, sourceName, targetName, relation string) (Edge, error)

	// DeleteEdge removes a non-constitutive edge. Deleting a constitutive
	// edge directly returns a [KindConstitutiveEdgeProtection] error and
	// records a blocked [AuditEntry]; constitutive edges may only be removed
	// through the self-modification framework's bilateral-consent path
	// (§3, §4.5, §4.7).
	DeleteEdge(ctx context.Context, edgeID int64, actor Actor) error

	// ForceDeleteEdge removes edgeID regardless of constitutive status. Only
	// the SMF executor, after bilateral consent has been recorded, may call
	// this (§4.7).
	ForceDeleteEdge(ctx context.Context, edgeID int64, actor Actor) error

	// ReclassifyEdge changes edgeID's sector and appends a [Reclassification]
	// record. Returns the edge's prior sector.
	ReclassifyEdge(ctx context.Context, edgeID int64, newSector Sector, actor Actor) (Sector, error)

	// TouchEdge records an access against edgeID: increments AccessCount and
	// sets LastAccessed to now, per the TGN (temporal-graph-network) update
	// rule that every read-path hit refreshes decay state (§4.4, §4.5).
	TouchEdge(ctx context.Context, edgeID int64) error

	// Neighbors performs bounded traversal from nodeName (query_neighbors,
	// §4.5). Results exclude superseded edges unless
	// [WithIncludeSuperseded] is set.
	Neighbors(ctx context.Context, nodeName string, opts ...NeighborOpt) ([]Edge, error)

	// FindPath searches for the shortest path(s) between two nodes
	// (find_path, §4.5), bounded by [PathOpt] depth/count/time limits.
	FindPath(ctx context.Context, fromName, toName string, opts ...PathOpt) (PathResult, error)

	// ResolveDissonance creates a resolution hyperedge over edgeAID and
	// edgeBID (§3, §4.6). For EVOLUTION and CONTRADICTION the losing edge is
	// marked superseded (not deleted); for NUANCE both edges remain active
	// and the hyperedge records the disambiguating context.
	ResolveDissonance(ctx context.Context, edgeAID, edgeBID int64, resolutionType ResolutionType, context string, resolvedBy string) (Edge, error)

	// ListCandidateConflicts returns pairs of active edges sharing a source
	// node and relation but disagreeing on target or weight, bounded to at
	// most limit pairs, for the dissonance engine's enumeration step
	// (§4.6). Resolution hyperedges and already-superseded edges are
	// excluded.
	ListCandidateConflicts(ctx context.Context, limit int) ([][2]Edge, error)

	// CountByType returns the number of nodes carrying each label
	// (count_by_type) — e.g. {"person": 12, "place": 4} — the node's label
	// being this store's notion of entity type.
	CountByType(ctx context.Context) (map[string]int, error)
}

// AuditStore persists the append-only audit log of every mutation attempt,
// successful or blocked (§3, §4.5).
type AuditStore interface {
	// WriteAudit appends entry and returns its assigned ID.
	WriteAudit(ctx context.Context, entry AuditEntry) (int64, error)

	// ListAudit returns audit entries for edgeID in chronological order. A
	// nil edgeID lists entries across all edges.
	ListAudit(ctx context.Context, edgeID *int64, limit int) ([]AuditEntry, error)
}

// RawDialogueStore is the L0 memory layer: an append-only transcript log
// (§3 "Raw Dialogue (L0)").
type RawDialogueStore interface {
	// AppendDialogue records one raw conversational turn.
	AppendDialogue(ctx context.Context, sessionID, speaker, text string) (RawDialogueEntry, error)

	// ListDialogue returns entries for sessionID recorded within [since, now],
	// in chronological order.
	ListDialogue(ctx context.Context, sessionID string, since time.Time) ([]RawDialogueEntry, error)
}

// InsightStore is the L2 memory layer: compressed, embedded insights derived
// from L0 dialogue, with soft-delete and revision history (§3, §4.10).
type InsightStore interface {
	// CompressToInsight creates an Insight from the given source dialogue
	// entries (compress_to_l2_insight, §4.10).
	CompressToInsight(ctx context.Context, sessionID string, sector Sector, content string, embedding []float32, sourceEntryIDs []int64, tags []string) (Insight, error)

	// GetInsight retrieves an insight by ID, soft-deleted or not.
	GetInsight(ctx context.Context, insightID int64) (Insight, error)

	// UpdateInsight appends a new [InsightRevision] capturing the prior and
	// new content/memory_strength, reason, and actor (update_insight,
	// §4.10). content is the new revision text; a nil newMemoryStrength
	// leaves the insight's memory_strength untouched, otherwise it is
	// overwritten. The mutation and its revision row commit atomically.
	// Secondary actors must route through the SMF instead; this method
	// performs the direct write once consent is established.
	UpdateInsight(ctx context.Context, insightID int64, content string, newMemoryStrength *float64, actor Actor, reason string, proposalID *int64) (Insight, error)

	// DeleteInsight soft-deletes an insight (delete_insight, §4.10):
	// DeletedAt/DeletedBy/DeleteReason are set, Content and history remain
	// queryable by ID but excluded from default retrieval. A DELETE-action
	// [InsightRevision] is appended in the same transaction as the
	// soft-delete (§8 "exactly one l2_insight_history row").
	DeleteInsight(ctx context.Context, insightID int64, actor Actor, reason string) error

	// ListInsightRevisions returns the revision history of insightID in
	// chronological order.
	ListInsightRevisions(ctx context.Context, insightID int64) ([]InsightRevision, error)

	// ListInsights returns sessionID's non-deleted insights, newest first,
	// optionally narrowed to sector when sector is non-empty (list_insights).
	ListInsights(ctx context.Context, sessionID string, sector Sector) ([]Insight, error)

	// SearchSemantic returns the topK insights whose embeddings are closest
	// (cosine distance) to embedding, subject to opts' pre-filters
	// (§4.9 semantic leg).
	SearchSemantic(ctx context.Context, embedding []float32, opts ResolvedSearchConfig) ([]InsightResult, error)

	// SearchLexical returns insights matching query via full-text search,
	// ranked by ts_rank, subject to opts' pre-filters (§4.9 lexical leg).
	SearchLexical(ctx context.Context, query string, opts ResolvedSearchConfig) ([]InsightResult, error)
}

// InsightResult pairs a retrieved insight with its per-leg retrieval score.
// Score's interpretation (cosine distance, ts_rank, or RRF-fused rank) is
// leg-dependent; callers should use [InsightResult.Insight.ID] for fusion,
// not Score directly across legs.
type InsightResult struct {
	Insight Insight
	Score   float64
}

// WorkingMemoryStore manages the bounded per-session LRU working set and its
// overflow into stale memory (§3, §4.10).
type WorkingMemoryStore interface {
	// Touch records access to insightID within sessionID, refreshing its
	// working-memory slot (creating one if absent) and evicting the least
	// recently accessed unprotected entry if capacity is exceeded.
	// Entries with Importance > 0.8 are protected from eviction (§4.10).
	Touch(ctx context.Context, sessionID string, insightID int64, importance float64, capacity int) error

	// ListWorkingMemory returns the current working-memory set for
	// sessionID, most recently accessed first.
	ListWorkingMemory(ctx context.Context, sessionID string) ([]WorkingMemoryEntry, error)

	// ListStaleMemory returns entries evicted from sessionID's working
	// memory, most recently evicted first.
	ListStaleMemory(ctx context.Context, sessionID string) ([]StaleMemoryEntry, error)
}

// EpisodeStore persists bounded narrative units spanning multiple dialogue
// turns (§3 "Episode memory").
type EpisodeStore interface {
	// StoreEpisode upserts an episode.
	StoreEpisode(ctx context.Context, ep Episode) (Episode, error)

	// ListEpisodes returns episodes for sessionID overlapping [since, now].
	ListEpisodes(ctx context.Context, sessionID string, since time.Time) ([]Episode, error)

	// SearchEpisodes returns the topK episodes whose embeddings are closest
	// to embedding.
	SearchEpisodes(ctx context.Context, embedding []float32, topK int) ([]Episode, error)
}

// SMFStore persists self-modification proposals through their lifecycle
// (§3, §4.7).
type SMFStore interface {
	// CreateProposal inserts a new pending proposal.
	CreateProposal(ctx context.Context, p Proposal) (Proposal, error)

	// GetProposal retrieves a proposal by ID.
	GetProposal(ctx context.Context, id int64) (Proposal, error)

	// ListPendingProposals returns all proposals awaiting consent, oldest
	// first.
	ListPendingProposals(ctx context.Context) ([]Proposal, error)

	// RecordConsent marks actor's consent on proposal id and returns the
	// updated record. When every required consent has been recorded the
	// store transitions Status to [ProposalApproved].
	RecordConsent(ctx context.Context, id int64, actor Actor) (Proposal, error)

	// RejectProposal marks proposal id as rejected.
	RejectProposal(ctx context.Context, id int64, reason string) (Proposal, error)

	// ExpirePendingProposals transitions every pending proposal past its
	// ExpiresAt to [ProposalTimedOut] and returns the affected IDs.
	ExpirePendingProposals(ctx context.Context, now time.Time) ([]int64, error)

	// MarkUndone marks an approved proposal as undone.
	MarkUndone(ctx context.Context, id int64, undoProposalID int64) (Proposal, error)
}

// FeedbackStore accumulates IEF judge feedback until the recalibration
// threshold is reached (§4.8, §6).
type FeedbackStore interface {
	// RecordFeedback appends f and returns the count of feedback rows
	// accumulated since the last recalibration.
	RecordFeedback(ctx context.Context, f Feedback) (countSinceRecalibration int, err error)

	// ListFeedbackSinceRecalibration returns every feedback row accumulated
	// since the last recalibration marker.
	ListFeedbackSinceRecalibration(ctx context.Context) ([]Feedback, error)

	// MarkRecalibrated resets the recalibration counter, called once the IEF
	// has consumed the accumulated feedback to adjust its weights.
	MarkRecalibrated(ctx context.Context) error
}

// Store composes every CKG storage concern into the single handle the
// engine wires against. A concrete backend (e.g. pkg/ckg/postgres) need only
// satisfy this interface once.
type Store interface {
	GraphStore
	AuditStore
	RawDialogueStore
	InsightStore
	WorkingMemoryStore
	EpisodeStore
	SMFStore
	FeedbackStore
}
