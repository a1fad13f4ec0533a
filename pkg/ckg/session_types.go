package ckg

import "time"

// RawDialogueEntry is one append-only L0 record of a raw conversational turn
// (§3 "Raw Dialogue (L0)"). L0 is never summarized away; it is the permanent
// substrate compress_to_l2_insight reads from.
type RawDialogueEntry struct {
	ID        int64
	SessionID string
	Speaker   string
	Text      string
	CreatedAt time.Time
}

// Insight is an L2 compressed memory distilled from one or more L0 entries
// (§3 "Insight (L2)"). Insights are soft-deleted, never hard-deleted, so that
// update_insight/delete_insight never erase history (§4.10, §9 "append-only
// history").
type Insight struct {
	ID            int64
	SessionID     string
	Sector        Sector
	Content       string
	Embedding     []float32
	SourceEntryIDs []int64
	MemoryStrength float64
	Tags          []string

	DeletedAt *time.Time
	DeletedBy string
	DeleteReason string

	CreatedAt  time.Time
	ModifiedAt time.Time
}

// IsDeleted reports whether the insight has been soft-deleted.
func (i Insight) IsDeleted() bool { return i.DeletedAt != nil }

// RevisionAction distinguishes an insight_revisions row produced by
// update_insight from one produced by delete_insight (§4.10, §8 "exactly one
// l2_insight_history row ... with matching (insight_id, action)").
type RevisionAction string

const (
	RevisionActionUpdate RevisionAction = "UPDATE"
	RevisionActionDelete RevisionAction = "DELETE"
)

// InsightRevision is one entry in an insight's edit history (§4.10
// "update_insight... appends a revision, does not overwrite"). Reason is
// required on every row, matching the validation update_insight/delete_insight
// perform before calling the store.
type InsightRevision struct {
	ID                int64
	InsightID         int64
	Action            RevisionAction
	OldContent        string
	NewContent        string
	OldMemoryStrength float64
	NewMemoryStrength float64
	Reason            string
	Actor             string
	ProposalID        *int64
	CreatedAt         time.Time
}

// WorkingMemoryEntry is one slot of a session's bounded LRU working set
// (§3 "Working Memory"). Entries with Importance > 0.8 are protected from
// capacity-triggered eviction (§4.10).
type WorkingMemoryEntry struct {
	SessionID    string
	InsightID    int64
	Importance   float64
	LastAccessed time.Time
	AccessCount  int64
}

// StaleMemoryEntry records a working-memory entry evicted by capacity
// pressure (§3 "Stale Memory"). Stale entries are retrievable but excluded
// from the default working-memory read path.
type StaleMemoryEntry struct {
	SessionID  string
	InsightID  int64
	EvictedAt  time.Time
}

// Episode is an L2-adjacent record of a bounded narrative unit spanning
// multiple dialogue turns (§3 "Episode memory"). Episodes are recalled by
// embedding similarity through [EpisodeStore]; hybrid retrieval does not
// search them.
type Episode struct {
	ID         int64
	SessionID  string
	Summary    string
	Embedding  []float32
	Reward     float64
	Reflection string
	StartedAt  time.Time
	EndedAt    time.Time
	InsightIDs []int64
	CreatedAt  time.Time
}
