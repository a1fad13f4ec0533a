package ckg

import "time"

// ProposalStatus is the lifecycle state of an SMF proposal (§4.7).
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalApproved ProposalStatus = "approved"
	ProposalRejected ProposalStatus = "rejected"
	ProposalTimedOut ProposalStatus = "timed_out"
	ProposalUndone   ProposalStatus = "undone"
)

// ApprovalLevel records which consent tier a proposal required and received
// (§3, §4.7 GLOSSARY "bilateral consent").
type ApprovalLevel string

const (
	ApprovalPrimary   ApprovalLevel = "primary"
	ApprovalBilateral ApprovalLevel = "bilateral"
)

// ProposalKind enumerates the mutation a proposal carries out once approved.
type ProposalKind string

const (
	ProposalKindAddEdge     ProposalKind = "add_edge"
	ProposalKindDeleteEdge  ProposalKind = "delete_edge"
	ProposalKindReclassify  ProposalKind = "reclassify_edge"
	ProposalKindUpdateInsight ProposalKind = "update_insight"
	ProposalKindDeleteInsight ProposalKind = "delete_insight"
)

// Proposal is a pending or resolved self-modification request (§3, §4.7).
// A proposal targeting a constitutive edge requires [ApprovalBilateral];
// every other proposal requires only [ApprovalPrimary].
type Proposal struct {
	ID            int64
	Kind          ProposalKind
	TargetEdgeID  *int64
	TargetInsightID *int64
	Payload       map[string]any
	Rationale     string
	ProposedBy    Actor
	RequiredLevel ApprovalLevel
	Status        ProposalStatus

	NeutralityVerdictNeutral bool
	NeutralityReason         string

	ConsentPrimary   bool
	ConsentSecondary bool

	CreatedAt  time.Time
	ResolvedAt *time.Time
	ExpiresAt  time.Time

	// UndoOf, when non-nil, marks this proposal as an undo of a previously
	// executed proposal (§4.7 "undo within retention window").
	UndoOf *int64
}

// IsExpired reports whether the proposal's approval window has elapsed
// without resolution (§4.7, §6 smf.approval_timeout_hours).
func (p Proposal) IsExpired(now time.Time) bool {
	return p.Status == ProposalPending && now.After(p.ExpiresAt)
}

// CanUndo reports whether p, already executed, still falls within the undo
// retention window (§4.7, §6 smf.undo_retention_days).
func (p Proposal) CanUndo(now time.Time, retentionDays int) bool {
	if p.Status != ProposalApproved || p.ResolvedAt == nil {
		return false
	}
	return now.Before(p.ResolvedAt.Add(time.Duration(retentionDays) * 24 * time.Hour))
}
