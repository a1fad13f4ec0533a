// Package smf implements the self-modification framework of §4.7: a
// supervised write channel through which the system itself proposes graph
// and insight mutations, subject to a neutrality check on the proposal's
// rationale and, for constitutive targets, bilateral consent. Execution
// always goes through [ckg.GraphStore]/[ckg.InsightStore] so that
// protection and audit remain inescapable.
package smf

import (
	"context"
	"fmt"
	"time"

	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/oracle/neutrality"
)

const (
	defaultApprovalTimeout   = 48 * time.Hour
	defaultUndoRetentionDays = 30
)

// ProposeInput is the caller-supplied shape of a new proposal. Exactly one
// of TargetEdgeID/TargetInsightID is meaningful per Kind (§4.7 Lifecycle §1).
type ProposeInput struct {
	Kind            ckg.ProposalKind
	TargetEdgeID    *int64
	TargetInsightID *int64
	Payload         map[string]any
	ProposedBy      ckg.Actor

	// Detected/Affected/IfApproved/IfRejected fill the fixed neutral-template
	// fields the generated rationale is built from (§4.7 "Neutrality contract").
	Detected   string
	Affected   string
	IfApproved string
	IfRejected string

	// UndoOf, when set, marks the resulting proposal as reversing a prior
	// approved proposal. Set internally by [Engine.Undo]; callers proposing
	// a fresh mutation should leave it nil.
	UndoOf *int64
}

// Engine orchestrates the proposal lifecycle: neutrality review, approval-
// level determination, bilateral consent, execution, and undo.
type Engine struct {
	store             ckg.Store
	neutralityChecker neutrality.Checker
	approvalTimeout   time.Duration
	undoRetentionDays int
	broadcaster       *Broadcaster
}

// New constructs an Engine. approvalTimeoutHours and undoRetentionDays fall
// back to their §4.7 defaults (48h, 30 days) when non-positive.
func New(store ckg.Store, checker neutrality.Checker, approvalTimeoutHours, undoRetentionDays int) *Engine {
	timeout := defaultApprovalTimeout
	if approvalTimeoutHours > 0 {
		timeout = time.Duration(approvalTimeoutHours) * time.Hour
	}
	retention := defaultUndoRetentionDays
	if undoRetentionDays > 0 {
		retention = undoRetentionDays
	}
	return &Engine{store: store, neutralityChecker: checker, approvalTimeout: timeout, undoRetentionDays: retention}
}

// SetBroadcaster attaches b as the destination for every proposal-transition
// event this Engine produces from this point on (smf_pending_proposals/
// smf_review live-update stream, §7). Passing nil disables publishing. Not
// required for correct operation of the proposal lifecycle itself.
func (e *Engine) SetBroadcaster(b *Broadcaster) {
	e.broadcaster = b
}

func (e *Engine) publish(p ckg.Proposal, t Transition) {
	if e.broadcaster == nil {
		return
	}
	e.broadcaster.Publish(ProposalEvent{Proposal: p, Transition: t})
}

// Propose creates a new proposal: it renders the neutral-template rationale,
// submits it to the neutrality oracle, determines the required approval
// level from the target's constitutive status, and snapshots enough prior
// state to support a later undo. A biased rationale is refused before any
// row is written, with the attempt still audited (§4.7 "Immutable safeguards").
func (e *Engine) Propose(ctx context.Context, in ProposeInput) (ckg.Proposal, error) {
	rationale := renderNeutralTemplate(in.Detected, in.Affected, in.IfApproved, in.IfRejected)

	verdict, err := e.neutralityChecker.Check(ctx, rationale, in.Affected)
	if err != nil {
		return ckg.Proposal{}, fmt.Errorf("smf: propose: neutrality check: %w", err)
	}
	if !verdict.Neutral {
		if _, auditErr := e.store.WriteAudit(ctx, ckg.AuditEntry{
			Action:  ckg.AuditActionSMFExecute,
			Blocked: true,
			Reason:  "FRAMING_VIOLATION",
			Actor:   string(in.ProposedBy),
			Properties: map[string]any{"kind": in.Kind, "neutrality_reason": verdict.Reason},
		}); auditErr != nil {
			return ckg.Proposal{}, fmt.Errorf("smf: propose: audit: %w", auditErr)
		}
		return ckg.Proposal{}, ckg.NewError(ckg.KindFramingViolation, verdict.Reason).
			WithDetails(map[string]any{"kind": in.Kind})
	}

	level, err := e.requiredLevel(ctx, in)
	if err != nil {
		return ckg.Proposal{}, err
	}

	payload := in.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	snap, err := e.snapshot(ctx, in)
	if err != nil {
		return ckg.Proposal{}, err
	}
	if len(snap) > 0 {
		payload["_snapshot"] = snap
	}

	p, err := e.store.CreateProposal(ctx, ckg.Proposal{
		Kind:                     in.Kind,
		TargetEdgeID:             in.TargetEdgeID,
		TargetInsightID:          in.TargetInsightID,
		Payload:                  payload,
		Rationale:                rationale,
		ProposedBy:               in.ProposedBy,
		RequiredLevel:            level,
		NeutralityVerdictNeutral: verdict.Neutral,
		NeutralityReason:         verdict.Reason,
		ExpiresAt:                time.Now().Add(e.approvalTimeout),
		UndoOf:                   in.UndoOf,
	})
	if err != nil {
		return ckg.Proposal{}, err
	}
	e.publish(p, TransitionProposed)
	return p, nil
}

// ProposeReclassifyByName is reclassify_memory_sector's entry point for
// callers that name an edge by (sourceName, targetName, relation) rather
// than by ID: it resolves the target edge via [ckg.GraphStore.GetEdgeFuzzy]
// (falling back to lexical similarity over the relation when no exact match
// exists, §7) and submits the resulting reclassification as a proposal.
// Returns [ckg.KindAmbiguous] when resolution matches more than one edge.
func (e *Engine) ProposeReclassifyByName(ctx context.Context, sourceName, targetName, relation string, newSector ckg.Sector, proposedBy ckg.Actor) (ckg.Proposal, error) {
	edge, err := e.store.GetEdgeFuzzy(ctx, sourceName, targetName, relation)
	if err != nil {
		return ckg.Proposal{}, err
	}
	return e.Propose(ctx, ProposeInput{
		Kind:         ckg.ProposalKindReclassify,
		TargetEdgeID: &edge.ID,
		Payload:      map[string]any{"new_sector": string(newSector)},
		ProposedBy:   proposedBy,
		Detected:     fmt.Sprintf("edge %s-[%s]->%s reclassified to sector %s", sourceName, edge.Relation, targetName, newSector),
		Affected:     fmt.Sprintf("edge %d", edge.ID),
	})
}

// Approve records actor's consent against a pending proposal. Once every
// consent its RequiredLevel demands has been recorded, the proposal
// transitions to approved and is executed immediately against Graph core;
// if it reverses a prior proposal, that proposal is marked undone.
func (e *Engine) Approve(ctx context.Context, proposalID int64, actor ckg.Actor) (ckg.Proposal, error) {
	p, err := e.store.RecordConsent(ctx, proposalID, actor)
	if err != nil {
		return ckg.Proposal{}, err
	}
	if p.Status != ckg.ProposalApproved {
		e.publish(p, TransitionConsentGiven)
		return p, nil
	}
	e.publish(p, TransitionApproved)

	if err := e.execute(ctx, p); err != nil {
		return p, fmt.Errorf("smf: execute proposal %d: %w", p.ID, err)
	}
	if _, err := e.store.WriteAudit(ctx, ckg.AuditEntry{
		Action: ckg.AuditActionSMFExecute,
		Actor:  string(actor),
		Properties: map[string]any{"proposal_id": p.ID, "kind": p.Kind},
	}); err != nil {
		return p, fmt.Errorf("smf: execute proposal %d: audit: %w", p.ID, err)
	}
	e.publish(p, TransitionExecuted)

	if p.UndoOf != nil {
		if _, err := e.store.MarkUndone(ctx, *p.UndoOf, p.ID); err != nil {
			return p, fmt.Errorf("smf: mark %d undone: %w", *p.UndoOf, err)
		}
		e.publish(p, TransitionUndone)
	}
	return p, nil
}

// Reject implements smf_reject: a pending proposal is terminally rejected.
func (e *Engine) Reject(ctx context.Context, proposalID int64, reason string) (ckg.Proposal, error) {
	p, err := e.store.RejectProposal(ctx, proposalID, reason)
	if err != nil {
		return ckg.Proposal{}, err
	}
	e.publish(p, TransitionRejected)
	return p, nil
}

// ExpireStale implements the approval_timeout_hours sweep: every pending
// proposal past its expiry is marked timed_out.
func (e *Engine) ExpireStale(ctx context.Context) ([]int64, error) {
	ids, err := e.store.ExpirePendingProposals(ctx, time.Now())
	if err != nil {
		return nil, err
	}
	if e.broadcaster != nil {
		for _, id := range ids {
			e.publish(ckg.Proposal{ID: id, Status: ckg.ProposalTimedOut}, TransitionExpired)
		}
	}
	return ids, nil
}

// Undo implements smf_undo: it builds and proposes the inverse mutation of a
// prior approved proposal (still within the undo retention window), routing
// it through the same neutrality/consent pipeline as any other proposal. A
// constitutive-edge reversal therefore requires bilateral consent again,
// just like the original (§4.7 "Undo"). An SMF_UNDO audit entry is always
// written, whether or not the reversal completes immediately.
func (e *Engine) Undo(ctx context.Context, proposalID int64, actor ckg.Actor) (ckg.Proposal, error) {
	original, err := e.store.GetProposal(ctx, proposalID)
	if err != nil {
		return ckg.Proposal{}, err
	}
	if !original.CanUndo(time.Now(), e.undoRetentionDays) {
		return ckg.Proposal{}, ckg.NewError(ckg.KindRetentionExpired, "undo retention window has elapsed").
			WithDetails(map[string]any{"proposal_id": proposalID})
	}

	if _, err := e.store.WriteAudit(ctx, ckg.AuditEntry{
		Action: ckg.AuditActionSMFUndo,
		Actor:  string(actor),
		Properties: map[string]any{"proposal_id": proposalID},
	}); err != nil {
		return ckg.Proposal{}, fmt.Errorf("smf: undo: audit: %w", err)
	}

	reverseInput, err := e.buildReverseInput(ctx, original)
	if err != nil {
		return ckg.Proposal{}, err
	}
	reverseInput.ProposedBy = actor
	reverseInput.UndoOf = &original.ID
	reverseInput.Detected = fmt.Sprintf("undo requested for proposal %d", original.ID)
	reverseInput.Affected = original.Rationale
	reverseInput.IfApproved = "the original modification is reversed"
	reverseInput.IfRejected = "the original modification remains in effect"

	undoProposal, err := e.Propose(ctx, reverseInput)
	if err != nil {
		return ckg.Proposal{}, err
	}
	return e.Approve(ctx, undoProposal.ID, actor)
}

// requiredLevel implements §4.7 Lifecycle §2: bilateral whenever any
// affected edge is constitutive or the proposal creates one.
func (e *Engine) requiredLevel(ctx context.Context, in ProposeInput) (ckg.ApprovalLevel, error) {
	if in.Kind == ckg.ProposalKindAddEdge {
		if props, _ := in.Payload["properties"].(map[string]any); props != nil {
			if edgeType, _ := props["edge_type"].(string); edgeType == "constitutive" {
				return ckg.ApprovalBilateral, nil
			}
		}
		return ckg.ApprovalPrimary, nil
	}
	if in.TargetEdgeID != nil {
		edge, err := e.store.GetEdgeByID(ctx, *in.TargetEdgeID)
		if err != nil {
			return "", err
		}
		if edge.IsConstitutive() {
			return ckg.ApprovalBilateral, nil
		}
	}
	return ckg.ApprovalPrimary, nil
}

// snapshot captures the prior state a later undo will need to restore,
// before the proposal is ever executed.
func (e *Engine) snapshot(ctx context.Context, in ProposeInput) (map[string]any, error) {
	switch in.Kind {
	case ckg.ProposalKindDeleteEdge, ckg.ProposalKindReclassify:
		if in.TargetEdgeID == nil {
			return nil, ckg.NewError(ckg.KindInvalidArgument, "target_edge_id is required").
				WithDetails(map[string]any{"kind": in.Kind})
		}
		edge, err := e.store.GetEdgeByID(ctx, *in.TargetEdgeID)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"source_name": edge.SourceName,
			"target_name": edge.TargetName,
			"relation":    edge.Relation,
			"weight":      edge.Weight,
			"properties":  edge.Properties,
			"sector":      string(edge.Sector),
		}, nil
	case ckg.ProposalKindUpdateInsight:
		if in.TargetInsightID == nil {
			return nil, ckg.NewError(ckg.KindInvalidArgument, "target_insight_id is required").
				WithDetails(map[string]any{"kind": in.Kind})
		}
		insight, err := e.store.GetInsight(ctx, *in.TargetInsightID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"content": insight.Content, "memory_strength": insight.MemoryStrength}, nil
	default:
		return nil, nil
	}
}

// execute dispatches an approved proposal's mutation to Graph core/insight
// storage. SMF calls the unguarded Force* variants because consent already
// substitutes for the direct-write protection check.
func (e *Engine) execute(ctx context.Context, p ckg.Proposal) error {
	switch p.Kind {
	case ckg.ProposalKindAddEdge:
		source, _ := p.Payload["source"].(string)
		target, _ := p.Payload["target"].(string)
		relation, _ := p.Payload["relation"].(string)
		weight, _ := p.Payload["weight"].(float64)
		if weight == 0 {
			weight = 1.0
		}
		properties, _ := p.Payload["properties"].(map[string]any)
		_, err := e.store.AddEdge(ctx, source, target, relation, weight, "", properties)
		return err
	case ckg.ProposalKindDeleteEdge:
		if p.TargetEdgeID == nil {
			return ckg.NewError(ckg.KindInvalidArgument, "target_edge_id is required").WithDetails(map[string]any{"proposal_id": p.ID})
		}
		return e.store.ForceDeleteEdge(ctx, *p.TargetEdgeID, p.ProposedBy)
	case ckg.ProposalKindReclassify:
		if p.TargetEdgeID == nil {
			return ckg.NewError(ckg.KindInvalidArgument, "target_edge_id is required").WithDetails(map[string]any{"proposal_id": p.ID})
		}
		newSector, _ := p.Payload["new_sector"].(string)
		_, err := e.store.ReclassifyEdge(ctx, *p.TargetEdgeID, ckg.Sector(newSector), p.ProposedBy)
		return err
	case ckg.ProposalKindUpdateInsight:
		if p.TargetInsightID == nil {
			return ckg.NewError(ckg.KindInvalidArgument, "target_insight_id is required").WithDetails(map[string]any{"proposal_id": p.ID})
		}
		content, _ := p.Payload["content"].(string)
		reason, _ := p.Payload["reason"].(string)
		var newMemoryStrength *float64
		if ms, ok := p.Payload["memory_strength"].(float64); ok {
			newMemoryStrength = &ms
		}
		_, err := e.store.UpdateInsight(ctx, *p.TargetInsightID, content, newMemoryStrength, p.ProposedBy, reason, &p.ID)
		return err
	case ckg.ProposalKindDeleteInsight:
		if p.TargetInsightID == nil {
			return ckg.NewError(ckg.KindInvalidArgument, "target_insight_id is required").WithDetails(map[string]any{"proposal_id": p.ID})
		}
		reason, _ := p.Payload["reason"].(string)
		return e.store.DeleteInsight(ctx, *p.TargetInsightID, p.ProposedBy, reason)
	default:
		return ckg.NewError(ckg.KindInvalidArgument, "unknown proposal kind").WithDetails(map[string]any{"kind": p.Kind})
	}
}

// buildReverseInput derives the ProposeInput of the mutation that undoes p,
// from the snapshot captured at propose time (or, for add_edge, by
// resolving the edge it created by name).
func (e *Engine) buildReverseInput(ctx context.Context, p ckg.Proposal) (ProposeInput, error) {
	switch p.Kind {
	case ckg.ProposalKindAddEdge:
		source, _ := p.Payload["source"].(string)
		target, _ := p.Payload["target"].(string)
		relation, _ := p.Payload["relation"].(string)
		edge, err := e.store.GetEdge(ctx, source, target, relation)
		if err != nil {
			return ProposeInput{}, err
		}
		return ProposeInput{Kind: ckg.ProposalKindDeleteEdge, TargetEdgeID: &edge.ID}, nil
	case ckg.ProposalKindDeleteEdge:
		snap, ok := p.Payload["_snapshot"].(map[string]any)
		if !ok {
			return ProposeInput{}, ckg.NewError(ckg.KindInvalidArgument, "proposal has no undo snapshot").
				WithDetails(map[string]any{"proposal_id": p.ID})
		}
		return ProposeInput{
			Kind: ckg.ProposalKindAddEdge,
			Payload: map[string]any{
				"source":     snap["source_name"],
				"target":     snap["target_name"],
				"relation":   snap["relation"],
				"weight":     snap["weight"],
				"properties": snap["properties"],
			},
		}, nil
	case ckg.ProposalKindReclassify:
		snap, ok := p.Payload["_snapshot"].(map[string]any)
		if !ok {
			return ProposeInput{}, ckg.NewError(ckg.KindInvalidArgument, "proposal has no undo snapshot").
				WithDetails(map[string]any{"proposal_id": p.ID})
		}
		return ProposeInput{
			Kind:         ckg.ProposalKindReclassify,
			TargetEdgeID: p.TargetEdgeID,
			Payload:      map[string]any{"new_sector": snap["sector"]},
		}, nil
	case ckg.ProposalKindUpdateInsight:
		snap, ok := p.Payload["_snapshot"].(map[string]any)
		if !ok {
			return ProposeInput{}, ckg.NewError(ckg.KindInvalidArgument, "proposal has no undo snapshot").
				WithDetails(map[string]any{"proposal_id": p.ID})
		}
		return ProposeInput{
			Kind:            ckg.ProposalKindUpdateInsight,
			TargetInsightID: p.TargetInsightID,
			Payload:         map[string]any{"content": snap["content"], "memory_strength": snap["memory_strength"]},
		}, nil
	case ckg.ProposalKindDeleteInsight:
		return ProposeInput{}, ckg.NewError(ckg.KindInvalidArgument,
			"delete_insight is a soft delete; the insight remains retrievable by id and is not undoable via SMF").
			WithDetails(map[string]any{"proposal_id": p.ID})
	default:
		return ProposeInput{}, ckg.NewError(ckg.KindInvalidArgument, "unknown proposal kind").
			WithDetails(map[string]any{"kind": p.Kind})
	}
}

// renderNeutralTemplate fills the fixed neutral-template fields of §4.7's
// "Neutrality contract". Every proposal's rationale takes exactly this
// shape so the neutrality oracle reviews a consistent structure rather than
// free-form text.
func renderNeutralTemplate(detected, affected, ifApproved, ifRejected string) string {
	return fmt.Sprintf(
		"detected: %s\naffected: %s\nif_approved: %s\nif_rejected: %s\nneutral_summary: true",
		detected, affected, ifApproved, ifRejected)
}
