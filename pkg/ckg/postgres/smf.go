package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg"
)

// CreateProposal implements [ckg.SMFStore] (§4.7).
func (s *Store) CreateProposal(ctx context.Context, p ckg.Proposal) (ckg.Proposal, error) {
	if p.Payload == nil {
		p.Payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(p.Payload)
	if err != nil {
		return ckg.Proposal{}, fmt.Errorf("smf: create proposal: marshal payload: %w", err)
	}

	const q = `
		INSERT INTO smf_proposals
		    (kind, target_edge_id, target_insight_id, payload, rationale, proposed_by, required_level,
		     status, created_at, expires_at, undo_of)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), $9, $10)
		RETURNING id, kind, target_edge_id, target_insight_id, payload, rationale, proposed_by,
		          required_level, status, neutrality_verdict_neutral, neutrality_reason,
		          consent_primary, consent_secondary, created_at, resolved_at, expires_at, undo_of`

	status := p.Status
	if status == "" {
		status = ckg.ProposalPending
	}

	row := s.pool.QueryRow(ctx, q,
		p.Kind, p.TargetEdgeID, p.TargetInsightID, payloadJSON, p.Rationale, p.ProposedBy,
		p.RequiredLevel, status, p.ExpiresAt, p.UndoOf,
	)
	return scanProposal(row)
}

// GetProposal implements [ckg.SMFStore].
func (s *Store) GetProposal(ctx context.Context, id int64) (ckg.Proposal, error) {
	const q = `
		SELECT id, kind, target_edge_id, target_insight_id, payload, rationale, proposed_by,
		       required_level, status, neutrality_verdict_neutral, neutrality_reason,
		       consent_primary, consent_secondary, created_at, resolved_at, expires_at, undo_of
		FROM   smf_proposals
		WHERE  id = $1`

	row := s.pool.QueryRow(ctx, q, id)
	p, err := scanProposal(row)
	if err != nil {
		if isNoRows(err) {
			return ckg.Proposal{}, ckg.NewError(ckg.KindNotFound, "proposal not found").
				WithDetails(map[string]any{"proposal_id": id})
		}
		return ckg.Proposal{}, err
	}
	return p, nil
}

// ListPendingProposals implements [ckg.SMFStore].
func (s *Store) ListPendingProposals(ctx context.Context) ([]ckg.Proposal, error) {
	const q = `
		SELECT id, kind, target_edge_id, target_insight_id, payload, rationale, proposed_by,
		       required_level, status, neutrality_verdict_neutral, neutrality_reason,
		       consent_primary, consent_secondary, created_at, resolved_at, expires_at, undo_of
		FROM   smf_proposals
		WHERE  status = 'pending'
		ORDER  BY created_at`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("smf: list pending: %w", err)
	}
	proposals, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ckg.Proposal, error) {
		return scanProposal(row)
	})
	if err != nil {
		return nil, fmt.Errorf("smf: list pending: scan: %w", err)
	}
	if proposals == nil {
		proposals = []ckg.Proposal{}
	}
	return proposals, nil
}

// RecordConsent implements [ckg.SMFStore]. Recording the actor's consent
// against a pending proposal transitions it to approved once every consent
// required by RequiredLevel has been recorded: primary-level proposals need
// only ConsentPrimary; bilateral-level proposals need both (§3, §4.7
// "bilateral consent").
func (s *Store) RecordConsent(ctx context.Context, id int64, actor ckg.Actor) (ckg.Proposal, error) {
	p, err := s.GetProposal(ctx, id)
	if err != nil {
		return ckg.Proposal{}, err
	}
	if p.Status != ckg.ProposalPending {
		return ckg.Proposal{}, ckg.NewError(ckg.KindInvalidArgument, "proposal is not pending").
			WithDetails(map[string]any{"proposal_id": id, "status": p.Status})
	}

	switch actor {
	case ckg.ActorPrimary:
		p.ConsentPrimary = true
	case ckg.ActorSecondary:
		p.ConsentSecondary = true
	default:
		return ckg.Proposal{}, ckg.NewError(ckg.KindInvalidArgument, "unknown actor").
			WithDetails(map[string]any{"actor": actor})
	}

	newStatus := p.Status
	var resolvedAt *time.Time
	satisfied := p.ConsentPrimary && (p.RequiredLevel == ckg.ApprovalPrimary || p.ConsentSecondary)
	if satisfied {
		newStatus = ckg.ProposalApproved
		now := time.Now()
		resolvedAt = &now
	}

	const q = `
		UPDATE smf_proposals
		SET    consent_primary = $2, consent_secondary = $3, status = $4, resolved_at = $5
		WHERE  id = $1
		RETURNING id, kind, target_edge_id, target_insight_id, payload, rationale, proposed_by,
		          required_level, status, neutrality_verdict_neutral, neutrality_reason,
		          consent_primary, consent_secondary, created_at, resolved_at, expires_at, undo_of`

	row := s.pool.QueryRow(ctx, q, id, p.ConsentPrimary, p.ConsentSecondary, newStatus, resolvedAt)
	return scanProposal(row)
}

// RejectProposal implements [ckg.SMFStore].
func (s *Store) RejectProposal(ctx context.Context, id int64, reason string) (ckg.Proposal, error) {
	const q = `
		UPDATE smf_proposals
		SET    status = 'rejected', resolved_at = now(),
		       payload = payload || jsonb_build_object('rejection_reason', $2::text)
		WHERE  id = $1 AND status = 'pending'
		RETURNING id, kind, target_edge_id, target_insight_id, payload, rationale, proposed_by,
		          required_level, status, neutrality_verdict_neutral, neutrality_reason,
		          consent_primary, consent_secondary, created_at, resolved_at, expires_at, undo_of`

	row := s.pool.QueryRow(ctx, q, id, reason)
	p, err := scanProposal(row)
	if err != nil {
		if isNoRows(err) {
			return ckg.Proposal{}, ckg.NewError(ckg.KindInvalidArgument, "proposal is not pending").
				WithDetails(map[string]any{"proposal_id": id})
		}
		return ckg.Proposal{}, fmt.Errorf("smf: reject: %w", err)
	}
	return p, nil
}

// ExpirePendingProposals implements [ckg.SMFStore] (§4.7 "approval_timeout_hours").
func (s *Store) ExpirePendingProposals(ctx context.Context, now time.Time) ([]int64, error) {
	const q = `
		UPDATE smf_proposals
		SET    status = 'timed_out', resolved_at = $1
		WHERE  status = 'pending' AND expires_at < $1
		RETURNING id`

	rows, err := s.pool.Query(ctx, q, now)
	if err != nil {
		return nil, fmt.Errorf("smf: expire pending: %w", err)
	}
	ids, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (int64, error) {
		var id int64
		err := row.Scan(&id)
		return id, err
	})
	if err != nil {
		return nil, fmt.Errorf("smf: expire pending: scan: %w", err)
	}
	if ids == nil {
		ids = []int64{}
	}
	return ids, nil
}

// MarkUndone implements [ckg.SMFStore] (§4.7 "undo within retention window").
func (s *Store) MarkUndone(ctx context.Context, id int64, undoProposalID int64) (ckg.Proposal, error) {
	const q = `
		UPDATE smf_proposals
		SET    status = 'undone',
		       payload = payload || jsonb_build_object('undone_by_proposal_id', $2::bigint)
		WHERE  id = $1 AND status = 'approved'
		RETURNING id, kind, target_edge_id, target_insight_id, payload, rationale, proposed_by,
		          required_level, status, neutrality_verdict_neutral, neutrality_reason,
		          consent_primary, consent_secondary, created_at, resolved_at, expires_at, undo_of`

	row := s.pool.QueryRow(ctx, q, id, undoProposalID)
	p, err := scanProposal(row)
	if err != nil {
		if isNoRows(err) {
			return ckg.Proposal{}, ckg.NewError(ckg.KindInvalidArgument, "proposal is not approved").
				WithDetails(map[string]any{"proposal_id": id})
		}
		return ckg.Proposal{}, fmt.Errorf("smf: mark undone: %w", err)
	}
	return p, nil
}

func scanProposal(row pgx.Row) (ckg.Proposal, error) {
	var (
		p           ckg.Proposal
		payloadJSON []byte
	)
	if err := row.Scan(
		&p.ID, &p.Kind, &p.TargetEdgeID, &p.TargetInsightID, &payloadJSON, &p.Rationale, &p.ProposedBy,
		&p.RequiredLevel, &p.Status, &p.NeutralityVerdictNeutral, &p.NeutralityReason,
		&p.ConsentPrimary, &p.ConsentSecondary, &p.CreatedAt, &p.ResolvedAt, &p.ExpiresAt, &p.UndoOf,
	); err != nil {
		return ckg.Proposal{}, err
	}
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &p.Payload); err != nil {
			return ckg.Proposal{}, fmt.Errorf("smf: unmarshal payload: %w", err)
		}
	}
	return p, nil
}
