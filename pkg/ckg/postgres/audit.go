package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting a mutation's
// audit or history row be written either standalone or — per SPEC_FULL.md §9
// "audit entries must be inside the same scope as the mutation they
// describe" — inside the caller's own transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// WriteAudit implements [ckg.AuditStore]. Every mutation and blocked attempt
// is appended; the log is never updated or pruned (§3, §4.5).
func (s *Store) WriteAudit(ctx context.Context, entry ckg.AuditEntry) (int64, error) {
	return writeAudit(ctx, s.pool, entry)
}

// writeAudit is the shared implementation behind [Store.WriteAudit]; q may be
// the pool itself or a transaction in progress, so multi-table mutations can
// commit their audit row atomically with the mutation.
func writeAudit(ctx context.Context, q querier, entry ckg.AuditEntry) (int64, error) {
	if entry.Properties == nil {
		entry.Properties = map[string]any{}
	}
	propsJSON, err := json.Marshal(entry.Properties)
	if err != nil {
		return 0, fmt.Errorf("audit: marshal properties: %w", err)
	}

	const query = `
		INSERT INTO audit_log (edge_id, action, blocked, reason, actor, properties, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING id`

	var id int64
	if err := q.QueryRow(ctx, query, entry.EdgeID, entry.Action, entry.Blocked, entry.Reason, entry.Actor, propsJSON).Scan(&id); err != nil {
		return 0, fmt.Errorf("audit: write: %w", err)
	}
	return id, nil
}

// ListAudit implements [ckg.AuditStore].
func (s *Store) ListAudit(ctx context.Context, edgeID *int64, limit int) ([]ckg.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	var (
		rows pgx.Rows
		err  error
	)
	if edgeID != nil {
		rows, err = s.pool.Query(ctx, `
			SELECT id, edge_id, action, blocked, reason, actor, properties, created_at
			FROM   audit_log
			WHERE  edge_id = $1
			ORDER  BY created_at
			LIMIT  $2`, *edgeID, limit)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT id, edge_id, action, blocked, reason, actor, properties, created_at
			FROM   audit_log
			ORDER  BY created_at
			LIMIT  $1`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ckg.AuditEntry, error) {
		var (
			a         ckg.AuditEntry
			propsJSON []byte
		)
		if err := row.Scan(&a.ID, &a.EdgeID, &a.Action, &a.Blocked, &a.Reason, &a.Actor, &propsJSON, &a.CreatedAt); err != nil {
			return ckg.AuditEntry{}, err
		}
		if len(propsJSON) > 0 {
			if err := json.Unmarshal(propsJSON, &a.Properties); err != nil {
				return ckg.AuditEntry{}, fmt.Errorf("unmarshal audit properties: %w", err)
			}
		}
		return a, nil
	})
	if err != nil {
		return nil, fmt.Errorf("audit: list: scan: %w", err)
	}
	if entries == nil {
		entries = []ckg.AuditEntry{}
	}
	return entries, nil
}
