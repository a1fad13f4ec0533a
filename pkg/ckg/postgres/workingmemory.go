package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg"
)

// Touch implements [ckg.WorkingMemoryStore]. It upserts sessionID's slot for
// insightID and, if the session now exceeds capacity, evicts the least
// recently accessed unprotected entry into stale_memory. Entries with
// Importance > 0.8 are protected from capacity-triggered eviction (§4.10).
func (s *Store) Touch(ctx context.Context, sessionID string, insightID int64, importance float64, capacity int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("working memory: touch: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const upsertQ = `
		INSERT INTO working_memory (session_id, insight_id, importance, last_accessed, access_count)
		VALUES ($1, $2, $3, now(), 1)
		ON CONFLICT (session_id, insight_id) DO UPDATE SET
		    importance    = GREATEST(working_memory.importance, EXCLUDED.importance),
		    last_accessed = now(),
		    access_count  = working_memory.access_count + 1`
	if _, err := tx.Exec(ctx, upsertQ, sessionID, insightID, importance); err != nil {
		return fmt.Errorf("working memory: touch: upsert: %w", err)
	}

	if capacity <= 0 {
		capacity = 8
	}

	var count int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM working_memory WHERE session_id = $1`, sessionID).Scan(&count); err != nil {
		return fmt.Errorf("working memory: touch: count: %w", err)
	}

	if count > capacity {
		const evictQ = `
			WITH victim AS (
			    SELECT insight_id
			    FROM   working_memory
			    WHERE  session_id = $1 AND importance <= 0.8
			    ORDER  BY last_accessed ASC
			    LIMIT  1
			)
			DELETE FROM working_memory
			WHERE  session_id = $1 AND insight_id IN (SELECT insight_id FROM victim)
			RETURNING insight_id`

		var evictedID int64
		err := tx.QueryRow(ctx, evictQ, sessionID).Scan(&evictedID)
		if err != nil && !isNoRows(err) {
			return fmt.Errorf("working memory: touch: evict: %w", err)
		}
		if err == nil {
			const staleQ = `
				INSERT INTO stale_memory (session_id, insight_id, evicted_at)
				VALUES ($1, $2, now())
				ON CONFLICT (session_id, insight_id) DO UPDATE SET evicted_at = now()`
			if _, err := tx.Exec(ctx, staleQ, sessionID, evictedID); err != nil {
				return fmt.Errorf("working memory: touch: stale insert: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("working memory: touch: commit: %w", err)
	}
	return nil
}

// ListWorkingMemory implements [ckg.WorkingMemoryStore].
func (s *Store) ListWorkingMemory(ctx context.Context, sessionID string) ([]ckg.WorkingMemoryEntry, error) {
	const q = `
		SELECT session_id, insight_id, importance, last_accessed, access_count
		FROM   working_memory
		WHERE  session_id = $1
		ORDER  BY last_accessed DESC`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("working memory: list: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ckg.WorkingMemoryEntry, error) {
		var e ckg.WorkingMemoryEntry
		if err := row.Scan(&e.SessionID, &e.InsightID, &e.Importance, &e.LastAccessed, &e.AccessCount); err != nil {
			return ckg.WorkingMemoryEntry{}, err
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("working memory: list: scan: %w", err)
	}
	if entries == nil {
		entries = []ckg.WorkingMemoryEntry{}
	}
	return entries, nil
}

// ListStaleMemory implements [ckg.WorkingMemoryStore].
func (s *Store) ListStaleMemory(ctx context.Context, sessionID string) ([]ckg.StaleMemoryEntry, error) {
	const q = `
		SELECT session_id, insight_id, evicted_at
		FROM   stale_memory
		WHERE  session_id = $1
		ORDER  BY evicted_at DESC`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("stale memory: list: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ckg.StaleMemoryEntry, error) {
		var e ckg.StaleMemoryEntry
		if err := row.Scan(&e.SessionID, &e.InsightID, &e.EvictedAt); err != nil {
			return ckg.StaleMemoryEntry{}, err
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("stale memory: list: scan: %w", err)
	}
	if entries == nil {
		entries = []ckg.StaleMemoryEntry{}
	}
	return entries, nil
}
