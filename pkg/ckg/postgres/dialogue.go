package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg"
)

// AppendDialogue implements [ckg.RawDialogueStore]. L0 is append-only; it is
// never summarized away (§3 "Raw Dialogue (L0)").
func (s *Store) AppendDialogue(ctx context.Context, sessionID, speaker, text string) (ckg.RawDialogueEntry, error) {
	const q = `
		INSERT INTO raw_dialogue (session_id, speaker, text, created_at)
		VALUES ($1, $2, $3, now())
		RETURNING id, session_id, speaker, text, created_at`

	row := s.pool.QueryRow(ctx, q, sessionID, speaker, text)
	var e ckg.RawDialogueEntry
	if err := row.Scan(&e.ID, &e.SessionID, &e.Speaker, &e.Text, &e.CreatedAt); err != nil {
		return ckg.RawDialogueEntry{}, fmt.Errorf("dialogue: append: %w", err)
	}
	return e, nil
}

// ListDialogue implements [ckg.RawDialogueStore].
func (s *Store) ListDialogue(ctx context.Context, sessionID string, since time.Time) ([]ckg.RawDialogueEntry, error) {
	const q = `
		SELECT id, session_id, speaker, text, created_at
		FROM   raw_dialogue
		WHERE  session_id = $1 AND created_at >= $2
		ORDER  BY created_at`

	rows, err := s.pool.Query(ctx, q, sessionID, since)
	if err != nil {
		return nil, fmt.Errorf("dialogue: list: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ckg.RawDialogueEntry, error) {
		var e ckg.RawDialogueEntry
		if err := row.Scan(&e.ID, &e.SessionID, &e.Speaker, &e.Text, &e.CreatedAt); err != nil {
			return ckg.RawDialogueEntry{}, err
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("dialogue: list: scan: %w", err)
	}
	if entries == nil {
		entries = []ckg.RawDialogueEntry{}
	}
	return entries, nil
}
