package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg"
)

// RecordFeedback implements [ckg.FeedbackStore] (§4.8, §6; rows accumulate
// until ief.RecalibrationThreshold are pending).
func (s *Store) RecordFeedback(ctx context.Context, f ckg.Feedback) (int, error) {
	const insertQ = `
		INSERT INTO ief_feedback (query, retrieved_context, answer, reward, reasoning, created_at)
		VALUES ($1, $2, $3, $4, $5, now())`
	if _, err := s.pool.Exec(ctx, insertQ, f.Query, f.RetrievedContext, f.Answer, f.Reward, f.Reasoning); err != nil {
		return 0, fmt.Errorf("feedback: record: %w", err)
	}

	var count int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM ief_feedback WHERE NOT recalibrated`).Scan(&count); err != nil {
		return 0, fmt.Errorf("feedback: record: count: %w", err)
	}
	return count, nil
}

// ListFeedbackSinceRecalibration implements [ckg.FeedbackStore].
func (s *Store) ListFeedbackSinceRecalibration(ctx context.Context) ([]ckg.Feedback, error) {
	const q = `
		SELECT id, query, retrieved_context, answer, reward, reasoning, created_at
		FROM   ief_feedback
		WHERE  NOT recalibrated
		ORDER  BY created_at`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("feedback: list: %w", err)
	}
	feedback, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ckg.Feedback, error) {
		var f ckg.Feedback
		if err := row.Scan(&f.ID, &f.Query, &f.RetrievedContext, &f.Answer, &f.Reward, &f.Reasoning, &f.CreatedAt); err != nil {
			return ckg.Feedback{}, err
		}
		return f, nil
	})
	if err != nil {
		return nil, fmt.Errorf("feedback: list: scan: %w", err)
	}
	if feedback == nil {
		feedback = []ckg.Feedback{}
	}
	return feedback, nil
}

// MarkRecalibrated implements [ckg.FeedbackStore].
func (s *Store) MarkRecalibrated(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `UPDATE ief_feedback SET recalibrated = true WHERE NOT recalibrated`); err != nil {
		return fmt.Errorf("feedback: mark recalibrated: %w", err)
	}
	return nil
}
