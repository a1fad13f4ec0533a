package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg"
)

// CompressToInsight implements [ckg.InsightStore] (compress_to_l2_insight,
// §4.10).
func (s *Store) CompressToInsight(ctx context.Context, sessionID string, sector ckg.Sector, content string, embedding []float32, sourceEntryIDs []int64, tags []string) (ckg.Insight, error) {
	if !sector.IsValid() {
		return ckg.Insight{}, ckg.NewError(ckg.KindInvalidArgument, "unknown sector").
			WithDetails(map[string]any{"sector": sector})
	}

	vec := pgvector.NewVector(embedding)
	const q = `
		INSERT INTO insights
		    (session_id, sector, content, embedding, source_entry_ids, tags, memory_strength, created_at, modified_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0.5, now(), now())
		RETURNING id, session_id, sector, content, embedding, source_entry_ids, memory_strength, tags,
		          deleted_at, deleted_by, delete_reason, created_at, modified_at`

	row := s.pool.QueryRow(ctx, q, sessionID, sector, content, vec, sourceEntryIDs, tags)
	return scanInsight(row)
}

// GetInsight implements [ckg.InsightStore].
func (s *Store) GetInsight(ctx context.Context, insightID int64) (ckg.Insight, error) {
	const q = `
		SELECT id, session_id, sector, content, embedding, source_entry_ids, memory_strength, tags,
		       deleted_at, deleted_by, delete_reason, created_at, modified_at
		FROM   insights
		WHERE  id = $1`

	row := s.pool.QueryRow(ctx, q, insightID)
	insight, err := scanInsight(row)
	if err != nil {
		if isNoRows(err) {
			return ckg.Insight{}, ckg.NewError(ckg.KindNotFound, "insight not found").
				WithDetails(map[string]any{"insight_id": insightID})
		}
		return ckg.Insight{}, err
	}
	return insight, nil
}

// UpdateInsight implements [ckg.InsightStore]. It appends a revision and
// overwrites Content/ModifiedAt (and, when provided, MemoryStrength) on the
// insight row; history is preserved via insight_revisions, never overwritten
// (§4.10). The row update and its revision insert share one transaction, so
// either both commit or neither does (§4.1, §9).
func (s *Store) UpdateInsight(ctx context.Context, insightID int64, content string, newMemoryStrength *float64, actor ckg.Actor, reason string, proposalID *int64) (ckg.Insight, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ckg.Insight{}, fmt.Errorf("insights: update: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var oldContent string
	var oldStrength float64
	const selectQ = `
		SELECT content, memory_strength
		FROM   insights
		WHERE  id = $1
		FOR UPDATE`
	if err := tx.QueryRow(ctx, selectQ, insightID).Scan(&oldContent, &oldStrength); err != nil {
		if isNoRows(err) {
			return ckg.Insight{}, ckg.NewError(ckg.KindNotFound, "insight not found").
				WithDetails(map[string]any{"insight_id": insightID})
		}
		return ckg.Insight{}, fmt.Errorf("insights: update: select: %w", err)
	}

	const updateQ = `
		UPDATE insights
		SET    content = $2,
		       memory_strength = COALESCE($3, memory_strength),
		       modified_at = now()
		WHERE  id = $1`
	if _, err := tx.Exec(ctx, updateQ, insightID, content, newMemoryStrength); err != nil {
		return ckg.Insight{}, fmt.Errorf("insights: update: %w", err)
	}

	newStrength := oldStrength
	if newMemoryStrength != nil {
		newStrength = *newMemoryStrength
	}

	if err := insertRevision(ctx, tx, insightID, ckg.RevisionActionUpdate, oldContent, content, oldStrength, newStrength, reason, actor, proposalID); err != nil {
		return ckg.Insight{}, fmt.Errorf("insights: update: revision: %w", err)
	}

	const getQ = `
		SELECT id, session_id, sector, content, embedding, source_entry_ids, memory_strength, tags,
		       deleted_at, deleted_by, delete_reason, created_at, modified_at
		FROM   insights
		WHERE  id = $1`
	updated, err := scanInsight(tx.QueryRow(ctx, getQ, insightID))
	if err != nil {
		return ckg.Insight{}, fmt.Errorf("insights: update: reload: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return ckg.Insight{}, fmt.Errorf("insights: update: commit: %w", err)
	}
	return updated, nil
}

// DeleteInsight implements [ckg.InsightStore]: a soft delete that appends a
// DELETE-action revision in the same transaction (§4.10, §8 "exactly one
// l2_insight_history row ... with matching (insight_id, action)"). Content
// and history remain queryable by ID.
func (s *Store) DeleteInsight(ctx context.Context, insightID int64, actor ckg.Actor, reason string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("insights: delete: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var content string
	var strength float64
	const selectQ = `
		SELECT content, memory_strength
		FROM   insights
		WHERE  id = $1 AND deleted_at IS NULL
		FOR UPDATE`
	if err := tx.QueryRow(ctx, selectQ, insightID).Scan(&content, &strength); err != nil {
		if isNoRows(err) {
			return ckg.NewError(ckg.KindNotFound, "insight not found or already deleted").
				WithDetails(map[string]any{"insight_id": insightID})
		}
		return fmt.Errorf("insights: delete: select: %w", err)
	}

	const q = `
		UPDATE insights
		SET    deleted_at = now(), deleted_by = $2, delete_reason = $3, modified_at = now()
		WHERE  id = $1`
	if _, err := tx.Exec(ctx, q, insightID, string(actor), reason); err != nil {
		return fmt.Errorf("insights: delete: %w", err)
	}

	if err := insertRevision(ctx, tx, insightID, ckg.RevisionActionDelete, content, content, strength, strength, reason, actor, nil); err != nil {
		return fmt.Errorf("insights: delete: revision: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("insights: delete: commit: %w", err)
	}
	return nil
}

// insertRevision appends one insight_revisions row inside tx, the shared
// implementation behind both UpdateInsight and DeleteInsight's history write.
func insertRevision(ctx context.Context, tx pgx.Tx, insightID int64, action ckg.RevisionAction, oldContent, newContent string, oldStrength, newStrength float64, reason string, actor ckg.Actor, proposalID *int64) error {
	const q = `
		INSERT INTO insight_revisions
		    (insight_id, action, old_content, new_content, old_memory_strength, new_memory_strength, reason, actor, proposal_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())`
	_, err := tx.Exec(ctx, q, insightID, action, oldContent, newContent, oldStrength, newStrength, reason, string(actor), proposalID)
	return err
}

// ListInsightRevisions implements [ckg.InsightStore].
func (s *Store) ListInsightRevisions(ctx context.Context, insightID int64) ([]ckg.InsightRevision, error) {
	const q = `
		SELECT id, insight_id, action, old_content, new_content, old_memory_strength, new_memory_strength,
		       reason, actor, proposal_id, created_at
		FROM   insight_revisions
		WHERE  insight_id = $1
		ORDER  BY created_at`

	rows, err := s.pool.Query(ctx, q, insightID)
	if err != nil {
		return nil, fmt.Errorf("insights: list revisions: %w", err)
	}
	revisions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ckg.InsightRevision, error) {
		var r ckg.InsightRevision
		if err := row.Scan(
			&r.ID, &r.InsightID, &r.Action, &r.OldContent, &r.NewContent, &r.OldMemoryStrength, &r.NewMemoryStrength,
			&r.Reason, &r.Actor, &r.ProposalID, &r.CreatedAt,
		); err != nil {
			return ckg.InsightRevision{}, err
		}
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("insights: list revisions: scan: %w", err)
	}
	if revisions == nil {
		revisions = []ckg.InsightRevision{}
	}
	return revisions, nil
}

// ListInsights implements [ckg.InsightStore] (list_insights): non-deleted
// insights for sessionID, newest first, narrowed to sector when it is
// non-empty.
func (s *Store) ListInsights(ctx context.Context, sessionID string, sector ckg.Sector) ([]ckg.Insight, error) {
	args := []any{sessionID}
	q := `
		SELECT id, session_id, sector, content, embedding, source_entry_ids, memory_strength, tags,
		       deleted_at, deleted_by, delete_reason, created_at, modified_at
		FROM   insights
		WHERE  session_id = $1 AND deleted_at IS NULL`
	if sector != "" {
		args = append(args, sector)
		q += " AND sector = $2"
	}
	q += " ORDER BY created_at DESC"

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("insights: list: %w", err)
	}
	insights, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ckg.Insight, error) {
		return scanInsight(row)
	})
	if err != nil {
		return nil, fmt.Errorf("insights: list: scan: %w", err)
	}
	if insights == nil {
		insights = []ckg.Insight{}
	}
	return insights, nil
}

// searchFilterConditions builds the shared pre-filter WHERE conditions for
// the semantic and lexical retrieval legs (§4.9 "Pre-filtering"), following
// the teacher's dynamic WHERE-builder closure pattern.
func searchFilterConditions(opts ckg.ResolvedSearchConfig, args *[]any) []string {
	next := func(v any) string {
		*args = append(*args, v)
		return fmt.Sprintf("$%d", len(*args))
	}

	var conditions []string
	conditions = append(conditions, "deleted_at IS NULL")
	if opts.SectorFilterSet {
		if len(opts.SectorFilter) == 0 {
			conditions = append(conditions, "FALSE")
		} else {
			conditions = append(conditions, "sector = ANY("+next(opts.SectorFilter)+"::text[])")
		}
	}
	if opts.DateFrom != nil {
		conditions = append(conditions, "created_at >= "+next(*opts.DateFrom))
	}
	if opts.DateTo != nil {
		conditions = append(conditions, "created_at <= "+next(*opts.DateTo))
	}
	if len(opts.TagsFilter) > 0 {
		conditions = append(conditions, "tags @> "+next(opts.TagsFilter)+"::text[]")
	}
	return conditions
}

// SearchSemantic implements [ckg.InsightStore] (§4.9 semantic leg): nearest
// neighbors by cosine distance via the pgvector HNSW index.
func (s *Store) SearchSemantic(ctx context.Context, embedding []float32, opts ckg.ResolvedSearchConfig) ([]ckg.InsightResult, error) {
	queryVec := pgvector.NewVector(embedding)
	args := []any{queryVec}
	conditions := searchFilterConditions(opts, &args)

	args = append(args, opts.TopK)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT id, session_id, sector, content, embedding, source_entry_ids, memory_strength, tags,
		       deleted_at, deleted_by, delete_reason, created_at, modified_at,
		       embedding <=> $1 AS distance
		FROM   insights
		WHERE  %s
		ORDER  BY distance
		LIMIT  %s`, strings.Join(conditions, "\n  AND "), limitArg)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("insights: search semantic: %w", err)
	}
	return collectInsightResults(rows)
}

// SearchLexical implements [ckg.InsightStore] (§4.9 lexical leg): PostgreSQL
// full-text search ranked by ts_rank.
func (s *Store) SearchLexical(ctx context.Context, query string, opts ckg.ResolvedSearchConfig) ([]ckg.InsightResult, error) {
	args := []any{query}
	conditions := searchFilterConditions(opts, &args)
	conditions = append(conditions, "to_tsvector('english', content) @@ plainto_tsquery('english', $1)")

	args = append(args, opts.TopK)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT id, session_id, sector, content, embedding, source_entry_ids, memory_strength, tags,
		       deleted_at, deleted_by, delete_reason, created_at, modified_at,
		       ts_rank(to_tsvector('english', content), plainto_tsquery('english', $1)) AS score
		FROM   insights
		WHERE  %s
		ORDER  BY score DESC
		LIMIT  %s`, strings.Join(conditions, "\n  AND "), limitArg)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("insights: search lexical: %w", err)
	}
	return collectInsightResults(rows)
}

func collectInsightResults(rows pgx.Rows) ([]ckg.InsightResult, error) {
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ckg.InsightResult, error) {
		var (
			ir    ckg.InsightResult
			vec   pgvector.Vector
			score float64
		)
		if err := row.Scan(
			&ir.Insight.ID, &ir.Insight.SessionID, &ir.Insight.Sector, &ir.Insight.Content, &vec,
			&ir.Insight.SourceEntryIDs, &ir.Insight.MemoryStrength, &ir.Insight.Tags,
			&ir.Insight.DeletedAt, &ir.Insight.DeletedBy, &ir.Insight.DeleteReason,
			&ir.Insight.CreatedAt, &ir.Insight.ModifiedAt, &score,
		); err != nil {
			return ckg.InsightResult{}, err
		}
		ir.Insight.Embedding = vec.Slice()
		ir.Score = score
		return ir, nil
	})
	if err != nil {
		return nil, fmt.Errorf("insights: scan results: %w", err)
	}
	if results == nil {
		results = []ckg.InsightResult{}
	}
	return results, nil
}

func scanInsight(row pgx.Row) (ckg.Insight, error) {
	var (
		i   ckg.Insight
		vec pgvector.Vector
	)
	if err := row.Scan(
		&i.ID, &i.SessionID, &i.Sector, &i.Content, &vec, &i.SourceEntryIDs, &i.MemoryStrength, &i.Tags,
		&i.DeletedAt, &i.DeletedBy, &i.DeleteReason, &i.CreatedAt, &i.ModifiedAt,
	); err != nil {
		return ckg.Insight{}, err
	}
	i.Embedding = vec.Slice()
	return i, nil
}
