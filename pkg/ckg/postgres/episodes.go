package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg"
)

// StoreEpisode implements [ckg.EpisodeStore]. A zero ep.ID inserts a new
// episode; a non-zero ID upserts in place.
func (s *Store) StoreEpisode(ctx context.Context, ep ckg.Episode) (ckg.Episode, error) {
	vec := pgvector.NewVector(ep.Embedding)

	const q = `
		INSERT INTO episodes (id, session_id, summary, embedding, reward, reflection, started_at, ended_at, insight_ids, created_at)
		VALUES (COALESCE(NULLIF($1, 0), nextval('episodes_id_seq')), $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (id) DO UPDATE SET
		    summary     = EXCLUDED.summary,
		    embedding   = EXCLUDED.embedding,
		    reward      = EXCLUDED.reward,
		    reflection  = EXCLUDED.reflection,
		    started_at  = EXCLUDED.started_at,
		    ended_at    = EXCLUDED.ended_at,
		    insight_ids = EXCLUDED.insight_ids
		RETURNING id, session_id, summary, embedding, reward, reflection, started_at, ended_at, insight_ids, created_at`

	row := s.pool.QueryRow(ctx, q, ep.ID, ep.SessionID, ep.Summary, vec, ep.Reward, ep.Reflection, ep.StartedAt, ep.EndedAt, ep.InsightIDs)
	created, err := scanEpisode(row)
	if err != nil {
		return ckg.Episode{}, fmt.Errorf("episodes: store: %w", err)
	}
	return created, nil
}

// ListEpisodes implements [ckg.EpisodeStore].
func (s *Store) ListEpisodes(ctx context.Context, sessionID string, since time.Time) ([]ckg.Episode, error) {
	const q = `
		SELECT id, session_id, summary, embedding, reward, reflection, started_at, ended_at, insight_ids, created_at
		FROM   episodes
		WHERE  session_id = $1 AND ended_at >= $2
		ORDER  BY started_at`

	rows, err := s.pool.Query(ctx, q, sessionID, since)
	if err != nil {
		return nil, fmt.Errorf("episodes: list: %w", err)
	}
	episodes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ckg.Episode, error) {
		return scanEpisode(row)
	})
	if err != nil {
		return nil, fmt.Errorf("episodes: list: scan: %w", err)
	}
	if episodes == nil {
		episodes = []ckg.Episode{}
	}
	return episodes, nil
}

// episodeCosineDistanceCeiling is the maximum pgvector cosine distance
// (1 - cosine_similarity) admitted by episode-memory retrieval, i.e. the
// similarity >= 0.70 contract of §4.10.
const episodeCosineDistanceCeiling = 0.30

// SearchEpisodes implements [ckg.EpisodeStore]: nearest neighbors by cosine
// distance, bounded by the similarity >= 0.70 retrieval contract.
func (s *Store) SearchEpisodes(ctx context.Context, embedding []float32, topK int) ([]ckg.Episode, error) {
	if topK <= 0 {
		topK = 5
	}
	vec := pgvector.NewVector(embedding)

	const q = `
		SELECT id, session_id, summary, embedding, reward, reflection, started_at, ended_at, insight_ids, created_at
		FROM   episodes
		WHERE  embedding IS NOT NULL AND embedding <=> $1 <= $3
		ORDER  BY embedding <=> $1
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, vec, topK, episodeCosineDistanceCeiling)
	if err != nil {
		return nil, fmt.Errorf("episodes: search: %w", err)
	}
	episodes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ckg.Episode, error) {
		return scanEpisode(row)
	})
	if err != nil {
		return nil, fmt.Errorf("episodes: search: scan: %w", err)
	}
	if episodes == nil {
		episodes = []ckg.Episode{}
	}
	return episodes, nil
}

func scanEpisode(row pgx.Row) (ckg.Episode, error) {
	var (
		ep  ckg.Episode
		vec pgvector.Vector
	)
	if err := row.Scan(&ep.ID, &ep.SessionID, &ep.Summary, &vec, &ep.Reward, &ep.Reflection, &ep.StartedAt, &ep.EndedAt, &ep.InsightIDs, &ep.CreatedAt); err != nil {
		return ckg.Episode{}, err
	}
	ep.Embedding = vec.Slice()
	return ep, nil
}
