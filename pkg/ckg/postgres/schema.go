// Package postgres provides a PostgreSQL + pgvector backed implementation of
// [ckg.Store]: the graph core (nodes/edges/resolution hyperedges/audit log),
// the L0/L2/working-memory/episode session layers, the SMF proposal
// lifecycle, and IEF feedback accumulation, all sharing one [pgxpool.Pool].
//
// The pgvector extension must be available in the target database;
// [Migrate] installs it automatically via CREATE EXTENSION IF NOT EXISTS.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlGraph = `
CREATE TABLE IF NOT EXISTS nodes (
    id          BIGSERIAL    PRIMARY KEY,
    label       TEXT         NOT NULL,
    name        TEXT         NOT NULL,
    properties  JSONB        NOT NULL DEFAULT '{}',
    vector_id   BIGINT,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    UNIQUE (label, name)
);

CREATE TABLE IF NOT EXISTS edges (
    id                      BIGSERIAL    PRIMARY KEY,
    source_id               BIGINT       NOT NULL REFERENCES nodes (id) ON DELETE CASCADE,
    target_id               BIGINT       NOT NULL REFERENCES nodes (id) ON DELETE CASCADE,
    relation                TEXT         NOT NULL,
    weight                  DOUBLE PRECISION NOT NULL DEFAULT 1.0,
    properties              JSONB        NOT NULL DEFAULT '{}',
    sector                  VARCHAR(20)  NOT NULL DEFAULT 'semantic',
    entrenchment_level      VARCHAR(20)  NOT NULL DEFAULT 'default',
    created_at              TIMESTAMPTZ  NOT NULL DEFAULT now(),
    modified_at             TIMESTAMPTZ  NOT NULL DEFAULT now(),
    last_accessed           TIMESTAMPTZ  NOT NULL DEFAULT now(),
    access_count            BIGINT       NOT NULL DEFAULT 0,
    last_reclassification   JSONB,
    UNIQUE (source_id, target_id, relation)
);

CREATE INDEX IF NOT EXISTS idx_edges_last_accessed ON edges (last_accessed DESC);
CREATE INDEX IF NOT EXISTS idx_edges_sector        ON edges (sector);
CREATE INDEX IF NOT EXISTS idx_edges_source         ON edges (source_id);
CREATE INDEX IF NOT EXISTS idx_edges_target         ON edges (target_id);
CREATE INDEX IF NOT EXISTS idx_edges_properties_gin ON edges USING GIN (properties);
CREATE INDEX IF NOT EXISTS idx_nodes_properties_gin ON nodes USING GIN (properties);

CREATE TABLE IF NOT EXISTS audit_log (
    id          BIGSERIAL    PRIMARY KEY,
    edge_id     BIGINT,
    action      TEXT         NOT NULL,
    blocked     BOOLEAN      NOT NULL DEFAULT false,
    reason      TEXT         NOT NULL DEFAULT '',
    actor       TEXT         NOT NULL DEFAULT '',
    properties  JSONB        NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_audit_log_created_at ON audit_log (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_log_edge_id     ON audit_log (edge_id);
`

const ddlSession = `
CREATE TABLE IF NOT EXISTS raw_dialogue (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    speaker     TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_raw_dialogue_session_created
    ON raw_dialogue (session_id, created_at);

CREATE TABLE IF NOT EXISTS insight_revisions (
    id                   BIGSERIAL    PRIMARY KEY,
    insight_id           BIGINT       NOT NULL,
    action               TEXT         NOT NULL DEFAULT 'UPDATE',
    old_content          TEXT         NOT NULL DEFAULT '',
    new_content          TEXT         NOT NULL DEFAULT '',
    old_memory_strength  DOUBLE PRECISION NOT NULL DEFAULT 0,
    new_memory_strength  DOUBLE PRECISION NOT NULL DEFAULT 0,
    reason               TEXT         NOT NULL DEFAULT '',
    actor                TEXT         NOT NULL,
    proposal_id          BIGINT,
    created_at           TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_insight_revisions_insight
    ON insight_revisions (insight_id, created_at);

CREATE TABLE IF NOT EXISTS working_memory (
    session_id     TEXT         NOT NULL,
    insight_id     BIGINT       NOT NULL,
    importance     DOUBLE PRECISION NOT NULL DEFAULT 0,
    last_accessed  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    access_count   BIGINT       NOT NULL DEFAULT 0,
    PRIMARY KEY (session_id, insight_id)
);

CREATE TABLE IF NOT EXISTS stale_memory (
    session_id  TEXT         NOT NULL,
    insight_id  BIGINT       NOT NULL,
    evicted_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (session_id, insight_id)
);

CREATE TABLE IF NOT EXISTS smf_proposals (
    id                         BIGSERIAL    PRIMARY KEY,
    kind                       TEXT         NOT NULL,
    target_edge_id             BIGINT,
    target_insight_id          BIGINT,
    payload                    JSONB        NOT NULL DEFAULT '{}',
    rationale                  TEXT         NOT NULL DEFAULT '',
    proposed_by                TEXT         NOT NULL,
    required_level             TEXT         NOT NULL,
    status                     TEXT         NOT NULL DEFAULT 'pending',
    neutrality_verdict_neutral BOOLEAN      NOT NULL DEFAULT false,
    neutrality_reason          TEXT         NOT NULL DEFAULT '',
    consent_primary            BOOLEAN      NOT NULL DEFAULT false,
    consent_secondary          BOOLEAN      NOT NULL DEFAULT false,
    created_at                 TIMESTAMPTZ  NOT NULL DEFAULT now(),
    resolved_at                TIMESTAMPTZ,
    expires_at                 TIMESTAMPTZ  NOT NULL,
    undo_of                    BIGINT
);

CREATE INDEX IF NOT EXISTS idx_smf_proposals_status ON smf_proposals (status);

CREATE TABLE IF NOT EXISTS ief_feedback (
    id                 BIGSERIAL    PRIMARY KEY,
    query              TEXT         NOT NULL,
    retrieved_context  TEXT         NOT NULL,
    answer             TEXT         NOT NULL,
    reward             DOUBLE PRECISION NOT NULL,
    reasoning          TEXT         NOT NULL DEFAULT '',
    created_at         TIMESTAMPTZ  NOT NULL DEFAULT now(),
    recalibrated       BOOLEAN      NOT NULL DEFAULT false
);

CREATE INDEX IF NOT EXISTS idx_ief_feedback_pending ON ief_feedback (recalibrated) WHERE NOT recalibrated;
`

// ddlVector returns the L2 DDL with the embedding dimension baked into the
// vector column types, following the teacher's ddlL2 pattern.
func ddlVector(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS insights (
    id               BIGSERIAL    PRIMARY KEY,
    session_id       TEXT         NOT NULL,
    sector           VARCHAR(20)  NOT NULL DEFAULT 'semantic',
    content          TEXT         NOT NULL,
    embedding        vector(%d),
    source_entry_ids BIGINT[]     NOT NULL DEFAULT '{}',
    memory_strength  DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    tags             TEXT[]       NOT NULL DEFAULT '{}',
    deleted_at       TIMESTAMPTZ,
    deleted_by       TEXT         NOT NULL DEFAULT '',
    delete_reason    TEXT         NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ  NOT NULL DEFAULT now(),
    modified_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_insights_session   ON insights (session_id);
CREATE INDEX IF NOT EXISTS idx_insights_sector     ON insights (sector);
CREATE INDEX IF NOT EXISTS idx_insights_embedding  ON insights USING hnsw (embedding vector_cosine_ops);
CREATE INDEX IF NOT EXISTS idx_insights_fts
    ON insights USING GIN (to_tsvector('english', content));

CREATE TABLE IF NOT EXISTS episodes (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    summary     TEXT         NOT NULL,
    embedding   vector(%d),
    reward      DOUBLE PRECISION NOT NULL DEFAULT 0,
    reflection  TEXT         NOT NULL DEFAULT '',
    started_at  TIMESTAMPTZ  NOT NULL,
    ended_at    TIMESTAMPTZ  NOT NULL,
    insight_ids BIGINT[]     NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_episodes_session   ON episodes (session_id, started_at);
CREATE INDEX IF NOT EXISTS idx_episodes_embedding ON episodes USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions, embeddingDimensions)
}

// Migrate creates or ensures all required tables, indices, and extensions
// exist. It is idempotent and safe to call on every application start.
//
// embeddingDimensions must match the output dimension of the configured
// embedding oracle (§4.2). Changing it after the first migration requires a
// manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlVector(embeddingDimensions),
		ddlGraph,
		ddlSession,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
