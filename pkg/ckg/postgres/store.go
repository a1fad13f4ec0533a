package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg"
	"github.com/ethrdev/cognitive-memory-sub004/pkg/ckg/sector"
)

var _ ckg.Store = (*Store)(nil)

// Store is the PostgreSQL-backed [ckg.Store]. It holds a single
// [pgxpool.Pool] and implements every storage interface the CKG engine
// requires: graph core, audit log, L0/L2/working-memory/episode session
// layers, SMF proposals, and IEF feedback.
//
// All operations are safe for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	classify *sector.Classifier
}

// NewStore opens a connection pool to dsn, registers pgvector types on every
// connection, and runs [Migrate] to ensure the schema exists.
//
// embeddingDimensions must match the dimension of the configured embedding
// oracle. maxRulesPerSector bounds the sector classifier's rule table
// (0 uses the default cap of 50, §4.3).
func NewStore(ctx context.Context, dsn string, embeddingDimensions, maxRulesPerSector int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{
		pool:     pool,
		classify: sector.New(maxRulesPerSector),
	}, nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// isNoRows reports whether err is the pgx "no rows" sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
