// Package postgres is the production [authority.Store] backend: lexical
// search via the pg_trgm extension, dense search via pgvector, and row
// lookup, all against externally-owned authority tables.
//
// The package never creates or migrates schema (that is the schema
// tooling's responsibility); it only issues
// read-only queries against tables and columns named by a [authority.TableSpec].
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/humlab-sead/sead-reconciler/pkg/authority"
)

// Compile-time interface check.
var _ authority.Store = (*Store)(nil)

// Store is the PostgreSQL-backed [authority.Store]. It holds a single
// [pgxpool.Pool] shared by both retrieval channels; each sub-query borrows
// at most one connection per channel.
//
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the authority database at dsn and returns a ready-to-use
// [Store]. pgvector types are registered on every pooled connection so that
// embedding columns can be scanned directly into []float32.
//
// NewStore does not create or alter schema; the authority tables and any
// pg_trgm / vector indexes they rely on must already exist.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("authority postgres: parse dsn: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("authority postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("authority postgres: ping: %w", err)
	}

	return &Store{pool: pool}, nil
}

// NewStoreFromPool wraps an already-constructed pool. Useful when the host
// application owns pool lifecycle (e.g. shares it with health checks).
func NewStoreFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool returns the underlying connection pool, so callers can construct
// other pool-backed readers (e.g. [HierarchyStore]) sharing this Store's
// connections.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// GetByID implements [authority.RowStore]. It returns (nil, nil) when no row
// with the given id exists.
func (s *Store) GetByID(ctx context.Context, spec authority.TableSpec, id int64) (*authority.Row, error) {
	cols, scanSecondary := secondarySelectClause(spec)
	q := fmt.Sprintf(
		"SELECT %s, %s%s FROM %s WHERE %s = $1",
		spec.IDColumn, spec.LabelColumn, cols, spec.Table, spec.IDColumn,
	)

	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("authority postgres: get by id: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("authority postgres: get by id: %w", err)
		}
		return nil, nil
	}

	row, err := scanRow(rows, spec, scanSecondary)
	if err != nil {
		return nil, fmt.Errorf("authority postgres: get by id: scan: %w", err)
	}
	return &row, nil
}

// scanRow scans one result row into an [authority.Row], dispatching
// secondary columns into its Secondary map in the order of secondaryKeys.
func scanRow(row pgx.Row, spec authority.TableSpec, secondaryKeys []string) (authority.Row, error) {
	var r authority.Row
	dest := make([]any, 2+len(secondaryKeys))
	dest[0] = &r.ID
	dest[1] = &r.Label
	vals := make([]any, len(secondaryKeys))
	for i := range vals {
		dest[2+i] = &vals[i]
	}
	if err := row.Scan(dest...); err != nil {
		return authority.Row{}, err
	}
	if len(secondaryKeys) > 0 {
		r.Secondary = make(map[string]any, len(secondaryKeys))
		for i, k := range secondaryKeys {
			r.Secondary[k] = vals[i]
		}
	}
	return r, nil
}

// secondarySelectClause builds the ", col1, col2, ..." fragment for a
// TableSpec's SecondaryColumns and returns the map keys in the same order
// the columns were appended, so the caller's scan destinations line up.
func secondarySelectClause(spec authority.TableSpec) (string, []string) {
	if len(spec.SecondaryColumns) == 0 {
		return "", nil
	}
	keys := make([]string, 0, len(spec.SecondaryColumns))
	var clause string
	for k, col := range spec.SecondaryColumns {
		keys = append(keys, k)
		clause += ", " + col
	}
	return clause, keys
}
