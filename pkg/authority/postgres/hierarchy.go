package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/humlab-sead/sead-reconciler/pkg/authority"
)

// HierarchySpec names the flattened species→genus→family→order view and its
// columns, the way [github.com/humlab-sead/sead-reconciler/pkg/authority.TableSpec]
// names a strategy's table. One row per species id, joined ahead of time so
// the lookup stays a single query.
type HierarchySpec struct {
	Table            string
	SpeciesIDColumn  string
	GenusIDColumn    string
	GenusNameColumn  string
	FamilyIDColumn   string
	FamilyNameColumn string
	OrderIDColumn    string
	OrderNameColumn  string
}

// HierarchyStore implements [authority.HierarchyLookup] against the
// configured view, using the same pgx query-and-scan shape as
// [Store.GetByID].
type HierarchyStore struct {
	pool *pgxpool.Pool
	spec HierarchySpec
}

// Compile-time interface check.
var _ authority.HierarchyLookup = (*HierarchyStore)(nil)

// NewHierarchyStore returns a HierarchyStore reading from spec via pool.
func NewHierarchyStore(pool *pgxpool.Pool, spec HierarchySpec) *HierarchyStore {
	return &HierarchyStore{pool: pool, spec: spec}
}

// LookupHierarchy implements [authority.HierarchyLookup].
func (h *HierarchyStore) LookupHierarchy(ctx context.Context, speciesID int64) (*authority.Hierarchy, error) {
	query := fmt.Sprintf(
		`SELECT %s, %s, %s, %s, %s, %s FROM %s WHERE %s = $1`,
		h.spec.GenusIDColumn, h.spec.GenusNameColumn,
		h.spec.FamilyIDColumn, h.spec.FamilyNameColumn,
		h.spec.OrderIDColumn, h.spec.OrderNameColumn,
		h.spec.Table, h.spec.SpeciesIDColumn,
	)

	var hier authority.Hierarchy
	err := h.pool.QueryRow(ctx, query, speciesID).Scan(
		&hier.GenusID, &hier.GenusName,
		&hier.FamilyID, &hier.FamilyName,
		&hier.OrderID, &hier.OrderName,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: lookup hierarchy for species %d: %w", speciesID, err)
	}
	return &hier, nil
}
