package authority

import "context"

// Hierarchy is the taxonomic lineage attached to a species candidate by the
// taxa orchestrator's hierarchy enrichment step.
type Hierarchy struct {
	GenusID    int64
	GenusName  string
	FamilyID   int64
	FamilyName string
	OrderID    int64
	OrderName  string
}

// HierarchyLookup resolves a species row's genus/family/order lineage via a
// single join query. Implementations must return (nil, nil) for a species
// id with no hierarchy row — the caller keeps the candidate unenriched
// rather than treating absence as an error ("If hierarchy fetch fails,
// candidate is kept without the enrichment").
type HierarchyLookup interface {
	LookupHierarchy(ctx context.Context, speciesID int64) (*Hierarchy, error)
}
