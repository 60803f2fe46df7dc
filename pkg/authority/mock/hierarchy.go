package mock

import (
	"context"
	"sync"

	"github.com/humlab-sead/sead-reconciler/pkg/authority"
)

// HierarchyStore is an in-memory [authority.HierarchyLookup] test double.
type HierarchyStore struct {
	mu   sync.RWMutex
	data map[int64]authority.Hierarchy
}

// NewHierarchyStore returns an empty HierarchyStore.
func NewHierarchyStore() *HierarchyStore {
	return &HierarchyStore{data: make(map[int64]authority.Hierarchy)}
}

// Compile-time interface check.
var _ authority.HierarchyLookup = (*HierarchyStore)(nil)

// Seed attaches hier to speciesID.
func (h *HierarchyStore) Seed(speciesID int64, hier authority.Hierarchy) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.data[speciesID] = hier
}

// LookupHierarchy implements [authority.HierarchyLookup].
func (h *HierarchyStore) LookupHierarchy(_ context.Context, speciesID int64) (*authority.Hierarchy, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	hier, ok := h.data[speciesID]
	if !ok {
		return nil, nil
	}
	return &hier, nil
}
