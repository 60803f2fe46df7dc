// Package strategy implements the entity strategy registry: a
// process-wide, read-only-after-init mapping from entity-type name to the
// bundle of search configuration and access procedures that type needs.
//
// Strategies are data-driven variants over a shared [Strategy] capability
// set — differences between entity types are [Descriptor] fields (table,
// columns, filters, bibliographic mode table) rather than bespoke code.
// The one genuine behavioural fork —
// bibliographic reference "mode" dispatch — is modelled as an explicit
// enumerated parameter rather than inferred from input.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/humlab-sead/sead-reconciler/pkg/authority"
	"github.com/humlab-sead/sead-reconciler/pkg/provider/embeddings"
)

// ErrUnknownEntityType is returned by [Registry.Get] when name has no
// registered strategy.
var ErrUnknownEntityType = errors.New("strategy: unknown entity type")

// PropertyType enumerates the value shapes a [PropertyDescriptor] accepts.
type PropertyType string

const (
	PropertyString PropertyType = "string"
	PropertyNumber PropertyType = "number"
	PropertyDate   PropertyType = "date"
)

// PropertyKind distinguishes structural pre-filters, which restrict the
// candidate universe before retrieval, from advisory post-filters, which
// boost blend scores without excluding anything.
type PropertyKind string

const (
	// KindPreFilter properties restrict retrieval to rows matching the
	// property's backing column exactly.
	KindPreFilter PropertyKind = "pre_filter"

	// KindExactBoost properties boost blend when the submitted value
	// exactly matches the backing column, with no effect when absent.
	KindExactBoost PropertyKind = "exact_boost"

	// KindProximityBoost properties boost blend based on numeric distance
	// (e.g. latitude/longitude) within a configured radius.
	KindProximityBoost PropertyKind = "proximity_boost"

	// KindRangeFilter properties restrict retrieval to rows whose column
	// falls within a submitted [min, max] range, rendered as an
	// [authority.RangeFilter] pre-filter. Used for the bibliographic
	// publication_year range query: the property is
	// pre-filtering, so omitting it leaves NULL rows included and supplying
	// it excludes them via ordinary SQL BETWEEN semantics.
	KindRangeFilter PropertyKind = "range_filter"
)

// PropertyDescriptor describes one filterable or suggestible property of an
// entity type, surfaced verbatim through get_properties and used by
// the property-filtered query layer to decide how a submitted value
// is applied.
type PropertyDescriptor struct {
	ID          string
	Name        string
	Description string
	Type        PropertyType
	Kind        PropertyKind
	Column      string

	// BoostWeight bounds how much an exact or proximity match may add to
	// blend; the boosted score is capped at 1.0. Ignored for KindPreFilter.
	BoostWeight float64

	// RadiusKm is the proximity boost's radius for KindProximityBoost
	// properties compared against Column/PairColumn (e.g. latitude with
	// PairColumn longitude).
	RadiusKm float64

	// PairColumn names a second numeric column forming a coordinate pair
	// with Column (latitude + longitude). Empty for single-column
	// properties.
	PairColumn string
}

// Descriptor is the data that differentiates one entity-type strategy from
// another.
type Descriptor struct {
	Name        string
	DisplayName string
	Spec        authority.TableSpec
	Properties  []PropertyDescriptor

	// KTrgm, KSem, KFinal override the registry-wide defaults for this
	// entity type. Zero means "use the default".
	KTrgm, KSem, KFinal int

	// Alpha overrides the registry-wide blend weight. Zero means "use the
	// default" (note: a genuine α=0 entity must set a tiny non-zero
	// sentinel like 1e-9 — no entity in this catalog needs that).
	Alpha float64

	// AutoMatchThreshold, AutoMatchMargin override the registry-wide
	// defaults.
	AutoMatchThreshold, AutoMatchMargin float64

	// Modes declares the bibliographic-reference search modes this entity
	// type supports. Empty for every non-bibliographic entity type.
	Modes map[string]ModeConfig

	// DefaultMode is used when Search is called without an explicit mode
	// for an entity type that declares Modes.
	DefaultMode string
}

// ModeConfig names the column, operator, and per-call threshold override
// one bibliographic search mode uses: mode switches both the column being
// matched and the trigram comparison function.
type ModeConfig struct {
	// Column is the match column substituted into TableSpec.NormLabelColumn
	// for this mode (e.g. "title", "authors", "bugs_reference",
	// "full_reference"). The display LabelColumn is unaffected.
	Column string

	// Operator selects the pg_trgm comparison function the trigram channel
	// uses for this mode. Empty behaves like [authority.OpSimilarity].
	Operator authority.TrigramOperator

	// MinSimilarity overrides the channel's default trigram acceptance
	// floor for this mode only.
	MinSimilarity float64
}

// Preview is the structured shape returned by the preview/flyout operations.
type Preview struct {
	Label       string
	Description string
	Type        string
	Extras      map[string]any
}

// Defaults bundles the registry-wide retrieval parameters a [Descriptor]
// may override per entity type.
type Defaults struct {
	KTrgm, KSem, KFinal                 int
	Alpha                               float64
	AutoMatchThreshold, AutoMatchMargin float64
}

// Strategy is the per-entity-type capability set.
type Strategy interface {
	// Search runs the hybrid retrieval pipeline for mention and returns up
	// to limit candidates. properties carries any property-filter values
	// supplied with the query; mode selects a bibliographic search
	// mode and is ignored by strategies that do not declare Modes.
	Search(ctx context.Context, mention string, limit int, properties map[string]any, mode string) ([]authority.Candidate, error)

	// GetByID returns the row for id, or (nil, nil) if it does not exist.
	GetByID(ctx context.Context, id int64) (*authority.Row, error)

	// ListProperties returns this strategy's property descriptors.
	ListProperties() []PropertyDescriptor

	// CanonicalURI builds the canonical id for a row id.
	CanonicalURI(id int64) string

	// Preview renders a preview/flyout payload for id.
	Preview(ctx context.Context, id int64) (*Preview, error)

	// Descriptor returns the static descriptor backing this strategy.
	Descriptor() Descriptor

	// AutoMatchParams returns the effective (threshold, margin) for this
	// strategy, after applying Descriptor overrides to the registry
	// defaults.
	AutoMatchParams() (threshold, margin float64)
}

// Registry is the process-wide, read-only-after-init entity-type → Strategy
// mapping. Safe to share across goroutines without locking once
// construction (calls to Register) is complete; the registry is read-only
// after initialization.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	names      []string // insertion order, for suggest_type / metadata listings
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// Register adds a strategy under its Descriptor().Name. Registering the
// same name twice replaces the previous entry silently — callers
// constructing the registry at init time are expected to pass a
// non-conflicting configuration manifest; inconsistent configuration is
// expected to abort process startup at a higher layer.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := s.Descriptor().Name
	if _, exists := r.strategies[name]; !exists {
		r.names = append(r.names, name)
	}
	r.strategies[name] = s
}

// Get looks up the strategy for entityType. Lookup is case-sensitive.
func (r *Registry) Get(entityType string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[entityType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntityType, entityType)
	}
	return s, nil
}

// Names returns registered entity-type names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// All returns every registered strategy in registration order.
func (r *Registry) All() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Strategy, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.strategies[n])
	}
	return out
}

// SuggestTypes returns entity-type descriptors (name, display name) whose
// name or display name starts with prefix (case-insensitive), ordered
// alphabetically by display name. Empty prefix matches every registered
// type.
func (r *Registry) SuggestTypes(prefix string) []Descriptor {
	prefix = strings.ToLower(prefix)
	var out []Descriptor
	for _, s := range r.All() {
		d := s.Descriptor()
		if prefix == "" || strings.HasPrefix(strings.ToLower(d.Name), prefix) || strings.HasPrefix(strings.ToLower(d.DisplayName), prefix) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out
}

// embeddingQuery embeds mention using prov, returning (nil, nil) instead of
// an error on any failure so callers can degrade to trigram-only.
func embeddingQuery(ctx context.Context, prov embeddings.Provider, mention string) []float32 {
	if prov == nil {
		return nil
	}
	vec, err := prov.Embed(ctx, mention)
	if err != nil {
		return nil
	}
	return vec
}

func effectiveInt(override, fallback int) int {
	if override > 0 {
		return override
	}
	return fallback
}

func effectiveFloat(override, fallback float64) float64 {
	if override > 0 {
		return override
	}
	return fallback
}
