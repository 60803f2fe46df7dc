package taxa

import (
	"context"
	"fmt"

	"github.com/humlab-sead/sead-reconciler/pkg/authority"
	"github.com/humlab-sead/sead-reconciler/pkg/strategy"
)

// EntityName is the entity-type name the taxa orchestrator is registered
// under.
const EntityName = "taxon"

// StrategyAdapter makes an [Orchestrator] satisfy [strategy.Strategy] so the
// registry can dispatch to it exactly like any generic strategy. Canonical
// URIs are built under [EntityName], properties are listed from the
// adapter's own descriptor, and Preview resolves an id through the
// orchestrator (species first, then genus), since species and genus rows
// share one identifier namespace.
type StrategyAdapter struct {
	*Orchestrator
	desc             strategy.Descriptor
	species          strategy.Strategy
	identifierPrefix string
}

// Compile-time interface check.
var _ strategy.Strategy = (*StrategyAdapter)(nil)

// NewStrategyAdapter wraps orch as a [strategy.Strategy] registered under
// [EntityName]. displayName and properties are surfaced through Descriptor
// and ListProperties.
func NewStrategyAdapter(orch *Orchestrator, species strategy.Strategy, displayName string, properties []strategy.PropertyDescriptor, identifierPrefix string) *StrategyAdapter {
	return &StrategyAdapter{
		Orchestrator: orch,
		species:      species,
		desc: strategy.Descriptor{
			Name:        EntityName,
			DisplayName: displayName,
			Properties:  properties,
		},
		identifierPrefix: identifierPrefix,
	}
}

// Search implements [strategy.Strategy]. mode is ignored — taxa have no
// bibliographic-style mode dispatch.
func (a *StrategyAdapter) Search(ctx context.Context, mention string, limit int, properties map[string]any, _ string) ([]authority.Candidate, error) {
	return a.Orchestrator.Search(ctx, mention, limit, properties)
}

// Descriptor implements [strategy.Strategy].
func (a *StrategyAdapter) Descriptor() strategy.Descriptor { return a.desc }

// ListProperties implements [strategy.Strategy].
func (a *StrategyAdapter) ListProperties() []strategy.PropertyDescriptor {
	out := make([]strategy.PropertyDescriptor, len(a.desc.Properties))
	copy(out, a.desc.Properties)
	return out
}

// CanonicalURI implements [strategy.Strategy].
func (a *StrategyAdapter) CanonicalURI(id int64) string {
	return fmt.Sprintf("%s/%s/%d", trimTrailingSlash(a.identifierPrefix), EntityName, id)
}

// Preview implements [strategy.Strategy] by delegating to the species
// strategy's row lookup, falling back to GetByID's genus fallback for the
// description text.
func (a *StrategyAdapter) Preview(ctx context.Context, id int64) (*strategy.Preview, error) {
	row, err := a.Orchestrator.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("taxa: preview: %w", err)
	}
	if row == nil {
		return nil, nil
	}
	return &strategy.Preview{
		Label:       row.Label,
		Description: a.desc.DisplayName,
		Type:        EntityName,
		Extras:      row.Secondary,
	}, nil
}

func trimTrailingSlash(s string) string {
	if len(s) > 0 && s[len(s)-1] == '/' {
		return s[:len(s)-1]
	}
	return s
}
