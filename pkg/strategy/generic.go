package strategy

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/humlab-sead/sead-reconciler/pkg/authority"
	"github.com/humlab-sead/sead-reconciler/pkg/normalize"
	"github.com/humlab-sead/sead-reconciler/pkg/provider/embeddings"
)

// Generic is the data-driven [Strategy] implementation that covers every
// entity type whose behaviour is fully described by a [Descriptor], which
// is all of them once bibliographic mode dispatch and location
// pre-filtering are folded into Descriptor fields rather than bespoke code.
// Taxa are the one exception: they are routed through the orchestrator in
// pkg/taxa, which itself composes several Generic strategies (one per rank).
type Generic struct {
	desc             Descriptor
	store            authority.Store
	embedder         embeddings.Provider
	defaults         Defaults
	identifierPrefix string
}

// Compile-time interface check.
var _ Strategy = (*Generic)(nil)

// NewGeneric constructs a [Generic] strategy. identifierPrefix is the
// configured identifier_space URI prefix, used by CanonicalURI.
func NewGeneric(desc Descriptor, store authority.Store, embedder embeddings.Provider, defaults Defaults, identifierPrefix string) *Generic {
	return &Generic{desc: desc, store: store, embedder: embedder, defaults: defaults, identifierPrefix: identifierPrefix}
}

// Descriptor implements [Strategy].
func (g *Generic) Descriptor() Descriptor { return g.desc }

// CanonicalURI implements [Strategy].
func (g *Generic) CanonicalURI(id int64) string {
	return fmt.Sprintf("%s/%s/%d", trimTrailingSlash(g.identifierPrefix), g.desc.Name, id)
}

// AutoMatchParams implements [Strategy].
func (g *Generic) AutoMatchParams() (threshold, margin float64) {
	return effectiveFloat(g.desc.AutoMatchThreshold, g.defaults.AutoMatchThreshold),
		effectiveFloat(g.desc.AutoMatchMargin, g.defaults.AutoMatchMargin)
}

// GetByID implements [Strategy].
func (g *Generic) GetByID(ctx context.Context, id int64) (*authority.Row, error) {
	return g.store.GetByID(ctx, g.desc.Spec, id)
}

// Preview implements [Strategy].
func (g *Generic) Preview(ctx context.Context, id int64) (*Preview, error) {
	row, err := g.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: preview: %w", g.desc.Name, err)
	}
	if row == nil {
		return nil, nil
	}
	return &Preview{
		Label:       row.Label,
		Description: g.desc.DisplayName,
		Type:        g.desc.Name,
		Extras:      row.Secondary,
	}, nil
}

// ListProperties implements [Strategy].
func (g *Generic) ListProperties() []PropertyDescriptor {
	out := make([]PropertyDescriptor, len(g.desc.Properties))
	copy(out, g.desc.Properties)
	return out
}

// resolveMode resolves the [authority.TableSpec] and [authority.TrigramQuery]
// to query for mode: a configured bibliographic mode substitutes its own
// match column for NormLabelColumn and carries its operator/threshold
// through to the trigram channel, while the display LabelColumn is left
// untouched (mode switches the column being matched, not the column
// shown to callers). An empty mode ("") resolves to the strategy's
// DefaultMode; a mode naming no configured entry leaves both unchanged.
func (g *Generic) resolveMode(mode string) (authority.TableSpec, authority.TrigramQuery) {
	spec := g.desc.Spec
	if mode == "" {
		mode = g.desc.DefaultMode
	}
	var tq authority.TrigramQuery
	if mc, ok := g.desc.Modes[mode]; ok {
		if mc.Column != "" {
			spec.NormLabelColumn = mc.Column
		}
		tq.Operator = mc.Operator
		tq.MinSimilarity = mc.MinSimilarity
	}
	return spec, tq
}

// Search implements [Strategy]: it runs the trigram and semantic channels
// concurrently, blends them, and applies any advisory
// property-filter boosts. A structural property value is applied as
// a pre-filter before either channel runs.
func (g *Generic) Search(ctx context.Context, mention string, limit int, properties map[string]any, mode string) ([]authority.Candidate, error) {
	qNorm := normalize.TruncateForMatch(normalize.Text(mention))
	if qNorm == "" {
		return []authority.Candidate{}, nil
	}

	spec, tq := g.resolveMode(mode)
	pre, post := splitProperties(g.desc.Properties, properties)

	kTrgm := effectiveInt(g.desc.KTrgm, g.defaults.KTrgm)
	kSem := effectiveInt(g.desc.KSem, g.defaults.KSem)
	kFinal := effectiveInt(g.desc.KFinal, g.defaults.KFinal)
	if limit > 0 && limit < kFinal {
		kFinal = limit
	}
	alpha := g.desc.Alpha
	if alpha == 0 {
		alpha = g.defaults.Alpha
	}

	var trgmRows, semRows []authority.ScoredRow

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		rows, err := g.store.SearchTrigram(gctx, spec, qNorm, kTrgm, pre, tq)
		if err != nil {
			slog.Warn("strategy: trigram channel failed", "entity", g.desc.Name, "err", err)
			return nil // recoverable: degrade to sem-only, never fail the sub-query
		}
		trgmRows = rows
		return nil
	})
	grp.Go(func() error {
		qEmb := embeddingQuery(gctx, g.embedder, mention)
		rows, err := g.store.SearchSemantic(gctx, spec, qEmb, kSem, pre)
		if err != nil {
			slog.Warn("strategy: semantic channel failed", "entity", g.desc.Name, "err", err)
			return nil // recoverable: degrade to trigram-only
		}
		semRows = rows
		return nil
	})
	_ = grp.Wait() // channel errors are absorbed above; this never returns non-nil

	candidates := authority.Blend(trgmRows, semRows, authority.BlendOptions{Alpha: alpha, KFinal: kFinal})
	candidates = applyPostFilterBoosts(ctx, g.store, spec, candidates, post)
	// Boosting can reorder candidates; re-sort to restore the blend-desc,
	// label-asc invariant.
	resortByBlend(candidates)
	return candidates, nil
}

func resortByBlend(c []authority.Candidate) {
	for i := 1; i < len(c); i++ {
		for j := i; j > 0; j-- {
			if c[j].Blend > c[j-1].Blend || (c[j].Blend == c[j-1].Blend && c[j].Label < c[j-1].Label) {
				c[j], c[j-1] = c[j-1], c[j]
			} else {
				break
			}
		}
	}
}

func trimTrailingSlash(s string) string {
	if len(s) > 0 && s[len(s)-1] == '/' {
		return s[:len(s)-1]
	}
	return s
}
