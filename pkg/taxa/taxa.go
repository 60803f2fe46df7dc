package taxa

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/humlab-sead/sead-reconciler/pkg/authority"
	"github.com/humlab-sead/sead-reconciler/pkg/strategy"
)

// cascadeThreshold is the top-candidate blend below which a species-level
// query cascades to the genus strategy.
const cascadeThreshold = 0.5

// qualifierPenalty is applied to every returned blend when the mention
// carried an uncertainty qualifier.
const qualifierPenalty = 0.85

// Orchestrator composes a species and a genus
// [strategy.Strategy]. It is registered under the "taxon" entity type
// alongside (not instead of) the registry's other strategies, since taxa
// dispatch needs orchestration logic the generic registry lookup does not
// provide.
type Orchestrator struct {
	species   strategy.Strategy
	genus     strategy.Strategy
	hierarchy authority.HierarchyLookup
}

// New returns an Orchestrator dispatching between species and genus,
// enriching species-level results via hierarchy. hierarchy may be nil, in
// which case enrichment is skipped.
func New(species, genus strategy.Strategy, hierarchy authority.HierarchyLookup) *Orchestrator {
	return &Orchestrator{species: species, genus: genus, hierarchy: hierarchy}
}

// Search runs the full taxa pipeline for mention: parse, dispatch (with
// cascade and split handling), qualifier penalty, hierarchy enrichment, and
// final re-sort.
func (o *Orchestrator) Search(ctx context.Context, mention string, limit int, properties map[string]any) ([]authority.Candidate, error) {
	parsed := Parse(mention)

	var candidates []authority.Candidate
	var err error
	if len(parsed.SplitGenera) > 1 {
		candidates, err = o.searchSplit(ctx, parsed, limit, properties)
	} else {
		candidates, err = o.searchSingle(ctx, parsed, limit, properties)
	}
	if err != nil {
		return nil, err
	}

	if parsed.Qualifier != QualifierNone {
		for i := range candidates {
			candidates[i].Blend = clip01(candidates[i].Blend * qualifierPenalty)
			setMetadata(&candidates[i], "uncertainty", string(parsed.Qualifier))
		}
	}

	o.enrichHierarchy(ctx, candidates)
	if parsed.Author != "" {
		o.tieBreakByAuthor(ctx, candidates, parsed.Author)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Blend != candidates[j].Blend {
			return candidates[i].Blend > candidates[j].Blend
		}
		return candidates[i].Label < candidates[j].Label
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// AutoMatchParams returns the species strategy's auto-match threshold and
// margin, used for every taxa candidate regardless of resolved rank — the
// catalog calibrates one threshold for the "taxon" entity type.
func (o *Orchestrator) AutoMatchParams() (threshold, margin float64) {
	return o.species.AutoMatchParams()
}

// GetByID dispatches to the species strategy, falling back to genus when the
// id is not a species row. Taxa rows share one identifier namespace, so
// either strategy's canonical URI may be handed back to preview/get_by_id.
func (o *Orchestrator) GetByID(ctx context.Context, id int64) (*authority.Row, error) {
	row, err := o.species.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if row != nil {
		return row, nil
	}
	return o.genus.GetByID(ctx, id)
}

// searchSingle dispatches one (non-split) parsed mention and tags every
// returned candidate with its resolved genus/species/rank/matched_at
// fields, so callers never have to re-derive rank
// from which strategy happened to answer.
func (o *Orchestrator) searchSingle(ctx context.Context, p Parsed, limit int, properties map[string]any) ([]authority.Candidate, error) {
	if p.Level == LevelGenus {
		candidates, err := o.genus.Search(ctx, p.Genus, limit, properties, "")
		if err != nil {
			return nil, err
		}
		tagGenusLevel(candidates, p.Genus)
		if p.Indeterminate {
			for i := range candidates {
				setMetadata(&candidates[i], "indeterminate", true)
			}
		}
		return candidates, nil
	}

	mention := p.Genus + " " + p.Species
	candidates, err := o.species.Search(ctx, mention, limit, properties, "")
	if err != nil {
		return nil, err
	}
	if len(candidates) > 0 && candidates[0].Blend >= cascadeThreshold {
		tagSpeciesLevel(candidates, p.Genus, p.Species)
		return candidates, nil
	}

	genusCandidates, err := o.genus.Search(ctx, p.Genus, limit, properties, "")
	if err != nil {
		return nil, err
	}
	tagGenusLevel(genusCandidates, p.Genus)
	for i := range genusCandidates {
		setMetadata(&genusCandidates[i], "original_level", "species")
	}
	return genusCandidates, nil
}

func tagGenusLevel(candidates []authority.Candidate, genus string) {
	for i := range candidates {
		setMetadata(&candidates[i], "genus", genus)
		setMetadata(&candidates[i], "rank", string(LevelGenus))
		setMetadata(&candidates[i], "matched_at", string(LevelGenus))
	}
}

func tagSpeciesLevel(candidates []authority.Candidate, genus, species string) {
	for i := range candidates {
		setMetadata(&candidates[i], "genus", genus)
		setMetadata(&candidates[i], "species", species)
		setMetadata(&candidates[i], "rank", string(LevelSpecies))
		setMetadata(&candidates[i], "matched_at", string(LevelSpecies))
	}
}

// searchSplit implements the split-identification fan-out: each alternative
// genus is queried for limit/2 candidates, unioned, tagged, and truncated to
// limit.
func (o *Orchestrator) searchSplit(ctx context.Context, p Parsed, limit int, properties map[string]any) ([]authority.Candidate, error) {
	half := limit / 2
	if half < 1 {
		half = 1
	}
	label := strings.Join(p.SplitGenera, "/")

	var all []authority.Candidate
	for _, genus := range p.SplitGenera {
		sub := p
		sub.Genus = genus
		sub.SplitGenera = nil

		cands, err := o.searchSingle(ctx, sub, half, properties)
		if err != nil {
			slog.Warn("taxa: split alternative search failed", "genus", genus, "err", err)
			continue
		}
		for i := range cands {
			setMetadata(&cands[i], "split_identification", label)
		}
		all = append(all, cands...)
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Blend > all[j].Blend })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// enrichHierarchy attaches genus/family/order lineage to each candidate. A
// failed or absent lookup leaves the candidate as-is.
func (o *Orchestrator) enrichHierarchy(ctx context.Context, candidates []authority.Candidate) {
	if o.hierarchy == nil {
		return
	}
	for i := range candidates {
		if candidates[i].Metadata["rank"] != string(LevelSpecies) {
			continue
		}
		hier, err := o.hierarchy.LookupHierarchy(ctx, candidates[i].ID)
		if err != nil {
			slog.Warn("taxa: hierarchy lookup failed", "id", candidates[i].ID, "err", err)
			continue
		}
		if hier == nil {
			continue
		}
		setMetadata(&candidates[i], "genus_id", hier.GenusID)
		setMetadata(&candidates[i], "genus_name", hier.GenusName)
		setMetadata(&candidates[i], "family_id", hier.FamilyID)
		setMetadata(&candidates[i], "family_name", hier.FamilyName)
		setMetadata(&candidates[i], "order_id", hier.OrderID)
		setMetadata(&candidates[i], "order_name", hier.OrderName)
	}
}

// tieBreakByAuthor annotates homonyms: candidates sharing an identical blend
// score get an author_match_rank, their rank by Jaro-Winkler similarity of
// their stored author string against the mention's parsed author. It does
// not reorder candidates; the final order is the blend-then-label sort.
func (o *Orchestrator) tieBreakByAuthor(ctx context.Context, candidates []authority.Candidate, mentionAuthor string) {
	groups := make(map[float64][]int)
	for i, c := range candidates {
		groups[c.Blend] = append(groups[c.Blend], i)
	}

	mentionAuthor = strings.ToLower(mentionAuthor)
	for _, idxs := range groups {
		if len(idxs) < 2 {
			continue
		}
		type ranked struct {
			idx   int
			score float64
		}
		var scored []ranked
		for _, idx := range idxs {
			row, err := o.species.GetByID(ctx, candidates[idx].ID)
			if err != nil || row == nil {
				continue
			}
			author, _ := row.Secondary["author"].(string)
			if author == "" {
				continue
			}
			scored = append(scored, ranked{idx: idx, score: matchr.JaroWinkler(strings.ToLower(author), mentionAuthor, true)})
		}
		sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
		for rank, s := range scored {
			setMetadata(&candidates[s.idx], "author_match_rank", rank)
		}
	}
}

func setMetadata(c *authority.Candidate, key string, val any) {
	if c.Metadata == nil {
		c.Metadata = make(map[string]any)
	}
	c.Metadata[key] = val
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
