// Package reconcile implements the reconciliation service façade:
// the public operations the HTTP layer exposes — batch reconcile, property
// listing, preview, suggest, flyout, and service metadata. It orchestrates
// the entity strategy registry, converts between internal candidate scores
// and protocol-facing scores, decides auto-match, and optionally runs the
// LLM rerank stage.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/humlab-sead/sead-reconciler/internal/observe"
	"github.com/humlab-sead/sead-reconciler/pkg/authority"
	"github.com/humlab-sead/sead-reconciler/pkg/identifier"
	"github.com/humlab-sead/sead-reconciler/pkg/provider/llm"
	"github.com/humlab-sead/sead-reconciler/pkg/strategy"
)

// Query is one sub-query of a batch reconcile request.
type Query struct {
	// MentionText is the free-text string to reconcile. Required,
	// non-empty after trim.
	MentionText string

	// EntityType names a registered strategy. Required.
	EntityType string

	// Limit bounds the returned candidate count. Zero uses the service
	// default.
	Limit int

	// Properties carries property-filter values keyed by property id.
	Properties map[string]any

	// Mode selects a bibliographic search mode. Ignored by
	// strategies that do not declare modes.
	Mode string
}

// EntityRef is the {id, name} pair attached to every candidate, naming the
// entity type it was matched against.
type EntityRef struct {
	ID   string
	Name string
}

// Candidate is the protocol-facing shape of a single reconciliation
// result: a canonical URI, a display name, a 0-100 score, an auto-match
// flag, the entity type, and optional metadata.
type Candidate struct {
	ID       string
	Name     string
	Score    float64
	Match    bool
	Type     []EntityRef
	Metadata map[string]any
}

// Result is the response for one batch key: the ranked candidate list.
type Result struct {
	Candidates []Candidate
}

// BatchRequest is an ordered mapping from opaque string keys to queries.
// Keys preserves the caller's insertion order; Queries
// maps key -> Query.
type BatchRequest struct {
	Keys    []string
	Queries map[string]Query
}

// NewBatchRequest returns an empty, ready-to-populate BatchRequest.
func NewBatchRequest() *BatchRequest {
	return &BatchRequest{Queries: make(map[string]Query)}
}

// Add appends key (if not already present) and sets its query, preserving
// insertion order.
func (b *BatchRequest) Add(key string, q Query) {
	if _, exists := b.Queries[key]; !exists {
		b.Keys = append(b.Keys, key)
	}
	b.Queries[key] = q
}

// BatchResult is the response to a batch reconcile call: one Result (or
// error) per requested key, in request order.
type BatchResult struct {
	Keys    []string
	Results map[string]Result
	Errors  map[string]*Error
}

// Service is the reconciliation façade. Construct with [New].
type Service struct {
	registry         *strategy.Registry
	identifierPrefix string
	defaultLimit     int
	rerank           *reranker
	manifest         Manifest
	metrics          *observe.Metrics
}

// Config bundles the construction-time parameters of a [Service] that are
// not already captured by the registry's strategy descriptors.
type Config struct {
	// IdentifierPrefix is the configured identifier_space URI prefix.
	IdentifierPrefix string

	// DefaultLimit is used when a query omits Limit.
	DefaultLimit int

	// LLMProvider, if non-nil and Enabled, turns on the rerank stage.
	LLMProvider llm.Provider
	LLMEnabled  bool
	LLMModel    string
	LLMTopN     int
	LLMTimeout  time.Duration

	// Manifest is echoed verbatim by Metadata.
	Manifest Manifest

	// Metrics, when non-nil, receives batch/query instrumentation.
	Metrics *observe.Metrics
}

// Manifest is the static, configuration-derived service descriptor returned
// by Metadata.
type Manifest struct {
	Name               string
	IdentifierSpace    string
	SchemaSpace        string
	ViewURLTemplate    string
	PreviewURLTemplate string
	PreviewWidth       int
	PreviewHeight      int
	SuggestEntityURL   string
	SuggestTypeURL     string
	SuggestPropertyURL string
}

// EntityTypeDescriptor is one entry of Metadata's default entity-type list.
type EntityTypeDescriptor struct {
	ID   string
	Name string
}

// Metadata is the static shape returned by the metadata operation.
type Metadata struct {
	Manifest    Manifest
	EntityTypes []EntityTypeDescriptor
}

// New constructs a Service over registry using cfg.
func New(registry *strategy.Registry, cfg Config) *Service {
	return &Service{
		registry:         registry,
		identifierPrefix: cfg.IdentifierPrefix,
		defaultLimit:     effectiveDefaultLimit(cfg.DefaultLimit),
		rerank:           newRerankerFromConfig(cfg),
		manifest:         cfg.Manifest,
		metrics:          cfg.Metrics,
	}
}

func newRerankerFromConfig(cfg Config) *reranker {
	if !cfg.LLMEnabled || cfg.LLMProvider == nil {
		return nil
	}
	return newReranker(cfg.LLMProvider, cfg.LLMModel, cfg.LLMTopN, cfg.LLMTimeout)
}

func effectiveDefaultLimit(n int) int {
	if n > 0 {
		return n
	}
	return 10
}

// batchConcurrency bounds how many sub-queries of one batch run at once, so
// a large batch cannot monopolize the connection pool.
const batchConcurrency = 8

// Reconcile runs every sub-query of req. Sub-queries are dispatched
// concurrently and are independent: a failure in one (InvalidQuery,
// UnknownEntityType) is reported against that key only and does not prevent
// the others from returning results. Key order in the returned BatchResult
// matches req's insertion order regardless of completion order.
func (s *Service) Reconcile(ctx context.Context, req *BatchRequest) *BatchResult {
	start := time.Now()
	if s.metrics != nil {
		s.metrics.InFlightBatches.Add(ctx, 1)
		defer s.metrics.InFlightBatches.Add(ctx, -1)
		defer func() {
			s.metrics.BatchDuration.Record(ctx, time.Since(start).Seconds())
		}()
	}

	out := &BatchResult{
		Keys:    append([]string(nil), req.Keys...),
		Results: make(map[string]Result, len(req.Keys)),
		Errors:  make(map[string]*Error),
	}

	var mu sync.Mutex
	var grp errgroup.Group
	grp.SetLimit(batchConcurrency)
	for _, key := range req.Keys {
		q := req.Queries[key]
		grp.Go(func() error {
			res, err := s.reconcileOne(ctx, q)
			s.recordQueryOutcome(ctx, q, res, err)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				var rerr *Error
				if !asError(err, &rerr) {
					rerr = wrapError(KindInternal, "unexpected error", err)
				}
				out.Errors[key] = rerr
				out.Results[key] = Result{Candidates: []Candidate{}}
				return nil
			}
			out.Results[key] = res
			return nil
		})
	}
	_ = grp.Wait() // sub-query failures are recorded per key, never returned
	return out
}

// recordQueryOutcome instruments one finished sub-query.
func (s *Service) recordQueryOutcome(ctx context.Context, q Query, res Result, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	switch {
	case err != nil:
		outcome = string(KindOf(err))
	case len(res.Candidates) == 0:
		outcome = "empty"
	case res.Candidates[0].Match:
		outcome = "auto_match"
		s.metrics.AutoMatches.Add(ctx, 1)
	}
	s.metrics.RecordQueryProcessed(ctx, q.EntityType, outcome)
}

func asError(err error, target **Error) bool {
	e, ok := err.(*Error)
	if ok {
		*target = e
	}
	return ok
}

// reconcileOne runs one sub-query end to end: validation, strategy
// dispatch, protocol conversion, auto-match decision, and rerank.
func (s *Service) reconcileOne(ctx context.Context, q Query) (Result, error) {
	mention := strings.TrimSpace(q.MentionText)
	if mention == "" {
		return Result{}, newError(KindInvalidQuery, "mention_text is required")
	}
	if q.EntityType == "" {
		return Result{}, newError(KindInvalidQuery, "entity_type is required")
	}
	limit := q.Limit
	if limit < 0 {
		return Result{}, newError(KindInvalidQuery, "limit must be positive")
	}
	if limit == 0 {
		limit = s.defaultLimit
	}

	strat, err := s.registry.Get(q.EntityType)
	if err != nil {
		return Result{}, wrapError(KindUnknownEntityType, q.EntityType, err)
	}

	if err := validateProperties(strat, q.Properties); err != nil {
		return Result{}, err
	}

	candidates, err := strat.Search(ctx, mention, limit, q.Properties, q.Mode)
	if err != nil {
		return Result{}, wrapError(KindInternal, "strategy search failed", err)
	}

	if s.rerank != nil {
		candidates = s.rerank.rerank(ctx, mention, candidates, func(c authority.Candidate) string {
			return candidateDescription(strat, c)
		})
	}

	threshold, margin := strat.AutoMatchParams()
	out := make([]Candidate, len(candidates))
	for i, c := range candidates {
		out[i] = s.toProtocolCandidate(strat, c, candidates, i, threshold, margin)
	}
	return Result{Candidates: out}, nil
}

// validateProperties rejects property ids the strategy does not declare.
func validateProperties(strat strategy.Strategy, properties map[string]any) error {
	if len(properties) == 0 {
		return nil
	}
	known := make(map[string]bool, len(strat.ListProperties()))
	for _, p := range strat.ListProperties() {
		known[p.ID] = true
	}
	for pid := range properties {
		if !known[pid] {
			return newError(KindInvalidQuery, fmt.Sprintf("unknown property %q for entity type", pid))
		}
	}
	return nil
}

// toProtocolCandidate converts one internal candidate to its protocol
// shape: score is blend × 100, plus the auto-match decision.
func (s *Service) toProtocolCandidate(strat strategy.Strategy, c authority.Candidate, all []authority.Candidate, idx int, threshold, margin float64) Candidate {
	match := false
	if idx == 0 && c.Blend >= threshold {
		runnerUp := 0.0
		if len(all) > 1 {
			runnerUp = all[1].Blend
		}
		match = c.Blend-runnerUp > margin
	}
	return Candidate{
		ID:       strat.CanonicalURI(c.ID),
		Name:     c.Label,
		Score:    c.Blend * 100,
		Match:    match,
		Type:     []EntityRef{{ID: strat.Descriptor().Name, Name: strat.Descriptor().DisplayName}},
		Metadata: c.Metadata,
	}
}

func candidateDescription(strat strategy.Strategy, c authority.Candidate) string {
	return fmt.Sprintf("%s (%s)", c.Label, strat.Descriptor().DisplayName)
}

// GetProperties returns property descriptors, optionally filtered to one
// entity type and/or a substring of id/name.
func (s *Service) GetProperties(entityType, query string) ([]strategy.PropertyDescriptor, error) {
	var strategies []strategy.Strategy
	if entityType != "" {
		strat, err := s.registry.Get(entityType)
		if err != nil {
			return nil, wrapError(KindUnknownEntityType, entityType, err)
		}
		strategies = []strategy.Strategy{strat}
	} else {
		strategies = s.registry.All()
	}

	q := strings.ToLower(query)
	var out []strategy.PropertyDescriptor
	for _, strat := range strategies {
		for _, p := range strat.ListProperties() {
			if q == "" || strings.Contains(strings.ToLower(p.ID), q) || strings.Contains(strings.ToLower(p.Name), q) {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

// Preview renders the preview payload for idOrURI. idOrURI may be a full
// canonical URI or a bare integer; a bare integer carries no entity-type
// information, so it is resolved by probing every registered strategy in
// registration order until one returns a match.
func (s *Service) Preview(ctx context.Context, idOrURI string) (*strategy.Preview, error) {
	strat, numeric, err := s.resolveStrategyAndID(ctx, idOrURI)
	if err != nil {
		return nil, err
	}
	preview, err := strat.Preview(ctx, numeric)
	if err != nil {
		return nil, wrapError(KindInternal, "preview failed", err)
	}
	if preview == nil {
		return nil, newError(KindNotFound, idOrURI)
	}
	return preview, nil
}

// Flyout renders the inline flyout payload for idOrURI. The core payload is
// identical to Preview; the HTTP layer adds width/height hints from the
// service manifest.
func (s *Service) Flyout(ctx context.Context, idOrURI string) (*strategy.Preview, error) {
	return s.Preview(ctx, idOrURI)
}

// resolveStrategyAndID parses idOrURI and looks up the strategy it names.
// For a bare integer (no entity type encoded), every registered strategy is
// probed in order via GetByID until one resolves the id.
func (s *Service) resolveStrategyAndID(ctx context.Context, idOrURI string) (strategy.Strategy, int64, error) {
	parsed, err := identifier.Parse(idOrURI, s.identifierPrefix)
	if err != nil {
		return nil, 0, wrapError(KindMalformedID, idOrURI, err)
	}

	if parsed.EntityType != "" {
		strat, err := s.registry.Get(parsed.EntityType)
		if err != nil {
			return nil, 0, wrapError(KindUnknownEntityType, parsed.EntityType, err)
		}
		return strat, parsed.Numeric, nil
	}

	for _, strat := range s.registry.All() {
		row, err := strat.GetByID(ctx, parsed.Numeric)
		if err != nil {
			slog.Warn("reconcile: probe GetByID failed", "entity", strat.Descriptor().Name, "err", err)
			continue
		}
		if row != nil {
			return strat, parsed.Numeric, nil
		}
	}
	return nil, 0, newError(KindNotFound, idOrURI)
}

// SuggestEntity returns ordered candidates for autocomplete. When
// entityType is empty, every registered strategy is queried and results
// are merged by score.
func (s *Service) SuggestEntity(ctx context.Context, prefix, entityType string) ([]Candidate, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return []Candidate{}, nil
	}

	var strategies []strategy.Strategy
	if entityType != "" {
		strat, err := s.registry.Get(entityType)
		if err != nil {
			return nil, wrapError(KindUnknownEntityType, entityType, err)
		}
		strategies = []strategy.Strategy{strat}
	} else {
		strategies = s.registry.All()
	}

	var merged []Candidate
	for _, strat := range strategies {
		candidates, err := strat.Search(ctx, prefix, s.defaultLimit, nil, "")
		if err != nil {
			slog.Warn("reconcile: suggest_entity search failed", "entity", strat.Descriptor().Name, "err", err)
			continue
		}
		threshold, margin := strat.AutoMatchParams()
		for i, c := range candidates {
			merged = append(merged, s.toProtocolCandidate(strat, c, candidates, i, threshold, margin))
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].Name < merged[j].Name
	})
	if len(merged) > s.defaultLimit {
		merged = merged[:s.defaultLimit]
	}
	return merged, nil
}

// SuggestType returns ordered entity-type descriptors whose name matches
// prefix.
func (s *Service) SuggestType(prefix string) []EntityTypeDescriptor {
	var out []EntityTypeDescriptor
	for _, d := range s.registry.SuggestTypes(prefix) {
		out = append(out, EntityTypeDescriptor{ID: d.Name, Name: d.DisplayName})
	}
	return out
}

// SuggestProperty returns ordered property descriptors whose id or name
// matches prefix, optionally restricted to one entity type.
func (s *Service) SuggestProperty(prefix, entityType string) ([]strategy.PropertyDescriptor, error) {
	props, err := s.GetProperties(entityType, "")
	if err != nil {
		return nil, err
	}
	prefix = strings.ToLower(prefix)
	var out []strategy.PropertyDescriptor
	for _, p := range props {
		if prefix == "" || strings.HasPrefix(strings.ToLower(p.ID), prefix) || strings.HasPrefix(strings.ToLower(p.Name), prefix) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Metadata returns the static service descriptor.
func (s *Service) Metadata() Metadata {
	var types []EntityTypeDescriptor
	for _, strat := range s.registry.All() {
		d := strat.Descriptor()
		types = append(types, EntityTypeDescriptor{ID: d.Name, Name: d.DisplayName})
	}
	return Metadata{Manifest: s.manifest, EntityTypes: types}
}
