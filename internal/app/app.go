// Package app wires all reconciliation-service subsystems into a running
// application.
//
// The App struct owns the full lifecycle: New constructs and connects every
// subsystem (provider wrapping, the authority store, the entity strategy
// registry, and the reconciliation service façade), Run blocks until the
// context is cancelled, and Shutdown tears everything down in order.
//
// For testing, inject test doubles via functional options (WithStore,
// WithEmbeddings, WithLLM, WithHierarchyLookup). When an option is not
// provided, New builds the real implementation from config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/humlab-sead/sead-reconciler/internal/config"
	"github.com/humlab-sead/sead-reconciler/internal/observe"
	"github.com/humlab-sead/sead-reconciler/internal/resilience"
	"github.com/humlab-sead/sead-reconciler/pkg/authority"
	"github.com/humlab-sead/sead-reconciler/pkg/authority/postgres"
	"github.com/humlab-sead/sead-reconciler/pkg/provider/embeddings"
	"github.com/humlab-sead/sead-reconciler/pkg/provider/embeddings/cache"
	"github.com/humlab-sead/sead-reconciler/pkg/provider/llm"
	"github.com/humlab-sead/sead-reconciler/pkg/reconcile"
	"github.com/humlab-sead/sead-reconciler/pkg/strategy"
	"github.com/humlab-sead/sead-reconciler/pkg/taxa"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM        llm.Provider
	Embeddings embeddings.Provider
}

// App owns all subsystem lifetimes and exposes the reconciliation service.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics

	// Subsystems — initialised in New, torn down in Shutdown.
	store     authority.Store
	embedder  embeddings.Provider
	llmClient llm.Provider
	hierarchy authority.HierarchyLookup
	registry  *strategy.Registry
	service   *reconcile.Service

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects an authority store instead of connecting to Postgres
// from config.
func WithStore(s authority.Store) Option {
	return func(a *App) { a.store = s }
}

// WithHierarchyLookup injects a taxa hierarchy lookup instead of building
// one from config.Taxa.Hierarchy.
func WithHierarchyLookup(h authority.HierarchyLookup) Option {
	return func(a *App) { a.hierarchy = h }
}

// WithEmbeddings injects an embedding provider directly, bypassing the
// registry-constructed provider and the cache wrapping.
func WithEmbeddings(p embeddings.Provider) Option {
	return func(a *App) { a.embedder = p }
}

// WithLLM injects an LLM provider directly, bypassing the
// registry-constructed provider and the resilience wrapping.
func WithLLM(p llm.Provider) Option {
	return func(a *App) { a.llmClient = p }
}

// WithMetrics injects an observability [observe.Metrics] instance instead
// of using the package-level default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers
// struct comes from main.go (populated via the config registry). Use
// Option functions to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: provider wrapping (cache,
// circuit-breaker fallback), the authority store connection, the entity
// strategy registry (one Generic strategy per configured entity plus the
// taxa orchestrator when configured), and the reconciliation service façade.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Providers: embedding cache, LLM resilience wrapping ──────────
	a.wrapEmbeddings()
	a.wrapLLM()

	// ── 2. Authority store ───────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 3. Entity strategy registry ──────────────────────────────────────
	registry, err := a.buildRegistry()
	if err != nil {
		return nil, fmt.Errorf("app: build registry: %w", err)
	}
	a.registry = registry

	// ── 4. Taxa orchestrator (special-cased composition over the registry) ─
	if err := a.wireTaxa(); err != nil {
		return nil, fmt.Errorf("app: wire taxa: %w", err)
	}

	// ── 5. Reconciliation service façade ─────────────────────────────────
	a.service = reconcile.New(a.registry, a.reconcileConfig())

	return a, nil
}

// wrapEmbeddings wraps a.embedder with the bounded LRU cache when
// configured. A nil provider (embeddings not configured) is left
// nil — strategies degrade to trigram-only search.
func (a *App) wrapEmbeddings() {
	if a.embedder != nil {
		return // injected via WithEmbeddings
	}
	inner := a.providers.Embeddings
	if inner == nil {
		return
	}
	if !a.cfg.Authority.EmbeddingCache.Enabled {
		a.embedder = inner
		return
	}
	ttl := time.Duration(a.cfg.Authority.EmbeddingCache.TTLSeconds) * time.Second
	a.embedder = cache.New(inner, a.cfg.Authority.EmbeddingCache.MaxEntries, ttl, a.metrics)
}

// wrapLLM wraps the configured LLM provider with a circuit breaker via
// [resilience.LLMFallback] so a misbehaving model backend degrades to the
// rerank stage's fallback-to-blend-order behaviour rather than
// hanging the batch.
func (a *App) wrapLLM() {
	if a.llmClient != nil {
		return
	}
	if a.providers.LLM == nil {
		return
	}
	name := a.cfg.Providers.LLM.Name
	if name == "" {
		name = "llm"
	}
	a.llmClient = resilience.NewLLMFallback(a.providers.LLM, name, resilience.FallbackConfig{})
}

// initStore connects to the authority database unless a store was injected
// via [WithStore].
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	if a.cfg.Authority.PostgresDSN == "" {
		return fmt.Errorf("authority.postgres_dsn is required when no store is injected")
	}
	store, err := postgres.NewStore(ctx, a.cfg.Authority.PostgresDSN)
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

// buildRegistry constructs one [strategy.Generic] per configured entity
// type.
func (a *App) buildRegistry() (*strategy.Registry, error) {
	defaults := strategy.Defaults{
		KTrgm:              a.cfg.Authority.KTrgm,
		KSem:               a.cfg.Authority.KSem,
		KFinal:             a.cfg.Authority.CandidateLimit,
		Alpha:              a.cfg.Authority.TrigramWeight,
		AutoMatchThreshold: a.cfg.Authority.AutoMatchThreshold,
		AutoMatchMargin:    a.cfg.Authority.AutoMatchMargin,
	}

	registry := strategy.NewRegistry()
	for _, e := range a.cfg.Entities {
		desc := entityDescriptor(e)
		g := strategy.NewGeneric(desc, a.store, a.embedder, defaults, a.cfg.Service.IdentifierSpace)
		registry.Register(g)
		slog.Info("registered entity strategy", "entity", e.ID, "table", e.Table)
	}
	return registry, nil
}

// entityDescriptor converts one [config.EntityConfig] into a
// [strategy.Descriptor], deriving TableSpec.SecondaryColumns only from
// properties whose value the property-filtered query layer reads back per
// candidate row — exact_boost and proximity_boost. Entries are keyed by the
// database column name, because that is the key the boost stage uses to read
// Row.Secondary back (a property's wire id and its backing column need not
// agree). Pre-filter and range-filter properties are applied purely as SQL
// WHERE restrictions and never need a SecondaryColumns entry.
func entityDescriptor(e config.EntityConfig) strategy.Descriptor {
	secondary := make(map[string]string)
	props := make([]strategy.PropertyDescriptor, 0, len(e.Properties))
	for _, p := range e.Properties {
		pd := strategy.PropertyDescriptor{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Type:        propertyType(p.Type),
			Kind:        propertyKind(p),
			Column:      p.Column,
			BoostWeight: p.BoostWeight,
			RadiusKm:    p.RadiusKm,
			PairColumn:  p.PairColumn,
		}
		props = append(props, pd)

		switch pd.Kind {
		case strategy.KindExactBoost, strategy.KindProximityBoost:
			secondary[p.Column] = p.Column
			if p.PairColumn != "" {
				secondary[p.PairColumn] = p.PairColumn
			}
		}
	}

	modes := make(map[string]strategy.ModeConfig, len(e.Modes))
	for name, m := range e.Modes {
		modes[name] = strategy.ModeConfig{
			Column:        m.Column,
			Operator:      authority.TrigramOperator(m.Operator),
			MinSimilarity: m.MinSimilarity,
		}
	}

	return strategy.Descriptor{
		Name:        e.ID,
		DisplayName: e.Name,
		Spec: authority.TableSpec{
			Table:            e.Table,
			IDColumn:         e.IDColumn,
			LabelColumn:      e.LabelColumn,
			NormLabelColumn:  e.NormLabelColumn,
			EmbeddingColumn:  e.EmbeddingColumn,
			SecondaryColumns: secondary,
		},
		Properties:         props,
		Alpha:              e.TrigramWeight,
		AutoMatchThreshold: e.AutoMatchThreshold,
		AutoMatchMargin:    e.AutoMatchMargin,
		Modes:              modes,
		DefaultMode:        e.DefaultMode,
	}
}

// propertyType maps a config.PropertyConfig.Type string to a
// strategy.PropertyType, defaulting to string.
func propertyType(t string) strategy.PropertyType {
	switch t {
	case "number":
		return strategy.PropertyNumber
	case "date":
		return strategy.PropertyDate
	default:
		return strategy.PropertyString
	}
}

// propertyKind maps a config.PropertyConfig.Kind string to a
// strategy.PropertyKind. An empty Kind defaults to range_filter for
// range-typed properties and exact_boost otherwise (config.go's documented
// default).
func propertyKind(p config.PropertyConfig) strategy.PropertyKind {
	switch p.Kind {
	case "pre_filter":
		return strategy.KindPreFilter
	case "range_filter":
		return strategy.KindRangeFilter
	case "proximity_boost":
		return strategy.KindProximityBoost
	case "exact_boost":
		return strategy.KindExactBoost
	default:
		if p.Type == "range" {
			return strategy.KindRangeFilter
		}
		return strategy.KindExactBoost
	}
}

// wireTaxa registers the "taxon" entity type, composing the species/genus
// strategies named by cfg.Taxa into a [taxa.Orchestrator]. Leaving
// either SpeciesEntityID or GenusEntityID empty disables taxa orchestration
// entirely — the two underlying entity-type strategies (e.g.
// "taxon_species", "taxon_genus") remain registered and queryable on their
// own.
func (a *App) wireTaxa() error {
	if a.cfg.Taxa.SpeciesEntityID == "" || a.cfg.Taxa.GenusEntityID == "" {
		return nil
	}

	species, err := a.registry.Get(a.cfg.Taxa.SpeciesEntityID)
	if err != nil {
		return fmt.Errorf("taxa.species_entity_id: %w", err)
	}
	genus, err := a.registry.Get(a.cfg.Taxa.GenusEntityID)
	if err != nil {
		return fmt.Errorf("taxa.genus_entity_id: %w", err)
	}

	hierarchy := a.hierarchy
	if hierarchy == nil && a.cfg.Taxa.Hierarchy.Table != "" {
		pgStore, ok := a.store.(*postgres.Store)
		if !ok {
			slog.Warn("taxa.hierarchy configured but the authority store is not Postgres-backed; skipping hierarchy enrichment")
		} else {
			hierarchy = postgres.NewHierarchyStore(pgStore.Pool(), postgres.HierarchySpec{
				Table:            a.cfg.Taxa.Hierarchy.Table,
				SpeciesIDColumn:  a.cfg.Taxa.Hierarchy.SpeciesIDColumn,
				GenusIDColumn:    a.cfg.Taxa.Hierarchy.GenusIDColumn,
				GenusNameColumn:  a.cfg.Taxa.Hierarchy.GenusNameColumn,
				FamilyIDColumn:   a.cfg.Taxa.Hierarchy.FamilyIDColumn,
				FamilyNameColumn: a.cfg.Taxa.Hierarchy.FamilyNameColumn,
				OrderIDColumn:    a.cfg.Taxa.Hierarchy.OrderIDColumn,
				OrderNameColumn:  a.cfg.Taxa.Hierarchy.OrderNameColumn,
			})
		}
	}

	orch := taxa.New(species, genus, hierarchy)
	adapter := taxa.NewStrategyAdapter(orch, species, a.cfg.Taxa.DisplayName, species.ListProperties(), a.cfg.Service.IdentifierSpace)
	a.registry.Register(adapter)
	slog.Info("registered taxa orchestrator", "species", a.cfg.Taxa.SpeciesEntityID, "genus", a.cfg.Taxa.GenusEntityID)
	return nil
}

// reconcileConfig builds the [reconcile.Config] from cfg, wiring the LLM
// rerank stage only when both enabled and a provider is configured.
func (a *App) reconcileConfig() reconcile.Config {
	timeout := 3 * time.Second
	if a.cfg.LLMRerank.Timeout != "" {
		if d, err := time.ParseDuration(a.cfg.LLMRerank.Timeout); err == nil {
			timeout = d
		} else {
			slog.Warn("llm_rerank.timeout is not a valid duration; using default", "value", a.cfg.LLMRerank.Timeout, "default", timeout)
		}
	}

	return reconcile.Config{
		IdentifierPrefix: a.cfg.Service.IdentifierSpace,
		DefaultLimit:     a.cfg.Service.DefaultQueryLimit,
		Metrics:          a.metrics,
		LLMProvider:      a.llmClient,
		LLMEnabled:       a.cfg.LLMRerank.Enabled,
		LLMModel:         a.cfg.LLMRerank.Model,
		LLMTopN:          a.cfg.LLMRerank.TopN,
		LLMTimeout:       timeout,
		Manifest: reconcile.Manifest{
			Name:               a.cfg.Service.Name,
			IdentifierSpace:    a.cfg.Service.IdentifierSpace,
			SchemaSpace:        a.cfg.Service.SchemaSpace,
			ViewURLTemplate:    a.cfg.Service.ViewURLTemplate,
			PreviewURLTemplate: a.cfg.Service.PreviewURLTemplate,
			PreviewWidth:       a.cfg.Service.PreviewWidth,
			PreviewHeight:      a.cfg.Service.PreviewHeight,
			SuggestEntityURL:   a.cfg.Service.SuggestEntityURL,
			SuggestTypeURL:     a.cfg.Service.SuggestTypeURL,
			SuggestPropertyURL: a.cfg.Service.SuggestPropertyURL,
		},
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Service returns the reconciliation service façade the HTTP transport
// layer dispatches to.
func (a *App) Service() *reconcile.Service { return a.service }

// Registry returns the entity strategy registry.
func (a *App) Registry() *strategy.Registry { return a.registry }

// Metrics returns the observability instruments used by this app instance.
func (a *App) Metrics() *observe.Metrics { return a.metrics }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run blocks until ctx is cancelled. The reconciliation service is a
// stateless request/response façade with no background processing loop of
// its own; Run exists so main.go's lifecycle shape (New → Run → Shutdown)
// matches every other entrypoint in this codebase, and so a future
// background task (e.g. periodic strategy-registry health probes) has an
// obvious home.
func (a *App) Run(ctx context.Context) error {
	slog.Info("app running", "entity_types", len(a.registry.Names()))
	<-ctx.Done()
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in the order their closers were
// registered (init order). It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
