// Package cache wraps an [embeddings.Provider] with a bounded, TTL-expiring
// in-memory LRU cache keyed by the exact input string, with a configurable
// TTL, bounded size, and LRU eviction.
package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/humlab-sead/sead-reconciler/internal/observe"
	"github.com/humlab-sead/sead-reconciler/pkg/provider/embeddings"
)

// DefaultMaxEntries bounds the cache when a non-positive size is configured.
const DefaultMaxEntries = 4096

// Embedder wraps inner with an LRU+TTL cache. Reads are safe to
// parallelize; the underlying expirable.LRU is already safe for
// concurrent use.
type Embedder struct {
	inner   embeddings.Provider
	cache   *lru.LRU[string, []float32]
	metrics *observe.Metrics
}

// Compile-time interface assertion.
var _ embeddings.Provider = (*Embedder)(nil)

// New wraps inner with a cache of maxEntries capacity and ttl expiry. A
// non-positive maxEntries falls back to [DefaultMaxEntries]; a non-positive
// ttl disables expiry (entries only evicted by LRU capacity).
func New(inner embeddings.Provider, maxEntries int, ttl time.Duration, metrics *observe.Metrics) *Embedder {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Embedder{
		inner:   inner,
		cache:   lru.NewLRU[string, []float32](maxEntries, nil, ttl),
		metrics: metrics,
	}
}

// Embed returns the cached vector for text if present and unexpired,
// otherwise computes it via inner and caches the result.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := e.cache.Get(text); ok {
		e.recordHit(ctx)
		return vec, nil
	}
	e.recordMiss(ctx)

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Add(text, vec)
	return vec, nil
}

// EmbedBatch checks the cache for each input individually, batches the
// misses through inner.EmbedBatch, and populates the cache with the new
// results, maximizing cache reuse across partially-overlapping batches.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, t := range texts {
		if vec, ok := e.cache.Get(t); ok {
			e.recordHit(ctx)
			results[i] = vec
			continue
		}
		e.recordMiss(ctx)
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	computed, err := e.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIdx {
		results[idx] = computed[j]
		e.cache.Add(texts[idx], computed[j])
	}
	return results, nil
}

// Dimensions delegates to inner.
func (e *Embedder) Dimensions() int { return e.inner.Dimensions() }

// ModelID delegates to inner.
func (e *Embedder) ModelID() string { return e.inner.ModelID() }

func (e *Embedder) recordHit(ctx context.Context) {
	if e.metrics != nil {
		e.metrics.CacheHits.Add(ctx, 1)
	}
}

func (e *Embedder) recordMiss(ctx context.Context) {
	if e.metrics != nil {
		e.metrics.CacheMisses.Add(ctx, 1)
	}
}
