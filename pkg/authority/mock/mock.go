// Package mock provides an in-memory [authority.Store] test double.
//
// It mirrors the production postgres backend's two-channel behaviour without
// a database: trigram similarity is computed with a trigram Dice
// coefficient (a close stand-in for, not the same formula as, pg_trgm's
// similarity() function) and semantic similarity is computed as cosine similarity over in-memory
// vectors. Use [New] to seed rows and optional embeddings, then pass the
// result wherever an [authority.Store] is expected.
package mock

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/humlab-sead/sead-reconciler/pkg/authority"
)

// Compile-time interface check.
var _ authority.Store = (*Store)(nil)

// Store is a concurrency-safe in-memory authority store, organized per
// table exactly like the production schema: rows plus an optional embedding
// keyed by row ID.
type Store struct {
	mu         sync.RWMutex
	rows       map[string][]authority.Row
	embeddings map[string]map[int64][]float32
}

// New returns an empty Store ready for seeding via [Store.Seed] and
// [Store.SeedEmbedding].
func New() *Store {
	return &Store{
		rows:       make(map[string][]authority.Row),
		embeddings: make(map[string]map[int64][]float32),
	}
}

// Seed registers rows under table, replacing any previously seeded rows for
// that table.
func (s *Store) Seed(table string, rows []authority.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[table] = rows
}

// SeedEmbedding attaches a vector to row id in table. Rows without a seeded
// embedding are excluded from SearchSemantic, matching the production store's
// handling of a NULL embedding column.
func (s *Store) SeedEmbedding(table string, id int64, vec []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.embeddings[table] == nil {
		s.embeddings[table] = make(map[int64][]float32)
	}
	s.embeddings[table][id] = vec
}

// SearchTrigram implements [authority.TrigramChannel].
//
// The mock's character-trigram Dice coefficient stands in for all three
// pg_trgm operators — it doesn't distinguish word_similarity's word-boundary
// alignment from plain similarity — so tq.Operator only affects production
// queries. tq.MinSimilarity is honored: rows are accepted once their score
// clears it (defaulting to "any non-zero score" like the production floor).
func (s *Store) SearchTrigram(_ context.Context, spec authority.TableSpec, qNorm string, limit int, pre authority.PreFilter, tq authority.TrigramQuery) ([]authority.ScoredRow, error) {
	if strings.TrimSpace(qNorm) == "" {
		return []authority.ScoredRow{}, nil
	}

	s.mu.RLock()
	rows := s.rows[spec.Table]
	s.mu.RUnlock()

	out := make([]authority.ScoredRow, 0, len(rows))
	for _, r := range rows {
		if !matchesPreFilter(r, pre) {
			continue
		}
		sim := Similarity(r.NormLabel, qNorm)
		if sim <= tq.MinSimilarity {
			continue
		}
		score := sim
		if r.NormLabel == qNorm {
			score = 1.0
		} else if score < 0.0001 {
			score = 0.0001
		}
		out = append(out, authority.ScoredRow{ID: r.ID, Label: r.Label, Score: score})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Label < out[j].Label
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SearchSemantic implements [authority.SemanticChannel].
func (s *Store) SearchSemantic(_ context.Context, spec authority.TableSpec, qEmb []float32, limit int, pre authority.PreFilter) ([]authority.ScoredRow, error) {
	if spec.EmbeddingColumn == "" || qEmb == nil {
		return []authority.ScoredRow{}, nil
	}

	s.mu.RLock()
	rows := s.rows[spec.Table]
	embeds := s.embeddings[spec.Table]
	s.mu.RUnlock()

	out := make([]authority.ScoredRow, 0, len(rows))
	for _, r := range rows {
		vec, ok := embeds[r.ID]
		if !ok {
			continue
		}
		if !matchesPreFilter(r, pre) {
			continue
		}
		out = append(out, authority.ScoredRow{ID: r.ID, Label: r.Label, Score: clip01(cosineSimilarity(vec, qEmb))})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Label < out[j].Label
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetByID implements [authority.RowStore].
func (s *Store) GetByID(_ context.Context, spec authority.TableSpec, id int64) (*authority.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.rows[spec.Table] {
		if r.ID == id {
			rc := r
			return &rc, nil
		}
	}
	return nil, nil
}

// matchesPreFilter applies an [authority.PreFilter] against a row's
// Secondary map. Columns absent from Secondary never match a non-empty
// filter value, mirroring SQL's "column = value" semantics for a missing
// column.
func matchesPreFilter(r authority.Row, pre authority.PreFilter) bool {
	for col, want := range pre {
		got, ok := r.Secondary[col]
		if !ok {
			return false
		}
		switch w := want.(type) {
		case []int64:
			gi, ok := got.(int64)
			if !ok || !containsInt64(w, gi) {
				return false
			}
		case []string:
			gs, ok := got.(string)
			if !ok || !containsString(w, gs) {
				return false
			}
		case authority.RangeFilter:
			gf, ok := toFloat(got)
			if !ok || gf < w.Min || gf > w.Max {
				return false
			}
		default:
			if got != want {
				return false
			}
		}
	}
	return true
}

func containsInt64(s []int64, v int64) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func containsString(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// Similarity computes the trigram Dice coefficient between a and b: twice
// the number of shared character trigrams divided by the total trigram
// count of both strings. It approximates PostgreSQL's pg_trgm similarity()
// (shared distinct trigrams divided by their union) without being the same
// formula, letting [Store] stand in for the production backend in tests
// without a database.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	ta := trigrams(a)
	tb := trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	shared := 0
	for tri, na := range ta {
		if nb, ok := tb[tri]; ok {
			shared += min(na, nb)
		}
	}

	total := 0
	for _, n := range ta {
		total += n
	}
	for _, n := range tb {
		total += n
	}
	if total == 0 {
		return 0
	}
	return 2 * float64(shared) / float64(total)
}

// trigrams returns the multiset of 3-character substrings of s, padded with
// a leading and trailing space the way pg_trgm pads words, so short strings
// still contribute boundary-sensitive trigrams.
func trigrams(s string) map[string]int {
	padded := "  " + s + " "
	r := []rune(padded)
	out := make(map[string]int)
	for i := 0; i+3 <= len(r); i++ {
		out[string(r[i:i+3])]++
	}
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	default:
		return 0, false
	}
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
