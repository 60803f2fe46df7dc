// Package authority defines the storage-facing contracts for the hybrid
// candidate retrieval engine: the two search channels, the row
// and candidate shapes they exchange, and the hybrid blender that
// turns two independently-scored channels into one ranked list.
//
// Concrete backends live in subpackages: [github.com/humlab-sead/sead-reconciler/pkg/authority/postgres]
// for the production pg_trgm + pgvector store, and
// [github.com/humlab-sead/sead-reconciler/pkg/authority/mock] for tests.
package authority

import "context"

// Row is an authority row as read back from storage: an immutable tuple
// keyed by ID, its display label, the normalized form of that label, and any
// entity-specific secondary fields (bibliographic authors, taxon rank, site
// coordinates, ...).
type Row struct {
	ID        int64
	Label     string
	NormLabel string
	Secondary map[string]any
}

// ScoredRow is a single channel's opinion about one row: an ID, the label it
// observed for that ID, and a similarity score in [0,1]. The two channels
// are free to disagree about which rows exist; they must not disagree about
// the label for an ID they both return (a mismatch is a data integrity
// error).
type ScoredRow struct {
	ID    int64
	Label string
	Score float64
}

// TableSpec names the concrete table and columns a strategy searches. It is
// the data that differentiates one entity-type strategy from another.
type TableSpec struct {
	// Table is the authority table or view queried for candidates.
	Table string

	// IDColumn is the primary key column, surfaced as the candidate ID.
	IDColumn string

	// LabelColumn is the display column returned as Row.Label /
	// ScoredRow.Label: the original, un-folded label shown to callers.
	LabelColumn string

	// NormLabelColumn is the column compared against the normalized query
	// in the trigram channel's acceptance condition. Empty falls back to
	// LabelColumn, for tables that store only one label form.
	NormLabelColumn string

	// EmbeddingColumn is the pgvector column used by the semantic channel.
	// Empty disables the semantic channel for this table.
	EmbeddingColumn string

	// SecondaryColumns lists additional columns to fetch into Row.Secondary,
	// keyed by their map key (e.g. "country", "genus_id").
	SecondaryColumns map[string]string
}

// TrigramOperator selects which pg_trgm comparison function the trigram
// channel's acceptance condition uses. The bibliographic search modes
// switch this per call: "word similarity" and "strict word similarity"
// use PostgreSQL's word_similarity()/strict_word_similarity() instead of
// plain similarity().
type TrigramOperator string

const (
	// OpSimilarity is pg_trgm's similarity(a, b) — the zero value, and the
	// channel's historical behaviour.
	OpSimilarity TrigramOperator = "similarity"

	// OpWordSimilarity is pg_trgm's word_similarity(a, b): the best
	// similarity between a and any word boundary-aligned extent of b.
	OpWordSimilarity TrigramOperator = "word_similarity"

	// OpStrictWordSimilarity is pg_trgm's strict_word_similarity(a, b),
	// which additionally requires the matched extent to align on word
	// boundaries on both ends.
	OpStrictWordSimilarity TrigramOperator = "strict_word_similarity"
)

// TrigramQuery carries the per-call operator and acceptance threshold a
// bibliographic search mode may override per call. The zero value reproduces the channel's historical behaviour:
// plain similarity(), any non-zero score accepted.
type TrigramQuery struct {
	Operator      TrigramOperator
	MinSimilarity float64
}

// PreFilter restricts the candidate universe before either channel runs.
// Keys are database column names; values are matched with column = value
// (scalars), column = ANY(value) (slices), or column BETWEEN min AND max
// ([RangeFilter]). An empty PreFilter applies no restriction.
type PreFilter map[string]any

// RangeFilter restricts a PreFilter column to an inclusive numeric range.
// It is the mechanism behind the bibliographic publication_year Open
// Question: submitting an explicit RangeFilter renders a strict
// BETWEEN condition, which excludes NULL rows by ordinary SQL semantics;
// omitting the property from the query leaves the column unfiltered
// entirely, so NULL publication_year rows are included by default and only
// excluded when a caller explicitly asks for a year range.
type RangeFilter struct {
	Min, Max float64
}

// TrigramChannel performs per-entity lexical search: rows whose
// normalized label trigram-matches the normalized query above a backend
// threshold, ordered by similarity descending then label ascending.
//
// Implementations must return an empty, non-nil slice (never an error) for
// an empty qNorm.
type TrigramChannel interface {
	SearchTrigram(ctx context.Context, spec TableSpec, qNorm string, limit int, pre PreFilter, tq TrigramQuery) ([]ScoredRow, error)
}

// SemanticChannel performs per-entity dense search: rows with an
// embedding, ranked by cosine similarity to qEmb. Rows without a stored
// embedding never appear in results.
//
// Implementations must return an empty, non-nil slice when qEmb is nil —
// the semantic channel has nothing to compare against.
type SemanticChannel interface {
	SearchSemantic(ctx context.Context, spec TableSpec, qEmb []float32, limit int, pre PreFilter) ([]ScoredRow, error)
}

// RowStore looks up a single row by primary key, used by preview and
// get_by_id.
type RowStore interface {
	GetByID(ctx context.Context, spec TableSpec, id int64) (*Row, error)
}

// Store is the full storage contract a strategy depends on: both retrieval
// channels plus single-row lookup. A pooled connection is borrowed at most
// once per channel per sub-query, so a sub-query holds at most two
// connections at a time.
type Store interface {
	TrigramChannel
	SemanticChannel
	RowStore
}
