package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/humlab-sead/sead-reconciler/pkg/authority"
)

// SearchSemantic implements [authority.SemanticChannel] using pgvector's `<=>`
// cosine-distance operator. Rows with a NULL embedding column never match —
// the WHERE clause excludes them explicitly.
//
// A nil qEmb means the embedding client could not produce a vector for this
// sub-query; the channel degrades gracefully by
// returning an empty result rather than erroring.
func (s *Store) SearchSemantic(ctx context.Context, spec authority.TableSpec, qEmb []float32, limit int, pre authority.PreFilter) ([]authority.ScoredRow, error) {
	if spec.EmbeddingColumn == "" || qEmb == nil {
		return []authority.ScoredRow{}, nil
	}

	queryVec := pgvector.NewVector(qEmb)
	args := []any{queryVec} // $1
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{spec.EmbeddingColumn + " IS NOT NULL"}
	conditions = append(conditions, preFilterConditions(pre, next)...)

	args = append(args, limit)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT %s,
		       %s,
		       %s <=> $1 AS distance
		FROM   %s
		WHERE  %s
		ORDER  BY distance ASC
		LIMIT  %s`,
		spec.IDColumn, spec.LabelColumn, spec.EmbeddingColumn,
		spec.Table,
		strings.Join(conditions, "\n  AND "),
		limitArg,
	)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("authority postgres: semantic search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (authority.ScoredRow, error) {
		var (
			sr       authority.ScoredRow
			distance float64
		)
		if err := row.Scan(&sr.ID, &sr.Label, &distance); err != nil {
			return authority.ScoredRow{}, err
		}
		// Convert distance (lower = better) to a [0,1] similarity score
		// (higher = better), clipped against floating-point drift beyond
		// the unit range.
		sr.Score = clip01(1 - distance)
		return sr, nil
	})
	if err != nil {
		return nil, fmt.Errorf("authority postgres: semantic search: scan: %w", err)
	}
	if results == nil {
		results = []authority.ScoredRow{}
	}
	return results, nil
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
