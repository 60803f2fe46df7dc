package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/humlab-sead/sead-reconciler/pkg/authority"
)

// SearchTrigram implements [authority.TrigramChannel] using PostgreSQL's
// pg_trgm extension. It matches against spec.NormLabelColumn (falling back to
// spec.LabelColumn when unset) but returns spec.LabelColumn as the display
// label — queries are normalized, candidate names are not.
//
// tq.Operator selects similarity(), word_similarity(), or
// strict_word_similarity() for the bibliographic modes; tq.MinSimilarity sets
// the acceptance floor, defaulting to "any non-zero score" when zero.
// SearchTrigram scores every row whose match column clears that floor and
// returns the top limit rows ordered by similarity descending, label
// ascending.
//
// An exact normalized-label match is floored to 1.0 and any non-zero score is
// floored to 0.0001 so a present-but-weak match is never
// indistinguishable from "channel returned nothing".
func (s *Store) SearchTrigram(ctx context.Context, spec authority.TableSpec, qNorm string, limit int, pre authority.PreFilter, tq authority.TrigramQuery) ([]authority.ScoredRow, error) {
	if strings.TrimSpace(qNorm) == "" {
		return []authority.ScoredRow{}, nil
	}

	matchCol := spec.NormLabelColumn
	if matchCol == "" {
		matchCol = spec.LabelColumn
	}

	args := []any{qNorm} // $1
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	simExpr := similarityExpr(tq.Operator, matchCol)
	floor := tq.MinSimilarity
	conditions := []string{fmt.Sprintf("%s > %g", simExpr, floor)}
	conditions = append(conditions, preFilterConditions(pre, next)...)

	args = append(args, limit)
	limitArg := fmt.Sprintf("$%d", len(args))

	// matchCol is expected to already hold the normalized form of the label
	// (authority rows store norm_label alongside label), so qNorm can
	// be compared directly without a runtime lower()/unaccent() call.
	q := fmt.Sprintf(`
		SELECT %s,
		       %s,
		       CASE WHEN %s = $1 THEN 1.0
		            ELSE GREATEST(%s, 0.0001)
		       END AS trgm_sim
		FROM   %s
		WHERE  %s
		ORDER  BY trgm_sim DESC, %s ASC
		LIMIT  %s`,
		spec.IDColumn, spec.LabelColumn,
		matchCol, simExpr,
		spec.Table,
		strings.Join(conditions, "\n  AND "),
		spec.LabelColumn, limitArg,
	)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("authority postgres: trigram search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (authority.ScoredRow, error) {
		var sr authority.ScoredRow
		if err := row.Scan(&sr.ID, &sr.Label, &sr.Score); err != nil {
			return authority.ScoredRow{}, err
		}
		return sr, nil
	})
	if err != nil {
		return nil, fmt.Errorf("authority postgres: trigram search: scan: %w", err)
	}
	if results == nil {
		results = []authority.ScoredRow{}
	}
	return results, nil
}

// similarityExpr renders the pg_trgm comparison expression for op against
// col, comparing it to the bound query parameter $1. Unrecognized or zero-
// value operators fall back to plain similarity().
func similarityExpr(op authority.TrigramOperator, col string) string {
	switch op {
	case authority.OpWordSimilarity:
		return fmt.Sprintf("word_similarity($1, %s)", col)
	case authority.OpStrictWordSimilarity:
		return fmt.Sprintf("strict_word_similarity($1, %s)", col)
	default:
		return fmt.Sprintf("similarity(%s, $1)", col)
	}
}

// preFilterConditions renders a [authority.PreFilter] into a slice of SQL
// condition fragments, appending bind values via next. Scalar values render
// as "col = $n"; slice values render as "col = ANY($n)".
func preFilterConditions(pre authority.PreFilter, next func(any) string) []string {
	if len(pre) == 0 {
		return nil
	}
	conditions := make([]string, 0, len(pre))
	for col, v := range pre {
		switch val := v.(type) {
		case []int64:
			conditions = append(conditions, fmt.Sprintf("%s = ANY(%s)", col, next(val)))
		case []string:
			conditions = append(conditions, fmt.Sprintf("%s = ANY(%s)", col, next(val)))
		case authority.RangeFilter:
			conditions = append(conditions, fmt.Sprintf("%s BETWEEN %s AND %s", col, next(val.Min), next(val.Max)))
		default:
			conditions = append(conditions, fmt.Sprintf("%s = %s", col, next(val)))
		}
	}
	return conditions
}
