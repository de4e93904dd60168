// Package testdata executes the column-level data-quality tests declared
// in schema*.yml (e.g. "unique", "not_null") against a materialized
// model, reporting failures as errs.KindTest. This supplements the
// distilled spec with the original implementation's test runner, scoped
// to the column test kinds its schema format already declares.
package testdata

import (
	"context"
	"fmt"

	"sqlorch/internal/errs"
	"sqlorch/internal/types"
	"sqlorch/internal/warehouse"
)

// Result is the outcome of one column test.
type Result struct {
	Model   string
	Column  string
	Test    types.ColumnTest
	Passed  bool
	Failing int64 // number of rows violating the test, when known
}

// Runner executes declared column tests against a materialized model.
type Runner struct {
	wh warehouse.Client
}

// New returns a Runner that issues its test queries through wh.
func New(wh warehouse.Client) *Runner {
	return &Runner{wh: wh}
}

// Run executes every test declared on cfg.Columns against qualifiedName,
// returning one Result per (column, test) pair. The first query failure
// (not test failure — an actual execution error) aborts with
// errs.KindTest.
func (r *Runner) Run(ctx context.Context, qualifiedName string, cfg *types.ModelConfig) ([]Result, error) {
	var results []Result
	for _, col := range cfg.Columns {
		for _, test := range col.Tests {
			sql, err := testQuery(qualifiedName, col.Name, test)
			if err != nil {
				return nil, errs.ForModel(errs.KindTest, cfg.Name, err.Error(), nil)
			}

			rows, err := r.wh.Execute(ctx, sql, nil, true)
			if err != nil {
				return nil, errs.ForModel(errs.KindTest, cfg.Name, fmt.Sprintf("run test %s on %s.%s", test, qualifiedName, col.Name), err)
			}

			failing := int64(0)
			if len(rows) > 0 {
				if v, ok := rows[0]["failing_count"]; ok {
					if n, ok := v.(int64); ok {
						failing = n
					}
				}
			}

			results = append(results, Result{
				Model:   cfg.Name,
				Column:  col.Name,
				Test:    test,
				Passed:  failing == 0,
				Failing: failing,
			})
		}
	}
	return results, nil
}

// testQuery renders the count-of-violations query for a single
// (column, test) pair.
func testQuery(qualifiedName, column string, test types.ColumnTest) (string, error) {
	switch test {
	case "not_null":
		return fmt.Sprintf("SELECT COUNT(*) AS failing_count FROM %s WHERE %s IS NULL", qualifiedName, column), nil
	case "unique":
		return fmt.Sprintf(
			"SELECT COUNT(*) AS failing_count FROM (SELECT %s FROM %s GROUP BY %s HAVING COUNT(*) > 1) AS _dupes",
			column, qualifiedName, column,
		), nil
	case "positive":
		return fmt.Sprintf("SELECT COUNT(*) AS failing_count FROM %s WHERE %s <= 0", qualifiedName, column), nil
	default:
		return "", fmt.Errorf("unsupported column test %q", test)
	}
}

// AnyFailed reports whether any result in results failed.
func AnyFailed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return true
		}
	}
	return false
}
