// Package strategy implements the View/Table/TempTable and Incremental
// materialization strategies dispatched to by internal/materialize.
package strategy

import (
	"context"
	"fmt"

	"sqlorch/internal/materialize"
	"sqlorch/internal/warehouse"
)

// ViewTable issues a single idempotent `CREATE OR REPLACE [TEMPORARY]
// {VIEW|TABLE}` DDL; it backs the view, table, and temp_table
// materializations, which differ only in the emitted object kind.
type ViewTable struct {
	Object    string // "VIEW" or "TABLE"
	Temporary bool
}

func (s *ViewTable) Materialize(ctx context.Context, wh warehouse.Client, req materialize.Request) (materialize.StrategyResult, error) {
	temp := ""
	if s.Temporary {
		temp = "TEMPORARY "
	}
	ddl := fmt.Sprintf("CREATE OR REPLACE %s%s %s AS %s", temp, s.Object, req.QualifiedName, req.RenderedSQL)

	if _, err := wh.Execute(ctx, ddl, req.SessionVars, false); err != nil {
		return materialize.StrategyResult{}, err
	}
	return materialize.StrategyResult{Transition: "replaced"}, nil
}

// NewView returns the `materialized: view` strategy.
func NewView() *ViewTable { return &ViewTable{Object: "VIEW"} }

// NewTable returns the `materialized: table` strategy.
func NewTable() *ViewTable { return &ViewTable{Object: "TABLE"} }

// NewTempTable returns the `materialized: temp_table` strategy.
func NewTempTable() *ViewTable { return &ViewTable{Object: "TABLE", Temporary: true} }
