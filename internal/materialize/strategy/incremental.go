package strategy

import (
	"context"
	"fmt"
	"time"

	"sqlorch/internal/materialize"
	"sqlorch/internal/warehouse"
)

// Watermarks is the narrow slice of state.Store the incremental
// strategies need: reading and recording a per-model, per-key
// incremental cursor (e.g. "last_processed_time").
type Watermarks interface {
	IncrementalGet(model, key string) string
	IncrementalSet(model, key, value string)
}

const timeWatermarkKey = "last_processed_time"

// Incremental implements the time/unique_key/append incremental
// strategies. Which one runs is selected by Config.IncrementalStrategy
// on the request passed to Materialize.
type Incremental struct {
	Watermarks Watermarks
	Now        func() time.Time
}

// NewIncremental returns an Incremental strategy backed by watermarks.
func NewIncremental(watermarks Watermarks) *Incremental {
	return &Incremental{Watermarks: watermarks, Now: time.Now}
}

func (s *Incremental) Materialize(ctx context.Context, wh warehouse.Client, req materialize.Request) (materialize.StrategyResult, error) {
	switch req.Config.IncrementalStrategy {
	case "time":
		return s.materializeTime(ctx, wh, req)
	case "unique_key":
		return s.materializeUniqueKey(ctx, wh, req)
	case "append":
		return s.materializeAppend(ctx, wh, req)
	default:
		return materialize.StrategyResult{}, fmt.Errorf("unsupported incremental strategy %q", req.Config.IncrementalStrategy)
	}
}

func (s *Incremental) targetExists(ctx context.Context, wh warehouse.Client, req materialize.Request) bool {
	_, err := wh.Execute(ctx, fmt.Sprintf("SELECT 1 FROM %s WHERE 1 = 0", req.QualifiedName), req.SessionVars, true)
	return err == nil
}

func (s *Incremental) materializeTime(ctx context.Context, wh warehouse.Client, req materialize.Request) (materialize.StrategyResult, error) {
	now := s.Now().UTC().Format(time.RFC3339)

	if !s.targetExists(ctx, wh, req) {
		selectSQL := req.RenderedSQL
		watermarkSeed := now
		if req.BackfillStart != "" {
			selectSQL = fmt.Sprintf(
				"SELECT * FROM (%s) AS _src WHERE _src.%s >= %s",
				req.RenderedSQL, req.Config.TimeColumn, materialize.FormatLiteral(req.BackfillStart),
			)
			if req.BackfillEnd != "" {
				selectSQL = fmt.Sprintf("%s AND _src.%s <= %s", selectSQL, req.Config.TimeColumn, materialize.FormatLiteral(req.BackfillEnd))
				watermarkSeed = req.BackfillEnd
			}
		}
		ddl := fmt.Sprintf("CREATE TABLE %s AS %s", req.QualifiedName, selectSQL)
		if _, err := wh.Execute(ctx, ddl, req.SessionVars, false); err != nil {
			return materialize.StrategyResult{}, err
		}
		s.Watermarks.IncrementalSet(req.Model, timeWatermarkKey, watermarkSeed)
		return materialize.StrategyResult{Transition: "initial_load"}, nil
	}

	watermark := s.Watermarks.IncrementalGet(req.Model, timeWatermarkKey)
	if watermark == "" {
		rows, err := wh.Execute(ctx, fmt.Sprintf("SELECT MAX(%s) AS hwm FROM %s", req.Config.TimeColumn, req.QualifiedName), req.SessionVars, true)
		if err != nil {
			return materialize.StrategyResult{}, err
		}
		if len(rows) > 0 {
			watermark = fmt.Sprintf("%v", rows[0]["hwm"])
		}
	}

	insert := fmt.Sprintf(
		"INSERT INTO %s SELECT * FROM (%s) AS _src WHERE _src.%s > %s",
		req.QualifiedName, req.RenderedSQL, req.Config.TimeColumn, materialize.FormatLiteral(watermark),
	)
	if _, err := wh.Execute(ctx, insert, req.SessionVars, false); err != nil {
		return materialize.StrategyResult{}, err
	}
	s.Watermarks.IncrementalSet(req.Model, timeWatermarkKey, now)
	return materialize.StrategyResult{Transition: "updated"}, nil
}

func (s *Incremental) materializeUniqueKey(ctx context.Context, wh warehouse.Client, req materialize.Request) (materialize.StrategyResult, error) {
	if !s.targetExists(ctx, wh, req) {
		ddl := fmt.Sprintf("CREATE TABLE %s AS %s", req.QualifiedName, req.RenderedSQL)
		if _, err := wh.Execute(ctx, ddl, req.SessionVars, false); err != nil {
			return materialize.StrategyResult{}, err
		}
		return materialize.StrategyResult{Transition: "initial_load"}, nil
	}

	tempName := req.QualifiedName + "_MERGE_TMP"
	statements := []string{
		fmt.Sprintf("CREATE TEMPORARY TABLE %s AS %s", tempName, req.RenderedSQL),
		fmt.Sprintf(
			"MERGE INTO %s USING %s ON %s.%s = %s.%s WHEN MATCHED THEN UPDATE SET * WHEN NOT MATCHED THEN INSERT *",
			req.QualifiedName, tempName, req.QualifiedName, req.Config.UniqueKey, tempName, req.Config.UniqueKey,
		),
		fmt.Sprintf("DROP TABLE %s", tempName),
	}
	if err := wh.ExecuteTx(ctx, statements, req.SessionVars); err != nil {
		return materialize.StrategyResult{}, err
	}
	return materialize.StrategyResult{Transition: "merged"}, nil
}

func (s *Incremental) materializeAppend(ctx context.Context, wh warehouse.Client, req materialize.Request) (materialize.StrategyResult, error) {
	if !s.targetExists(ctx, wh, req) {
		ddl := fmt.Sprintf("CREATE TABLE %s AS %s", req.QualifiedName, req.RenderedSQL)
		if _, err := wh.Execute(ctx, ddl, req.SessionVars, false); err != nil {
			return materialize.StrategyResult{}, err
		}
		return materialize.StrategyResult{Transition: "initial_load"}, nil
	}

	insert := fmt.Sprintf("INSERT INTO %s %s", req.QualifiedName, req.RenderedSQL)
	if _, err := wh.Execute(ctx, insert, req.SessionVars, false); err != nil {
		return materialize.StrategyResult{}, err
	}
	return materialize.StrategyResult{Transition: "appended"}, nil
}
