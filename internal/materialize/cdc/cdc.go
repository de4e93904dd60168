// Package cdc implements the CDC-with-retirement materialization
// strategy: chunked streaming over a staging table, splitting each chunk
// by change_type and applying insert/retire/delete semantics against an
// obsolete_date column.
//
// No columnar/dataframe library was retrieved anywhere in the pack (see
// SPEC_FULL.md §3), so the "in-memory dataframe engine" the spec calls
// for is a hand-rolled slice-of-maps chunker rather than a borrowed one.
package cdc

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"sqlorch/internal/errs"
	"sqlorch/internal/materialize"
	"sqlorch/internal/warehouse"
)

// DefaultChunkSize is the default number of staged rows streamed per
// chunk during an incremental CDC load.
const DefaultChunkSize = 10_000_000

// BatchSize bounds both the UPDATE-retirement key list and the
// multi-row INSERT VALUES batches.
const BatchSize = 1000

// Row is one staged input record, keyed by column name.
type Row map[string]any

// Strategy implements the `materialized: cdc` strategy.
type Strategy struct {
	ChunkSize int
	Now       func() time.Time
	Log       *zap.Logger

	// Stage is how the strategy obtains staged rows for an incremental
	// load, in chunks of up to ChunkSize. A production wiring streams
	// from the warehouse; tests supply an in-memory source.
	Stage func(ctx context.Context, wh warehouse.Client, req materialize.Request, stagingTable string, chunkSize int, emit func([]Row) error) error
}

// counters accumulates one Materialize call's rows_retired/rows_inserted/
// chunks_processed counts. It is created fresh per call (never stored on
// Strategy) since the same *Strategy is shared across models running
// concurrently within a DAG level.
type counters struct {
	RowsRetired     int
	RowsInserted    int
	ChunksProcessed int
}

// New returns a CDC strategy with the spec's default chunk size, logging
// per-run counters through log (nil is treated as a no-op logger).
func New(log *zap.Logger) *Strategy {
	if log == nil {
		log = zap.NewNop()
	}
	return &Strategy{ChunkSize: DefaultChunkSize, Now: time.Now, Log: log}
}

func (s *Strategy) changeTypeColumn(req materialize.Request) string {
	if req.Config != nil {
		return req.Config.ChangeTypeColumn()
	}
	return "__CDC_OPERATION"
}

// Materialize dispatches to the initial or incremental load depending on
// whether the target table already exists, logging the accumulated
// rows_retired/rows_inserted/chunks_processed counters once the run
// completes (success or failure).
func (s *Strategy) Materialize(ctx context.Context, wh warehouse.Client, req materialize.Request) (materialize.StrategyResult, error) {
	c := &counters{}

	exists, err := s.targetExists(ctx, wh, req)
	if err != nil {
		return materialize.StrategyResult{}, err
	}

	var result materialize.StrategyResult
	if !exists {
		result, err = s.initialLoad(ctx, wh, req, c)
	} else {
		result, err = s.incrementalLoad(ctx, wh, req, c)
	}

	s.Log.Info("cdc materialization",
		zap.String("model", req.Model),
		zap.Int("rows_retired", c.RowsRetired),
		zap.Int("rows_inserted", c.RowsInserted),
		zap.Int("chunks_processed", c.ChunksProcessed),
		zap.Bool("success", err == nil),
	)
	return result, err
}

func (s *Strategy) targetExists(ctx context.Context, wh warehouse.Client, req materialize.Request) (bool, error) {
	_, err := wh.Execute(ctx, fmt.Sprintf("SELECT 1 FROM %s WHERE 1 = 0", req.QualifiedName), req.SessionVars, true)
	return err == nil, nil
}

// initialLoad creates the CDC-shaped target table, deduplicates the
// select's rows by unique_key (stable sort keeping the last occurrence),
// and bulk-inserts them as current (obsolete_date = NULL).
func (s *Strategy) initialLoad(ctx context.Context, wh warehouse.Client, req materialize.Request, c *counters) (materialize.StrategyResult, error) {
	uniqueKey := req.Config.UniqueKey
	ctCol := s.changeTypeColumn(req)

	ddl := fmt.Sprintf(
		"CREATE TABLE %s AS SELECT *, CAST(NULL AS TIMESTAMP) AS __CDC_TIMESTAMP, CAST(NULL AS TIMESTAMP) AS obsolete_date FROM (%s) AS _src WHERE 1 = 0",
		req.QualifiedName, req.RenderedSQL,
	)
	if _, err := wh.Execute(ctx, ddl, req.SessionVars, false); err != nil {
		return materialize.StrategyResult{}, s.wrapErr(req, err)
	}

	rows, err := wh.Execute(ctx, req.RenderedSQL, req.SessionVars, true)
	if err != nil {
		return materialize.StrategyResult{}, s.wrapErr(req, err)
	}

	deduped := dedupeByKeyStableKeepLast(toRows(rows), uniqueKey)
	now := s.Now().UTC()
	for i := range deduped {
		delete(deduped[i], ctCol)
		deduped[i]["__CDC_TIMESTAMP"] = now
		deduped[i]["obsolete_date"] = nil
	}

	if err := s.bulkInsert(ctx, wh, req, req.QualifiedName, deduped, c); err != nil {
		return materialize.StrategyResult{}, s.wrapErr(req, err)
	}

	return materialize.StrategyResult{Transition: "initial_load"}, nil
}

// incrementalLoad stages the select's rows into a temp staging table,
// streams them in chunks, and applies insert/update/delete/expire
// semantics to the target per chunk. The staging table is dropped
// unconditionally, even on failure.
func (s *Strategy) incrementalLoad(ctx context.Context, wh warehouse.Client, req materialize.Request, c *counters) (materialize.StrategyResult, error) {
	ts := s.Now().UTC().Format("20060102150405")
	stagingTable := fmt.Sprintf("%s_staging_%s", req.QualifiedName, ts)

	createStaging := fmt.Sprintf("CREATE TEMPORARY TABLE %s AS %s", stagingTable, req.RenderedSQL)
	if _, err := wh.Execute(ctx, createStaging, req.SessionVars, false); err != nil {
		return materialize.StrategyResult{}, s.wrapErr(req, err)
	}

	defer func() {
		// Never mask the original error: drop failures here are not
		// reported back through runErr, matching the spec's "drop must
		// never mask an original error".
		_, _ = wh.Execute(ctx, fmt.Sprintf("DROP TABLE %s", stagingTable), req.SessionVars, false)
	}()

	chunkSize := s.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	stage := s.Stage
	if stage == nil {
		stage = s.streamFromStagingTable
	}

	runErr := stage(ctx, wh, req, stagingTable, chunkSize, func(chunk []Row) error {
		if err := s.applyChunk(ctx, wh, req, chunk, c); err != nil {
			return err
		}
		c.ChunksProcessed++
		return nil
	})
	if runErr != nil {
		return materialize.StrategyResult{}, s.wrapErr(req, runErr)
	}

	return materialize.StrategyResult{Transition: "merged"}, nil
}

// streamFromStagingTable is the production Stage implementation: it
// pages through the staging table with a keyset-less OFFSET scan. It is
// intentionally simple — the warehouse boundary is an opaque
// fetch-all-rows Execute, so true server-side cursors are left to a
// future WarehouseClient.Cursor extension; tests exercise chunking logic
// directly via a custom Stage.
func (s *Strategy) streamFromStagingTable(ctx context.Context, wh warehouse.Client, req materialize.Request, stagingTable string, chunkSize int, emit func([]Row) error) error {
	offset := 0
	for {
		sql := fmt.Sprintf("SELECT * FROM %s LIMIT %d OFFSET %d", stagingTable, chunkSize, offset)
		rows, err := wh.Execute(ctx, sql, req.SessionVars, true)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		if err := emit(toRows(rows)); err != nil {
			return err
		}
		if len(rows) < chunkSize {
			return nil
		}
		offset += chunkSize

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// applyChunk splits chunk by change_type into I/U/D/E sub-frames and
// applies each per the state machine.
func (s *Strategy) applyChunk(ctx context.Context, wh warehouse.Client, req materialize.Request, chunk []Row, c *counters) error {
	ctCol := s.changeTypeColumn(req)
	uniqueKey := req.Config.UniqueKey
	now := s.Now().UTC()

	var inserts, updates, deletesExpires []Row
	for _, row := range chunk {
		switch fmt.Sprintf("%v", row[ctCol]) {
		case "I":
			inserts = append(inserts, row)
		case "U":
			updates = append(updates, row)
		case "D", "E":
			deletesExpires = append(deletesExpires, row)
		}
	}

	if len(inserts) > 0 {
		toInsert := make([]Row, len(inserts))
		for i, row := range inserts {
			cp := cloneRow(row)
			delete(cp, ctCol)
			cp["__CDC_TIMESTAMP"] = now
			cp["obsolete_date"] = nil
			toInsert[i] = cp
		}
		if err := s.bulkInsert(ctx, wh, req, req.QualifiedName, toInsert, c); err != nil {
			return err
		}
	}

	if len(updates) > 0 {
		keys := keysOf(updates, uniqueKey)
		if err := s.retire(ctx, wh, req, keys, now, c); err != nil {
			return err
		}
		toInsert := make([]Row, len(updates))
		for i, row := range updates {
			cp := cloneRow(row)
			delete(cp, ctCol)
			cp["__CDC_TIMESTAMP"] = now
			cp["obsolete_date"] = nil
			toInsert[i] = cp
		}
		if err := s.bulkInsert(ctx, wh, req, req.QualifiedName, toInsert, c); err != nil {
			return err
		}
	}

	if len(deletesExpires) > 0 {
		keys := keysOf(deletesExpires, uniqueKey)
		if err := s.retire(ctx, wh, req, keys, now, c); err != nil {
			return err
		}
	}

	return nil
}

// retire issues batched `UPDATE target SET obsolete_date = now WHERE
// unique_key IN (…) AND obsolete_date IS NULL` in groups of up to
// BatchSize keys per statement.
func (s *Strategy) retire(ctx context.Context, wh warehouse.Client, req materialize.Request, keys []any, now time.Time, c *counters) error {
	uniqueKey := req.Config.UniqueKey
	for _, batch := range chunkKeys(keys, BatchSize) {
		literals := make([]string, len(batch))
		for i, k := range batch {
			literals[i] = materialize.FormatLiteral(k)
		}
		sql := fmt.Sprintf(
			"UPDATE %s SET obsolete_date = %s WHERE %s IN (%s) AND obsolete_date IS NULL",
			req.QualifiedName, materialize.FormatLiteral(now), uniqueKey, joinComma(literals),
		)
		if _, err := wh.Execute(ctx, sql, req.SessionVars, false); err != nil {
			return err
		}
		c.RowsRetired += len(batch)
	}
	return nil
}

// bulkInsert creates a temp table shaped like target, inserts rows in
// batches of up to BatchSize via multi-row INSERT VALUES, copies them
// into target, then drops the temp table.
func (s *Strategy) bulkInsert(ctx context.Context, wh warehouse.Client, req materialize.Request, target string, rows []Row, c *counters) error {
	if len(rows) == 0 {
		return nil
	}
	tempTable := fmt.Sprintf("%s_BULK_TMP_%d", target, s.Now().UnixNano())

	if _, err := wh.Execute(ctx, fmt.Sprintf("CREATE TEMPORARY TABLE %s AS SELECT * FROM %s WHERE 1 = 0", tempTable, target), req.SessionVars, false); err != nil {
		return err
	}
	defer func() {
		_, _ = wh.Execute(ctx, fmt.Sprintf("DROP TABLE %s", tempTable), req.SessionVars, false)
	}()

	columns := sortedColumns(rows[0])
	for _, batch := range chunkRows(rows, BatchSize) {
		sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", tempTable, joinComma(columns), valuesList(batch, columns))
		if _, err := wh.Execute(ctx, sql, req.SessionVars, false); err != nil {
			return err
		}
	}

	if _, err := wh.Execute(ctx, fmt.Sprintf("INSERT INTO %s SELECT * FROM %s", target, tempTable), req.SessionVars, false); err != nil {
		return err
	}
	c.RowsInserted += len(rows)
	return nil
}

func (s *Strategy) wrapErr(req materialize.Request, cause error) error {
	return &errs.MaterializationError{Model: req.Model, Strategy: "cdc", ChunkSize: s.effectiveChunkSize(), Cause: cause}
}

func (s *Strategy) effectiveChunkSize() int {
	if s.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return s.ChunkSize
}

func toRows(rs []warehouse.Row) []Row {
	out := make([]Row, len(rs))
	for i, r := range rs {
		out[i] = Row(r)
	}
	return out
}

func cloneRow(r Row) Row {
	cp := make(Row, len(r))
	for k, v := range r {
		cp[k] = v
	}
	return cp
}

// dedupeByKeyStableKeepLast deduplicates rows by uniqueKey, keeping the
// last occurrence of each key. No sort is done: each key's last index is
// recorded and the kept rows are returned in their input order.
func dedupeByKeyStableKeepLast(rows []Row, uniqueKey string) []Row {
	lastIndex := make(map[any]int, len(rows))
	for i, r := range rows {
		lastIndex[r[uniqueKey]] = i
	}

	keep := make([]bool, len(rows))
	for _, idx := range lastIndex {
		keep[idx] = true
	}

	out := make([]Row, 0, len(lastIndex))
	for i, r := range rows {
		if keep[i] {
			out = append(out, r)
		}
	}
	return out
}

func keysOf(rows []Row, uniqueKey string) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r[uniqueKey]
	}
	return out
}

func chunkKeys(keys []any, size int) [][]any {
	var out [][]any
	for i := 0; i < len(keys); i += size {
		end := i + size
		if end > len(keys) {
			end = len(keys)
		}
		out = append(out, keys[i:end])
	}
	return out
}

func chunkRows(rows []Row, size int) [][]Row {
	var out [][]Row
	for i := 0; i < len(rows); i += size {
		end := i + size
		if end > len(rows) {
			end = len(rows)
		}
		out = append(out, rows[i:end])
	}
	return out
}

func sortedColumns(r Row) []string {
	cols := make([]string, 0, len(r))
	for k := range r {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

func valuesList(rows []Row, columns []string) string {
	tuples := make([]string, len(rows))
	for i, row := range rows {
		vals := make([]string, len(columns))
		for j, col := range columns {
			vals[j] = materialize.FormatLiteral(row[col])
		}
		tuples[i] = "(" + joinComma(vals) + ")"
	}
	return joinComma(tuples)
}

func joinComma(items []string) string {
	out := ""
	for i, item := range items {
		if i > 0 {
			out += ", "
		}
		out += item
	}
	return out
}
