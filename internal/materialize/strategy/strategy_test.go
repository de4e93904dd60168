package strategy

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sqlorch/internal/materialize"
	"sqlorch/internal/state"
	"sqlorch/internal/types"
	"sqlorch/internal/warehouse"
)

func TestViewTableEmitsCreateOrReplace(t *testing.T) {
	fake := warehouse.NewFake()
	s := NewView()

	_, err := s.Materialize(context.Background(), fake, materialize.Request{
		Model: "m", QualifiedName: "DB.SCH.M", RenderedSQL: "SELECT 1",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"CREATE OR REPLACE VIEW DB.SCH.M AS SELECT 1"}, fake.Executed)
}

func TestTempTableIsMarkedTemporary(t *testing.T) {
	fake := warehouse.NewFake()
	s := NewTempTable()

	_, err := s.Materialize(context.Background(), fake, materialize.Request{
		QualifiedName: "DB.SCH.M", RenderedSQL: "SELECT 1",
	})
	require.NoError(t, err)
	require.Equal(t, "CREATE OR REPLACE TEMPORARY TABLE DB.SCH.M AS SELECT 1", fake.Executed[0])
}

func newWatermarkStore(t *testing.T) *state.Store {
	t.Helper()
	s, err := state.Open(t.TempDir() + "/state_dev.json")
	require.NoError(t, err)
	return s
}

// existenceFake fails only the "table exists" probe (a bare SELECT 1 ...
// WHERE 1 = 0) until a CREATE TABLE statement runs or a test sets
// exists, then forwards every call to the embedded Fake — modeling a
// target table that doesn't exist on the first run and does on the
// second.
type existenceFake struct {
	*warehouse.Fake
	exists bool
}

func newExistenceFake() *existenceFake {
	return &existenceFake{Fake: warehouse.NewFake()}
}

func (f *existenceFake) Execute(ctx context.Context, sql string, vars map[string]string, fetch bool) ([]warehouse.Row, error) {
	if strings.Contains(sql, "WHERE 1 = 0") && !f.exists {
		return nil, errors.New("relation does not exist")
	}
	if strings.HasPrefix(sql, "CREATE TABLE") {
		f.exists = true
	}
	return f.Fake.Execute(ctx, sql, vars, fetch)
}

func TestIncrementalTimeInitialLoadThenUpdate(t *testing.T) {
	fake := newExistenceFake()
	store := newWatermarkStore(t)
	strat := NewIncremental(store)
	strat.Now = func() time.Time { return time.Unix(1700000000, 0).UTC() }

	req := materialize.Request{
		Model: "events", QualifiedName: "DB.SCH.EVENTS", RenderedSQL: "SELECT * FROM raw_events",
		Config: &types.ModelConfig{IncrementalStrategy: types.IncrementalTime, TimeColumn: "ts"},
	}

	result, err := strat.Materialize(context.Background(), fake, req)
	require.NoError(t, err)
	require.Equal(t, "initial_load", result.Transition)
	require.NotEmpty(t, store.IncrementalGet("events", "last_processed_time"))

	fake.FetchResult = []warehouse.Row{{"hwm": "2026-01-01"}}
	result, err = strat.Materialize(context.Background(), fake, req)
	require.NoError(t, err)
	require.Equal(t, "updated", result.Transition)
}

func TestIncrementalUniqueKeyMergesWhenTargetExists(t *testing.T) {
	fake := newExistenceFake()
	fake.exists = true
	store := newWatermarkStore(t)
	strat := NewIncremental(store)

	req := materialize.Request{
		Model: "accounts", QualifiedName: "DB.SCH.ACCOUNTS", RenderedSQL: "SELECT * FROM raw_accounts",
		Config: &types.ModelConfig{IncrementalStrategy: types.IncrementalUniqueKey, UniqueKey: "id"},
	}

	result, err := strat.Materialize(context.Background(), fake, req)
	require.NoError(t, err)
	require.Equal(t, "merged", result.Transition)
	require.Len(t, fake.TxBatches, 1)
	require.Len(t, fake.TxBatches[0], 3)
}

func TestIncrementalAppendInsertsWhenTargetExists(t *testing.T) {
	fake := newExistenceFake()
	fake.exists = true
	store := newWatermarkStore(t)
	strat := NewIncremental(store)

	req := materialize.Request{
		Model: "logs", QualifiedName: "DB.SCH.LOGS", RenderedSQL: "SELECT * FROM raw_logs",
		Config: &types.ModelConfig{IncrementalStrategy: types.IncrementalAppend},
	}

	result, err := strat.Materialize(context.Background(), fake, req)
	require.NoError(t, err)
	require.Equal(t, "appended", result.Transition)
	// Executed[0] is the existence probe, which the embedded Fake records.
	require.Equal(t, "INSERT INTO DB.SCH.LOGS SELECT * FROM raw_logs", fake.Executed[1])
}
