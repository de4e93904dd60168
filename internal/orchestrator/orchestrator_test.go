package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"sqlorch/internal/types"
	"sqlorch/internal/warehouse"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func newTestEngine(t *testing.T, wh warehouse.Client) *Engine {
	t.Helper()
	dir := t.TempDir()

	writeFile(t, dir, "accounts.sql", `-- config: materialized=view
SELECT id, region FROM raw_accounts`)
	writeFile(t, dir, "revenue.sql", `-- config: materialized=table
SELECT a.id AS id, a.region AS region FROM {{ ref "accounts" }} a`)
	writeFile(t, dir, "schema.yml", `
models:
  - name: accounts
    config:
      materialized: view
  - name: revenue
    config:
      materialized: table
`)

	cfg := Config{
		ModelsDir:      dir,
		SchemaDir:      dir,
		SourcesFile:    filepath.Join(dir, "sources.yml"),
		RootDir:        dir,
		Project:        "testproj",
		Environment:    "dev",
		Database:       "analytics",
		Schema:         "public",
		MaxParallelism: 2,
	}

	eng, err := New(cfg, wh, nil)
	require.NoError(t, err)
	require.NoError(t, eng.Load())
	return eng
}

func TestLoadBuildsGraphFromRefs(t *testing.T) {
	eng := newTestEngine(t, warehouse.NewFake())
	defer eng.Close()

	require.Contains(t, eng.Models(), "accounts")
	require.Contains(t, eng.Models(), "revenue")
	require.Equal(t, []string{"accounts"}, eng.Graph().Dependencies("revenue"))
}

func TestLoadDetectsCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.sql", `-- depends_on: b
SELECT 1`)
	writeFile(t, dir, "b.sql", `-- depends_on: a
SELECT 1`)

	cfg := Config{ModelsDir: dir, SchemaDir: dir, SourcesFile: filepath.Join(dir, "sources.yml"), RootDir: dir, Project: "p", Environment: "dev"}
	eng, err := New(cfg, warehouse.NewFake(), nil)
	require.NoError(t, err)

	err = eng.Load()
	require.Error(t, err)
}

func TestPlanClassifiesFreshModelsAsCreate(t *testing.T) {
	eng := newTestEngine(t, warehouse.NewFake())
	defer eng.Close()

	plan, err := eng.Plan(nil, false)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 2)
	for _, c := range plan.Changes {
		require.Equal(t, types.ChangeCreate, c.Type)
	}
	require.Equal(t, [][]string{{"accounts"}, {"revenue"}}, plan.ExecutionOrder)
}

func TestRunMaterializesLevelsInOrderAndPersistsState(t *testing.T) {
	fake := warehouse.NewFake()
	eng := newTestEngine(t, fake)
	defer eng.Close()

	plan, err := eng.Plan(nil, false)
	require.NoError(t, err)

	rep, err := eng.Run(context.Background(), plan)
	require.NoError(t, err)
	require.True(t, rep.Succeeded())
	require.NotEmpty(t, fake.Executed)

	require.NoError(t, eng.SaveState())

	// A second Plan against unchanged models should now see no_change.
	plan2, err := eng.Plan(nil, false)
	require.NoError(t, err)
	for _, c := range plan2.Changes {
		require.Equal(t, types.ChangeNoChange, c.Type)
	}
}

func TestRunFailFastAbortsOnFirstError(t *testing.T) {
	fake := warehouse.NewFake()
	fake.ExecErr = errTest{}
	eng := newTestEngine(t, fake)
	eng.cfg.FailFast = true
	defer eng.Close()

	plan, err := eng.Plan(nil, false)
	require.NoError(t, err)

	_, runErr := eng.Run(context.Background(), plan)
	require.Error(t, runErr)
}

func TestRunCollectsAllFailuresWithoutFailFast(t *testing.T) {
	fake := warehouse.NewFake()
	fake.ExecErr = errTest{}
	eng := newTestEngine(t, fake)
	defer eng.Close()

	plan, err := eng.Plan(nil, false)
	require.NoError(t, err)

	rep, runErr := eng.Run(context.Background(), plan)
	require.NoError(t, runErr)
	require.False(t, rep.Succeeded())
	require.Equal(t, 2, rep.FailureCount())
}

type errTest struct{}

func (errTest) Error() string { return "boom" }
