package planner

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"sqlorch/internal/graph"
	"sqlorch/internal/state"
	"sqlorch/internal/types"
)

func newStore(t *testing.T) *state.Store {
	t.Helper()
	s, err := state.Open(filepath.Join(t.TempDir(), "state_dev.json"))
	require.NoError(t, err)
	return s
}

func TestPlanClassifiesNewModelAsCreate(t *testing.T) {
	g := graph.New()
	g.Add("m", nil, nil)
	s := newStore(t)
	p := New(g, s)

	current := map[string]*types.ParsedModel{
		"m": {Name: "m", ContentHash: "h1"},
	}
	plan, err := p.Plan(current, nil, Options{})
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	require.Equal(t, types.ChangeCreate, plan.Changes[0].Type)
	require.Equal(t, [][]string{{"m"}}, plan.ExecutionOrder)
}

func TestPlanClassifiesUnchangedModelAsNoChange(t *testing.T) {
	g := graph.New()
	g.Add("m", nil, nil)
	s := newStore(t)
	s.UpdateFingerprint("m", "h1", ConfigHash(nil), nil)
	p := New(g, s)

	current := map[string]*types.ParsedModel{
		"m": {Name: "m", ContentHash: "h1"},
	}
	plan, err := p.Plan(current, nil, Options{})
	require.NoError(t, err)
	require.Equal(t, types.ChangeNoChange, plan.Changes[0].Type)
	require.Empty(t, plan.ExecutionOrder)
}

func TestPlanDetectsFileHashChange(t *testing.T) {
	g := graph.New()
	g.Add("m", nil, nil)
	s := newStore(t)
	s.UpdateFingerprint("m", "h1", ConfigHash(nil), nil)
	p := New(g, s)

	current := map[string]*types.ParsedModel{
		"m": {Name: "m", ContentHash: "h2"},
	}
	plan, err := p.Plan(current, nil, Options{})
	require.NoError(t, err)
	require.Equal(t, types.ChangeUpdate, plan.Changes[0].Type)
	require.Equal(t, "model file changed", plan.Changes[0].Reason)
}

func TestPlanDetectsConfigHashChange(t *testing.T) {
	g := graph.New()
	g.Add("m", nil, nil)
	s := newStore(t)
	s.UpdateFingerprint("m", "h1", ConfigHash(&types.ModelConfig{Materialized: types.MaterializedView}), nil)
	p := New(g, s)

	current := map[string]*types.ParsedModel{
		"m": {Name: "m", ContentHash: "h1"},
	}
	configs := map[string]*types.ModelConfig{
		"m": {Materialized: types.MaterializedTable},
	}
	plan, err := p.Plan(current, configs, Options{})
	require.NoError(t, err)
	require.Equal(t, types.ChangeUpdate, plan.Changes[0].Type)
	require.Equal(t, "model configuration changed", plan.Changes[0].Reason)
}

func TestPlanFullRefreshForcesUpdate(t *testing.T) {
	g := graph.New()
	g.Add("m", nil, nil)
	s := newStore(t)
	s.UpdateFingerprint("m", "h1", ConfigHash(nil), nil)
	p := New(g, s)

	current := map[string]*types.ParsedModel{
		"m": {Name: "m", ContentHash: "h1"},
	}
	plan, err := p.Plan(current, nil, Options{FullRefresh: true})
	require.NoError(t, err)
	require.Equal(t, types.ChangeUpdate, plan.Changes[0].Type)
	require.Equal(t, "full refresh requested", plan.Changes[0].Reason)
}

func TestPlanExpandsTargetsWithDependencies(t *testing.T) {
	g := graph.New()
	g.Add("base", nil, nil)
	g.Add("downstream", []string{"base"}, nil)
	s := newStore(t)
	p := New(g, s)

	current := map[string]*types.ParsedModel{
		"base":       {Name: "base", ContentHash: "h1"},
		"downstream": {Name: "downstream", ContentHash: "h2", Refs: map[string]struct{}{"base": {}}},
	}
	plan, err := p.Plan(current, nil, Options{Targets: []string{"downstream"}})
	require.NoError(t, err)
	require.Len(t, plan.Changes, 2)
	require.Equal(t, [][]string{{"base"}, {"downstream"}}, plan.ExecutionOrder)
}
