package graph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"sqlorch/internal/errs"
	"sqlorch/internal/types"
)

func TestDetectCycleFindsBackEdge(t *testing.T) {
	g := New()
	g.Add("a", []string{"b"}, nil)
	g.Add("b", []string{"a"}, nil)

	cyc := g.DetectCycle()
	require.NotNil(t, cyc)
	require.Equal(t, cyc[0], cyc[len(cyc)-1], "cycle path must return to its start")
}

func TestTopologicalOrderIsLevelParallel(t *testing.T) {
	g := New()
	g.Add("a", nil, nil)
	g.Add("b", []string{"a"}, nil)
	g.Add("c", []string{"a"}, nil)
	g.Add("d", []string{"b", "c"}, nil)

	levels, err := g.TopologicalOrder()
	require.NoError(t, err)
	require.Equal(t, [][]string{{"a"}, {"b", "c"}, {"d"}}, levels)
}

func TestExecutionOrderReturnsCircularDependencyError(t *testing.T) {
	g := New()
	g.Add("a", []string{"b"}, nil)
	g.Add("b", []string{"a"}, nil)

	_, err := g.ExecutionOrder([]string{"a", "b"})
	require.Error(t, err)
	var cycErr *errs.CircularDependency
	require.ErrorAs(t, err, &cycErr)
}

func TestImpactIsTransitiveClosureOfDependents(t *testing.T) {
	g := New()
	g.Add("a", nil, nil)
	g.Add("b", []string{"a"}, nil)
	g.Add("c", []string{"b"}, nil)
	g.Add("d", nil, nil)

	require.Equal(t, []string{"b", "c"}, g.Impact([]string{"a"}))
	require.Empty(t, g.Impact([]string{"d"}))
}

func TestAllDependenciesIsTransitiveClosureUpstream(t *testing.T) {
	g := New()
	g.Add("a", nil, nil)
	g.Add("b", []string{"a"}, nil)
	g.Add("c", []string{"b"}, nil)

	require.Equal(t, []string{"a", "b"}, g.AllDependencies("c"))
}

func TestAddReplacesStaleDependencyEdges(t *testing.T) {
	g := New()
	g.Add("a", nil, nil)
	g.Add("b", nil, nil)
	g.Add("c", []string{"a"}, nil)

	g.Add("c", []string{"b"}, nil)

	require.Equal(t, []string{"b"}, g.Dependencies("c"))
	require.Empty(t, g.Dependents("a"))
	require.Equal(t, []string{"c"}, g.Dependents("b"))
}

func TestColumnImpactFollowsLineageChain(t *testing.T) {
	g := New()
	g.Add("orders", nil, nil)

	revenueLineage := types.NewModelLineage("revenue")
	revenueLineage.Columns["total"] = &types.ColumnLineage{
		ColumnName:    "total",
		SourceColumns: []types.TableColumn{{Table: "orders", Column: "amount"}},
	}
	g.Add("revenue", []string{"orders"}, revenueLineage)

	reportLineage := types.NewModelLineage("report")
	reportLineage.Columns["grand_total"] = &types.ColumnLineage{
		ColumnName:    "grand_total",
		SourceColumns: []types.TableColumn{{Table: "revenue", Column: "total"}},
	}
	g.Add("report", []string{"revenue"}, reportLineage)

	require.Equal(t, []string{"report.grand_total", "revenue.total"}, g.ColumnImpact("orders", "amount"))
}

func TestRemoveDropsAllEdges(t *testing.T) {
	g := New()
	g.Add("a", nil, nil)
	g.Add("b", []string{"a"}, nil)

	g.Remove("a")

	require.Empty(t, g.Dependencies("b"))
	require.Nil(t, g.Dependents("a"))
}
