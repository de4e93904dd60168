// Package graph implements the DependencyGraph component: adjacency
// bookkeeping, cycle detection, level-parallel topological order, and
// impact propagation (including column-level impact via lineage).
package graph

import (
	"sort"

	"sqlorch/internal/errs"
	"sqlorch/internal/types"
)

// Node is one model's position in the graph.
type Node struct {
	Name         string
	Dependencies map[string]struct{}
	Dependents   map[string]struct{}
	Level        int
	Lineage      *types.ModelLineage
}

// Graph holds every node and the edges between them.
type Graph struct {
	nodes map[string]*Node
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{nodes: make(map[string]*Node)}
}

func (g *Graph) ensure(name string) *Node {
	n, ok := g.nodes[name]
	if !ok {
		n = &Node{
			Name:         name,
			Dependencies: make(map[string]struct{}),
			Dependents:   make(map[string]struct{}),
		}
		g.nodes[name] = n
	}
	return n
}

// Add inserts (or updates) a node with the given dependencies, wiring the
// reciprocal dependents edges so that A ∈ B.dependencies ⇔ B ∈
// A.dependents always holds.
func (g *Graph) Add(name string, deps []string, lineage *types.ModelLineage) {
	n := g.ensure(name)
	n.Lineage = lineage

	// Drop edges to dependencies no longer present.
	for old := range n.Dependencies {
		stillPresent := false
		for _, d := range deps {
			if d == old {
				stillPresent = true
				break
			}
		}
		if !stillPresent {
			delete(n.Dependencies, old)
			if dep, ok := g.nodes[old]; ok {
				delete(dep.Dependents, name)
			}
		}
	}

	for _, d := range deps {
		n.Dependencies[d] = struct{}{}
		dep := g.ensure(d)
		dep.Dependents[name] = struct{}{}
	}
}

// Remove deletes a node and all edges touching it.
func (g *Graph) Remove(name string) {
	n, ok := g.nodes[name]
	if !ok {
		return
	}
	for dep := range n.Dependencies {
		if d, ok := g.nodes[dep]; ok {
			delete(d.Dependents, name)
		}
	}
	for dependent := range n.Dependents {
		if d, ok := g.nodes[dependent]; ok {
			delete(d.Dependencies, name)
		}
	}
	delete(g.nodes, name)
}

// Dependencies returns the direct dependencies of name, sorted.
func (g *Graph) Dependencies(name string) []string {
	return sortedKeys(g.nodeDepsOrEmpty(name))
}

// Dependents returns the direct dependents of name, sorted.
func (g *Graph) Dependents(name string) []string {
	n, ok := g.nodes[name]
	if !ok {
		return nil
	}
	return sortedKeys(n.Dependents)
}

func (g *Graph) nodeDepsOrEmpty(name string) map[string]struct{} {
	n, ok := g.nodes[name]
	if !ok {
		return nil
	}
	return n.Dependencies
}

// AllDependencies returns the full transitive closure of name's
// dependencies (upstream).
func (g *Graph) AllDependencies(name string) []string {
	visited := make(map[string]struct{})
	var walk func(string)
	walk = func(cur string) {
		n, ok := g.nodes[cur]
		if !ok {
			return
		}
		for dep := range n.Dependencies {
			if _, seen := visited[dep]; !seen {
				visited[dep] = struct{}{}
				walk(dep)
			}
		}
	}
	walk(name)
	return sortedKeys(visited)
}

// AllDependents returns the full transitive closure of name's dependents
// (downstream) — the same transitive closure Impact uses internally.
func (g *Graph) AllDependents(name string) []string {
	return sortedKeys(g.impactSet(map[string]struct{}{name: {}}))
}

// DetectCycle runs a DFS with a recursion-stack set; on a back-edge it
// returns the path slice from the first occurrence of the target,
// e.g. [A, B, A]. Returns nil if the graph is acyclic.
func (g *Graph) DetectCycle() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.nodes))
	var stack []string

	names := g.sortedNodeNames()

	var visit func(string) []string
	visit = func(name string) []string {
		color[name] = gray
		stack = append(stack, name)

		for _, dep := range g.Dependencies(name) {
			switch color[dep] {
			case white:
				if cyc := visit(dep); cyc != nil {
					return cyc
				}
			case gray:
				for i, s := range stack {
					if s == dep {
						cyc := append([]string{}, stack[i:]...)
						return append(cyc, dep)
					}
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[name] = black
		return nil
	}

	for _, name := range names {
		if color[name] == white {
			if cyc := visit(name); cyc != nil {
				return cyc
			}
		}
	}
	return nil
}

// TopologicalOrder produces the level-parallel order (Kahn's algorithm
// variant): each level contains every node whose remaining in-degree is
// zero at the start of that level. Nodes within a level are mutually
// independent. Returns CircularDependency if the graph has a cycle.
func (g *Graph) TopologicalOrder() ([][]string, error) {
	return g.ExecutionOrder(g.sortedNodeNames())
}

// ExecutionOrder is like TopologicalOrder but restricted to the induced
// subgraph over subset (edges to nodes outside subset are ignored).
func (g *Graph) ExecutionOrder(subset []string) ([][]string, error) {
	if cyc := g.DetectCycle(); cyc != nil {
		return nil, &errs.CircularDependency{Path: cyc}
	}

	inSubset := make(map[string]struct{}, len(subset))
	for _, s := range subset {
		inSubset[s] = struct{}{}
	}

	indegree := make(map[string]int, len(subset))
	for _, name := range subset {
		n := g.nodes[name]
		if n == nil {
			indegree[name] = 0
			continue
		}
		count := 0
		for dep := range n.Dependencies {
			if _, ok := inSubset[dep]; ok {
				count++
			}
		}
		indegree[name] = count
	}

	var levels [][]string
	remaining := len(subset)
	for remaining > 0 {
		var level []string
		for name, deg := range indegree {
			if deg == 0 {
				level = append(level, name)
			}
		}
		if len(level) == 0 {
			// Should be unreachable: DetectCycle already ran above.
			return nil, &errs.CircularDependency{Path: g.sortedNodeNames()}
		}
		sort.Strings(level)
		levels = append(levels, level)

		for _, name := range level {
			delete(indegree, name)
			remaining--
			n := g.nodes[name]
			if n == nil {
				continue
			}
			for dependent := range n.Dependents {
				if _, ok := indegree[dependent]; ok {
					indegree[dependent]--
				}
			}
		}
	}

	return levels, nil
}

// Impact returns the transitive closure of dependents over changed,
// i.e. every model that would need to be rebuilt if every model in
// changed were rebuilt.
func (g *Graph) Impact(changed []string) []string {
	seed := make(map[string]struct{}, len(changed))
	for _, c := range changed {
		seed[c] = struct{}{}
	}
	return sortedKeys(g.impactSet(seed))
}

func (g *Graph) impactSet(seed map[string]struct{}) map[string]struct{} {
	visited := make(map[string]struct{})
	queue := make([]string, 0, len(seed))
	for s := range seed {
		queue = append(queue, s)
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		n, ok := g.nodes[cur]
		if !ok {
			continue
		}
		for dependent := range n.Dependents {
			if _, seen := visited[dependent]; !seen {
				visited[dependent] = struct{}{}
				queue = append(queue, dependent)
			}
		}
	}
	return visited
}

// ColumnImpact traverses downstream models and returns every downstream
// "model.column" whose ColumnLineage.SourceColumns references
// (model, column), recursing through the chain.
func (g *Graph) ColumnImpact(model, column string) []string {
	visited := make(map[string]struct{})
	g.columnImpact(model, column, visited)
	return sortedKeys(visited)
}

func (g *Graph) columnImpact(model, column string, visited map[string]struct{}) {
	n, ok := g.nodes[model]
	if !ok {
		return
	}
	for dependentName := range n.Dependents {
		dependent, ok := g.nodes[dependentName]
		if !ok || dependent.Lineage == nil {
			continue
		}
		for outCol, cl := range dependent.Lineage.Columns {
			for _, src := range cl.SourceColumns {
				if src.Table == model && src.Column == column {
					key := dependentName + "." + outCol
					if _, seen := visited[key]; !seen {
						visited[key] = struct{}{}
						g.columnImpact(dependentName, outCol, visited)
					}
				}
			}
		}
	}
}

// ExpandWithDependencies expands names with every transitive dependency already in the
// graph (upstream closure) and returns them as an execution-ready
// ordering input; callers that want only the listed names pass them
// straight to ExecutionOrder instead.
func (g *Graph) ExpandWithDependencies(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		seen[n] = struct{}{}
		for _, d := range g.AllDependencies(n) {
			seen[d] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

func (g *Graph) sortedNodeNames() []string {
	names := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
