// Package planner implements the Planner component: it diffs currently
// parsed models against persisted state and produces a pure-data
// types.ExecutionPlan that the caller can inspect before anything runs.
package planner

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"sqlorch/internal/graph"
	"sqlorch/internal/state"
	"sqlorch/internal/types"
)

// Planner classifies model changes by comparing parsed models against a
// state.Store, using a graph.Graph to expand target subsets and compute
// execution order.
type Planner struct {
	graph *graph.Graph
	state *state.Store
}

// New returns a Planner backed by g for dependency expansion/ordering and
// st for fingerprint comparison.
func New(g *graph.Graph, st *state.Store) *Planner {
	return &Planner{graph: g, state: st}
}

// Options controls one Plan invocation.
type Options struct {
	// Targets restricts planning to this subset of model names (expanded
	// with transitive dependencies). A nil/empty Targets plans every
	// model in current.
	Targets []string
	// FullRefresh forces every targeted model to classify as update,
	// regardless of fingerprint drift.
	FullRefresh bool
}

// Plan diffs current against the state store and returns the resulting
// ExecutionPlan. configs carries each model's registry-sourced
// ModelConfig, hashed into the config_hash half of the fingerprint; it is
// keyed the same way as current. Plan does not mutate state or execute
// anything.
func (p *Planner) Plan(current map[string]*types.ParsedModel, configs map[string]*types.ModelConfig, opts Options) (*types.ExecutionPlan, error) {
	targets := opts.Targets
	if len(targets) == 0 {
		for name := range current {
			targets = append(targets, name)
		}
	}
	expanded := p.graph.ExpandWithDependencies(targets)

	names := make([]string, 0, len(expanded))
	for _, name := range expanded {
		if _, ok := current[name]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	changes := make([]types.ModelChange, 0, len(names))
	var runnable []string

	for _, name := range names {
		pm := current[name]
		change := p.classify(name, pm, configs[name], opts.FullRefresh)
		changes = append(changes, change)
		if change.Type == types.ChangeCreate || change.Type == types.ChangeUpdate {
			runnable = append(runnable, name)
		}
	}

	order, err := p.graph.ExecutionOrder(runnable)
	if err != nil {
		return nil, err
	}

	return &types.ExecutionPlan{Changes: changes, ExecutionOrder: order}, nil
}

// classify applies the state-vs-fingerprint rules in declared priority
// order: missing state, then full_refresh, then file hash, config hash,
// and finally dependency-set drift.
func (p *Planner) classify(name string, pm *types.ParsedModel, cfg *types.ModelConfig, fullRefresh bool) types.ModelChange {
	seen := make(map[string]struct{}, len(pm.Refs)+len(pm.StaticDependsOn))
	var deps []string
	for _, d := range append(pm.RefNames(), pm.StaticDependsOn...) {
		if _, ok := seen[d]; !ok {
			seen[d] = struct{}{}
			deps = append(deps, d)
		}
	}
	sort.Strings(deps)

	configHash := ConfigHash(cfg)

	ms := p.state.Get(name)
	if ms == nil {
		return types.ModelChange{Name: name, Type: types.ChangeCreate, Reason: "new model"}
	}
	if fullRefresh {
		return types.ModelChange{Name: name, Type: types.ChangeUpdate, Reason: "full refresh requested"}
	}
	if ms.FileHash != pm.ContentHash {
		return types.ModelChange{Name: name, Type: types.ChangeUpdate, Reason: "model file changed"}
	}
	if ms.ConfigHash != configHash {
		return types.ModelChange{Name: name, Type: types.ChangeUpdate, Reason: "model configuration changed"}
	}
	if !stringSliceEqual(ms.Dependencies, deps) {
		return types.ModelChange{Name: name, Type: types.ChangeUpdate, Reason: "dependencies changed"}
	}
	return types.ModelChange{Name: name, Type: types.ChangeNoChange, Reason: "no change detected"}
}

// ConfigHash deterministically hashes the fields of a ModelConfig that
// affect materialization, so the planner can detect a changed
// `config:` block even when the model's SQL file itself is untouched.
func ConfigHash(cfg *types.ModelConfig) string {
	if cfg == nil {
		return ""
	}
	tags := append([]string{}, cfg.Tags...)
	sort.Strings(tags)
	deps := append([]string{}, cfg.DependsOn...)
	sort.Strings(deps)

	h := sha256.New()
	fmt.Fprintf(h, "materialized=%s\n", cfg.Materialized)
	fmt.Fprintf(h, "incremental_strategy=%s\n", cfg.IncrementalStrategy)
	fmt.Fprintf(h, "time_column=%s\n", cfg.TimeColumn)
	fmt.Fprintf(h, "unique_key=%s\n", cfg.UniqueKey)
	fmt.Fprintf(h, "schema=%s\n", cfg.Schema)
	fmt.Fprintf(h, "enabled=%v\n", cfg.Enabled)
	fmt.Fprintf(h, "tags=%v\n", tags)
	fmt.Fprintf(h, "depends_on=%v\n", deps)
	fmt.Fprintf(h, "change_type_column=%s\n", cfg.ChangeTypeColumn())
	return hex.EncodeToString(h.Sum(nil))
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
