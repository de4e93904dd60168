// Package registry loads YAML schema metadata (schema*.yml) into
// types.ModelConfig records and validates the incremental/CDC
// configuration rules from the component design.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"sqlorch/internal/errs"
	"sqlorch/internal/types"
)

// yamlModelConfig block, nested under a model's "config:" key in
// schema*.yml, per the external schema in spec §6.
type yamlModelConfig struct {
	Materialized        types.Materialization     `yaml:"materialized"`
	IncrementalStrategy types.IncrementalStrategy `yaml:"incremental_strategy"`
	TimeColumn          string                    `yaml:"time_column"`
	UniqueKey           string                    `yaml:"unique_key"`
	Schema              string                    `yaml:"schema"`
	Enabled             *bool                     `yaml:"enabled"`
}

// yamlModelEntry mirrors one entry of schema*.yml's models list exactly
// as documented in spec §6, before flattening into types.ModelConfig.
type yamlModelEntry struct {
	Name        string                `yaml:"name"`
	Description string                `yaml:"description"`
	Config      yamlModelConfig       `yaml:"config"`
	Tags        []string              `yaml:"tags"`
	DependsOn   []string              `yaml:"depends_on"`
	Enabled     *bool                 `yaml:"enabled"`
	Tests       []string              `yaml:"tests"`
	Columns     []types.ColumnSchema  `yaml:"columns"`
	Meta        types.Meta            `yaml:"meta"`
}

type schemaFile struct {
	Models []yamlModelEntry `yaml:"models"`
}

// flatten converts the external YAML shape into the internal,
// already-normalized types.ModelConfig.
func (e *yamlModelEntry) flatten() types.ModelConfig {
	enabled := true
	if e.Config.Enabled != nil {
		enabled = *e.Config.Enabled
	} else if e.Enabled != nil {
		enabled = *e.Enabled
	}

	materialized := e.Config.Materialized
	if materialized == "" {
		materialized = types.MaterializedView
	}

	return types.ModelConfig{
		Name:                e.Name,
		Description:         e.Description,
		Materialized:        materialized,
		IncrementalStrategy: e.Config.IncrementalStrategy,
		TimeColumn:          e.Config.TimeColumn,
		UniqueKey:           e.Config.UniqueKey,
		Schema:              e.Config.Schema,
		Tags:                e.Tags,
		DependsOn:           e.DependsOn,
		Enabled:             enabled,
		Tests:               e.Tests,
		Columns:             e.Columns,
		Meta:                e.Meta,
	}
}

// ModelRegistry indexes every model's YAML config by name.
type ModelRegistry struct {
	models map[string]*types.ModelConfig
}

// New returns an empty registry.
func New() *ModelRegistry {
	return &ModelRegistry{models: make(map[string]*types.ModelConfig)}
}

// ScanDir walks dir for files matching "schema*.yml" (non-recursive glob
// per directory, recursive across subdirectories) and loads every model
// they declare.
func ScanDir(dir string) (*ModelRegistry, error) {
	reg := New()

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := filepath.Base(path)
		matched, _ := filepath.Match("schema*.yml", name)
		if !matched {
			return nil
		}
		return reg.loadFile(path)
	})
	if err != nil {
		return nil, errs.New(errs.KindConfiguration, "scan schema files", err)
	}

	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return reg, nil
}

func (r *ModelRegistry) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errs.New(errs.KindConfiguration, fmt.Sprintf("read schema file %s", path), err)
	}

	var sf schemaFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return errs.New(errs.KindConfiguration, fmt.Sprintf("parse schema file %s", path), err)
	}

	for i := range sf.Models {
		m := sf.Models[i].flatten()
		r.models[m.Name] = &m
	}
	return nil
}

// Validate enforces the incremental/CDC configuration rules: strategy
// "time" requires time_column; "unique_key" and CDC require unique_key.
func (r *ModelRegistry) Validate() error {
	for name, cfg := range r.models {
		if cfg.Materialized == types.MaterializedIncremental {
			switch cfg.IncrementalStrategy {
			case types.IncrementalTime:
				if cfg.TimeColumn == "" {
					return errs.ForModel(errs.KindConfiguration, name,
						"incremental_strategy 'time' requires time_column", nil)
				}
			case types.IncrementalUniqueKey:
				if cfg.UniqueKey == "" {
					return errs.ForModel(errs.KindConfiguration, name,
						"incremental_strategy 'unique_key' requires unique_key", nil)
				}
			case types.IncrementalAppend:
				// no required field
			default:
				return errs.ForModel(errs.KindConfiguration, name,
					fmt.Sprintf("unknown incremental_strategy %q", cfg.IncrementalStrategy), nil)
			}
		}
		if cfg.Materialized == types.MaterializedCDC && cfg.UniqueKey == "" {
			return errs.ForModel(errs.KindConfiguration, name, "materialized 'cdc' requires unique_key", nil)
		}
	}
	return nil
}

// Get returns the config for name, or (nil, false).
func (r *ModelRegistry) Get(name string) (*types.ModelConfig, bool) {
	c, ok := r.models[name]
	return c, ok
}

// All returns every registered model config.
func (r *ModelRegistry) All() map[string]*types.ModelConfig {
	return r.models
}

// ByTag returns every model config carrying the given tag, sorted by name.
func (r *ModelRegistry) ByTag(tag string) []*types.ModelConfig {
	var out []*types.ModelConfig
	for _, cfg := range r.models {
		for _, t := range cfg.Tags {
			if t == tag {
				out = append(out, cfg)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Incremental returns every model config materialized as incremental,
// sorted by name.
func (r *ModelRegistry) Incremental() []*types.ModelConfig {
	var out []*types.ModelConfig
	for _, cfg := range r.models {
		if cfg.Materialized == types.MaterializedIncremental {
			out = append(out, cfg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
