// Package sources loads sources.yml: externally managed tables a model
// may reference via source(src, tbl), and resolves those references to
// their fully-qualified warehouse identifier.
package sources

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Table is one table entry under a source.
type Table struct {
	Name       string `yaml:"name"`
	Identifier string `yaml:"identifier"`
}

// Source is one named source block.
type Source struct {
	Name     string  `yaml:"name"`
	Database string  `yaml:"database"`
	Schema   string  `yaml:"schema"`
	Tables   []Table `yaml:"tables"`
}

// File is the root document of sources.yml.
type File struct {
	Sources []Source `yaml:"sources"`
}

// Registry resolves (source, table) pairs to fully-qualified names.
type Registry struct {
	sources map[string]Source
	log     *zap.Logger
}

// Load reads sources.yml from path. A missing file is not an error: it
// yields an empty registry so source() calls fall back to the literal
// table name with a warning, per the parser's resolution contract.
func Load(path string, log *zap.Logger) (*Registry, error) {
	if log == nil {
		log = zap.NewNop()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Registry{sources: map[string]Source{}, log: log}, nil
		}
		return nil, fmt.Errorf("read sources file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse sources file: %w", err)
	}

	reg := &Registry{sources: make(map[string]Source, len(f.Sources)), log: log}
	for _, s := range f.Sources {
		reg.sources[s.Name] = s
	}
	return reg, nil
}

// Resolve returns the fully-qualified identifier for (sourceName,
// tableName). Unresolvable sources fall back to the literal table name
// with a logged warning, matching the parser's placeholder-resolution
// contract.
func (r *Registry) Resolve(sourceName, tableName string) string {
	src, ok := r.sources[sourceName]
	if !ok {
		r.log.Warn("unresolvable source, falling back to literal table name",
			zap.String("source", sourceName), zap.String("table", tableName))
		return tableName
	}

	identifier := tableName
	for _, t := range src.Tables {
		if t.Name == tableName {
			if t.Identifier != "" {
				identifier = t.Identifier
			}
			break
		}
	}

	if src.Database != "" && src.Schema != "" {
		return fmt.Sprintf("%s.%s.%s", src.Database, src.Schema, identifier)
	}
	if src.Schema != "" {
		return fmt.Sprintf("%s.%s", src.Schema, identifier)
	}
	return identifier
}
