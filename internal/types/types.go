// Package types holds the data model shared by every sqlorch component:
// parsed models, YAML-sourced configuration, persisted execution state,
// and the execution plan handed from the planner to the materializer.
package types

import "time"

// Materialization is the warehouse object kind a model compiles to.
type Materialization string

const (
	MaterializedView        Materialization = "view"
	MaterializedTable       Materialization = "table"
	MaterializedTempTable   Materialization = "temp_table"
	MaterializedIncremental Materialization = "incremental"
	MaterializedCDC         Materialization = "cdc"
)

// IncrementalStrategy selects how an incremental model is updated on
// subsequent runs.
type IncrementalStrategy string

const (
	IncrementalTime      IncrementalStrategy = "time"
	IncrementalUniqueKey IncrementalStrategy = "unique_key"
	IncrementalAppend    IncrementalStrategy = "append"
)

// SourceRef is a reference to an externally managed table, as named by
// source(src, tbl) in a model's template.
type SourceRef struct {
	SourceName string
	TableName  string
}

// ColumnTest names a data-quality test applied to a column (e.g. "unique",
// "not_null"), executed post-materialization by internal/testdata.
type ColumnTest string

// ColumnSchema is one entry of a schema*.yml model's columns list.
type ColumnSchema struct {
	Name  string       `yaml:"name"`
	Tests []ColumnTest `yaml:"tests"`
}

// CDCMeta holds the meta.cdc block of a model's schema entry.
type CDCMeta struct {
	ChangeTypeColumn string `yaml:"change_type_column"`
}

// DefaultChangeTypeColumn is used when meta.cdc.change_type_column is unset.
const DefaultChangeTypeColumn = "__CDC_OPERATION"

// Meta is the free-form meta block of a model's schema entry.
type Meta struct {
	CDC CDCMeta `yaml:"cdc"`
}

// ModelConfig is the YAML schema metadata for one model, loaded by the
// ModelRegistry from schema*.yml.
type ModelConfig struct {
	Name                string              `yaml:"name"`
	Description         string              `yaml:"description"`
	Materialized        Materialization     `yaml:"materialized"`
	IncrementalStrategy IncrementalStrategy `yaml:"incremental_strategy"`
	TimeColumn          string              `yaml:"time_column"`
	UniqueKey           string              `yaml:"unique_key"`
	Schema              string              `yaml:"schema"`
	Tags                []string            `yaml:"tags"`
	DependsOn           []string            `yaml:"depends_on"`
	Enabled             bool                `yaml:"enabled"`
	Tests               []string            `yaml:"tests"`
	Columns             []ColumnSchema      `yaml:"columns"`
	Meta                Meta                `yaml:"meta"`
}

// ChangeTypeColumn returns the configured CDC operation column name,
// defaulting to DefaultChangeTypeColumn.
func (c *ModelConfig) ChangeTypeColumn() string {
	if c.Meta.CDC.ChangeTypeColumn != "" {
		return c.Meta.CDC.ChangeTypeColumn
	}
	return DefaultChangeTypeColumn
}

// ColumnLineage records, for one output column, every (table, column) it
// was derived from and a tag per transformation function applied on the
// way, upper-cased (e.g. "CAST", "SUM", "COALESCE").
type ColumnLineage struct {
	ColumnName      string
	SourceColumns   []TableColumn
	Transformations []string
}

// TableColumn is an unqualified (table, column) pair as referenced inside
// a parsed SELECT expression.
type TableColumn struct {
	Table  string
	Column string
}

// ModelLineage is the full column-level lineage map for one model.
type ModelLineage struct {
	ModelName string
	Columns   map[string]*ColumnLineage
	DependsOn map[string]struct{}
}

// NewModelLineage returns an empty lineage record for the named model.
func NewModelLineage(name string) *ModelLineage {
	return &ModelLineage{
		ModelName: name,
		Columns:   make(map[string]*ColumnLineage),
		DependsOn: make(map[string]struct{}),
	}
}

// ParsedModel is the output of the SQLParser: a model file plus everything
// extracted from rendering and AST-walking its SQL.
type ParsedModel struct {
	Name            string
	FilePath        string
	RawSource       string
	RenderedSource  string
	Variables       map[string]struct{}
	Refs            map[string]struct{}
	Sources         map[SourceRef]struct{}
	Config          map[string]string
	StaticDependsOn []string
	Lineage         *ModelLineage
	ContentHash     string
}

// RefNames returns Refs as a sorted-independent slice for callers that
// only need iteration, not set membership.
func (p *ParsedModel) RefNames() []string {
	out := make([]string, 0, len(p.Refs))
	for r := range p.Refs {
		out = append(out, r)
	}
	return out
}

// ModelState is the per-environment persisted fingerprint and execution
// history for one model, as tracked by the StateStore.
type ModelState struct {
	Name             string            `json:"name"`
	FileHash         string            `json:"file_hash"`
	ConfigHash       string            `json:"config_hash"`
	Dependencies     []string          `json:"dependencies"`
	ExecutionCount   int               `json:"execution_count"`
	SuccessCount     int               `json:"success_count"`
	FailureCount     int               `json:"failure_count"`
	LastExecuted     *time.Time        `json:"last_executed,omitempty"`
	LastSuccess      *time.Time        `json:"last_success,omitempty"`
	LastFailure      *time.Time        `json:"last_failure,omitempty"`
	IncrementalState map[string]string `json:"incremental_state"`
}

// ChangeType classifies what a planned model change will do.
type ChangeType string

const (
	ChangeCreate   ChangeType = "create"
	ChangeUpdate   ChangeType = "update"
	ChangeNoChange ChangeType = "no_change"
	ChangeDelete   ChangeType = "delete"
)

// ModelChange is one entry of an ExecutionPlan.
type ModelChange struct {
	Name     string
	Type     ChangeType
	Reason   string
	Affected []string
}

// ExecutionPlan is the immutable, inspectable output of the Planner: what
// a run would do, before anything is mutated.
type ExecutionPlan struct {
	Changes        []ModelChange
	ExecutionOrder [][]string
}

// ModelResult is one model's outcome within a run report.
type ModelResult struct {
	Name            string
	Status          string
	Materialization Materialization
	Duration        time.Duration
	Error           error
}
