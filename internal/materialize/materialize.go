// Package materialize implements the Materializer dispatch component: it
// composes the executed SQL text (variable substitution, then
// placeholder resolution) and hands it to the strategy selected by
// ModelConfig.Materialized.
package materialize

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"sqlorch/internal/errs"
	"sqlorch/internal/sources"
	"sqlorch/internal/types"
	"sqlorch/internal/warehouse"
)

// Strategy materializes one model's resolved SQL into a warehouse object.
type Strategy interface {
	Materialize(ctx context.Context, wh warehouse.Client, req Request) (StrategyResult, error)
}

// Request is everything a strategy needs: the fully resolved SELECT text
// (variables substituted, __REF_/__SOURCE_ placeholders rewritten to
// qualified names) plus the model's config and identity.
type Request struct {
	Model         string
	QualifiedName string
	RenderedSQL   string
	Config        *types.ModelConfig
	SessionVars   map[string]string

	// BackfillStart/BackfillEnd seed an incremental time strategy's
	// initial-load window when the run was invoked with --start/--end,
	// per SPEC_FULL.md's backfill supplement. Empty means "no window":
	// the strategy loads everything on initial load, as usual.
	BackfillStart string
	BackfillEnd   string
}

// StrategyResult carries what ran and the reportable state transition
// (e.g. "initial_load", "merged", "appended").
type StrategyResult struct {
	Transition string
}

// NameResolver maps a model name (from __REF_X__) to its fully-qualified
// warehouse identifier.
type NameResolver func(model string) string

// Backfill carries an optional --start/--end window for a run, seeding
// the incremental time strategy's initial load instead of the default
// "load everything" behavior.
type Backfill struct {
	Start string
	End   string
}

// Materializer composes executed SQL and dispatches to the registered
// strategy for a model's materialization kind.
type Materializer struct {
	database   string
	schema     string
	sources    *sources.Registry
	strategies map[types.Materialization]Strategy
}

// New returns a Materializer whose qualified names default to
// database/schema when a model provides no explicit dotted prefix.
func New(database, schema string, sourceRegistry *sources.Registry, strategies map[types.Materialization]Strategy) *Materializer {
	return &Materializer{database: database, schema: schema, sources: sourceRegistry, strategies: strategies}
}

// Materialize composes pm's rendered SQL with vars/resolve, then
// dispatches to the strategy for cfg.Materialized.
func (m *Materializer) Materialize(ctx context.Context, wh warehouse.Client, pm *types.ParsedModel, cfg *types.ModelConfig, vars map[string]any, sessionVars map[string]string, backfill Backfill, resolveRef NameResolver) (StrategyResult, error) {
	strategy, ok := m.strategies[cfg.Materialized]
	if !ok {
		return StrategyResult{}, errs.ForModel(errs.KindMaterialization, pm.Name, fmt.Sprintf("no strategy registered for materialized=%s", cfg.Materialized), nil)
	}

	sql := Substitute(pm.RenderedSource, vars)
	sql = m.ResolvePlaceholders(sql, resolveRef)

	req := Request{
		Model:         pm.Name,
		QualifiedName: m.QualifiedName(pm.Name, cfg),
		RenderedSQL:   sql,
		Config:        cfg,
		SessionVars:   sessionVars,
		BackfillStart: backfill.Start,
		BackfillEnd:   backfill.End,
	}

	result, err := strategy.Materialize(ctx, wh, req)
	if err != nil {
		return StrategyResult{}, &errs.MaterializationError{Model: pm.Name, Strategy: string(cfg.Materialized), Cause: err}
	}
	return result, nil
}

// QualifiedName takes model_name, database, and schema from the active
// connection config. An explicit dotted prefix on the name is honored;
// otherwise the table name is upper-cased per warehouse convention.
func (m *Materializer) QualifiedName(modelName string, cfg *types.ModelConfig) string {
	if strings.Contains(modelName, ".") {
		return modelName
	}
	schema := m.schema
	if cfg != nil && cfg.Schema != "" {
		schema = cfg.Schema
	}
	return fmt.Sprintf("%s.%s.%s", m.database, schema, strings.ToUpper(modelName))
}

var varPlaceholderRe = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)

// Substitute replaces every $id in sql with a typed literal: strings are
// single-quoted with embedded quotes doubled; numbers are unquoted;
// booleans render as TRUE/FALSE; a variable absent from vars renders as
// NULL. Substitution is textual, not parameter binding: values are
// spliced into the SQL, and string quoting is the only guard against
// injection.
func Substitute(sql string, vars map[string]any) string {
	return varPlaceholderRe.ReplaceAllStringFunc(sql, func(token string) string {
		name := token[1:]
		v, ok := vars[name]
		if !ok {
			return "NULL"
		}
		return FormatLiteral(v)
	})
}

// FormatLiteral renders v per the typed-literal rules the materializer
// uses for $variable substitution.
func FormatLiteral(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if val {
			return "TRUE"
		}
		return "FALSE"
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'"
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int8, int16, int32, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", val)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case time.Time:
		return "'" + val.Format("2006-01-02 15:04:05") + "'"
	default:
		return "'" + strings.ReplaceAll(fmt.Sprintf("%v", val), "'", "''") + "'"
	}
}

var (
	refPlaceholderRe    = regexp.MustCompile(`__REF_([A-Za-z0-9_]+)__`)
	sourcePlaceholderRe = regexp.MustCompile(`__SOURCE_([A-Za-z0-9]+)_([A-Za-z0-9_]+)__`)
)

// ResolvePlaceholders rewrites __REF_X__ to resolveRef(X) and
// __SOURCE_s_t__ to the resolved source table, falling back to the
// literal table name with a warning when a source can't be resolved
// (sources.Registry.Resolve already implements that fallback).
func (m *Materializer) ResolvePlaceholders(sql string, resolveRef NameResolver) string {
	sql = refPlaceholderRe.ReplaceAllStringFunc(sql, func(token string) string {
		name := refPlaceholderRe.FindStringSubmatch(token)[1]
		if resolveRef != nil {
			return resolveRef(name)
		}
		return name
	})

	if m.sources == nil {
		return sql
	}
	sql = sourcePlaceholderRe.ReplaceAllStringFunc(sql, func(token string) string {
		m2 := sourcePlaceholderRe.FindStringSubmatch(token)
		return m.sources.Resolve(m2[1], m2[2])
	})
	return sql
}
