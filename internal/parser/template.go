package parser

import (
	"fmt"
	"strings"
	"text/template"
)

// templateData accumulates refs/sources discovered while rendering, and
// is read back by the parser after Execute returns.
type templateData struct {
	Refs    map[string]struct{}
	Sources map[sourceKey]struct{}
	Name    string
}

type sourceKey struct {
	Source, Table string
}

// buildFuncMap returns the four callable primitives the template language
// must expose, plus the domain macros. ref/source record into td as a
// side effect of being called during Execute, which is how the parser
// recovers refs/sources without a second pass over the template AST.
func buildFuncMap(td *templateData) template.FuncMap {
	return template.FuncMap{
		"ref": func(name string) string {
			td.Refs[name] = struct{}{}
			return fmt.Sprintf("__REF_%s__", name)
		},
		"source": func(src, tbl string) string {
			td.Sources[sourceKey{src, tbl}] = struct{}{}
			return fmt.Sprintf("__SOURCE_%s_%s__", src, tbl)
		},
		"this": func() string {
			return "__THIS__"
		},
		"is_incremental": func() bool {
			// The runtime value is never needed at parse time; parsing
			// always renders the non-incremental branch of the template.
			return false
		},

		// Domain macros: pure text templates over their arguments.
		"cdc_merge": func(target, staging, uniqueKey string) string {
			return fmt.Sprintf(
				"MERGE INTO %s USING %s ON %s.%s = %s.%s WHEN MATCHED THEN UPDATE SET * WHEN NOT MATCHED THEN INSERT *",
				target, staging, target, uniqueKey, staging, uniqueKey)
		},
		"cdc_filter": func(column string, ops ...string) string {
			quoted := make([]string, len(ops))
			for i, op := range ops {
				quoted[i] = "'" + strings.ReplaceAll(op, "'", "''") + "'"
			}
			return fmt.Sprintf("%s IN (%s)", column, strings.Join(quoted, ", "))
		},
		"bronze": func(name string) string { return "bronze." + name },
		"silver": func(name string) string { return "silver." + name },
		"gold":   func(name string) string { return "gold." + name },
	}
}

// renderTemplate renders raw using the given funcMap, returning the
// rendered text. A render failure is the caller's to classify as
// errs.KindParse.
func renderTemplate(name, raw string, td *templateData) (string, error) {
	tmpl, err := template.New(name).Funcs(buildFuncMap(td)).Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, nil); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return sb.String(), nil
}
