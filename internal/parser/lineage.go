package parser

import (
	"regexp"
	"strings"

	"sqlorch/internal/types"
)

// extractLineage walks the rendered SELECT text and builds a
// types.ModelLineage: one ColumnLineage per top-level output column,
// each carrying the (table, column) pairs it draws from and a tag per
// function call wrapping it.
//
// No SQL AST library was retrieved anywhere in the pack (see
// SPEC_FULL.md §3), so this is a hand-rolled scanner rather than a true
// parser: it understands a single top-level SELECT ... FROM ... with
// comma-joined FROM/JOIN sources, and does not descend into subqueries
// or CTEs. That matches the spec's "walk its sub-expression tree"
// requirement for the common case without pulling in an unverified
// dependency for the rest.
func extractLineage(modelName, rendered string) *types.ModelLineage {
	lineage := types.NewModelLineage(modelName)

	selectList, fromClause, ok := splitSelectFrom(rendered)
	if !ok {
		return lineage
	}

	aliases := extractTableAliases(fromClause)
	for table := range aliases {
		lineage.DependsOn[table] = struct{}{}
	}

	for _, expr := range splitTopLevel(selectList, ',') {
		expr = strings.TrimSpace(expr)
		if expr == "" || expr == "*" {
			continue
		}
		colName, body := splitColumnAlias(expr)
		cl := &types.ColumnLineage{ColumnName: colName}

		for _, tc := range extractColumnRefs(body, aliases) {
			cl.SourceColumns = append(cl.SourceColumns, tc)
		}
		for _, fn := range extractFunctionCalls(body) {
			cl.Transformations = append(cl.Transformations, fn)
		}

		lineage.Columns[colName] = cl
	}

	return lineage
}

var selectFromRe = regexp.MustCompile(`(?is)^\s*SELECT\s+(DISTINCT\s+)?(.*?)\s+FROM\s+(.*)$`)

var lineCommentRe = regexp.MustCompile(`(?m)^\s*--.*$`)

// splitSelectFrom isolates the top-level select-list and from-clause of
// the first (and only supported) SELECT statement, trimming any trailing
// WHERE/GROUP BY/ORDER BY/LIMIT tail from the from-clause. Whole-line
// `--` comments (such as the config/depends_on header) are dropped first.
func splitSelectFrom(sql string) (selectList, fromClause string, ok bool) {
	sql = lineCommentRe.ReplaceAllString(sql, "")
	m := selectFromRe.FindStringSubmatch(sql)
	if m == nil {
		return "", "", false
	}
	selectList = m[2]
	fromClause = m[3]

	cut := len(fromClause)
	for _, kw := range []string{"WHERE", "GROUP BY", "HAVING", "ORDER BY", "LIMIT", "QUALIFY"} {
		re := regexp.MustCompile(`(?is)\b` + kw + `\b`)
		if loc := re.FindStringIndex(fromClause); loc != nil && loc[0] < cut {
			cut = loc[0]
		}
	}
	fromClause = strings.TrimSpace(fromClause[:cut])
	return selectList, fromClause, true
}

var fromSourceRe = regexp.MustCompile(`(?i)([A-Za-z_][A-Za-z0-9_.]*)\s*(?:AS\s+)?([A-Za-z_][A-Za-z0-9_]*)?`)

// extractTableAliases pulls every "table [AS] alias" pair out of a
// from-clause that may contain comma joins and JOIN ... ON clauses. The
// ON-clause predicates themselves are not lineage-relevant and are
// discarded along with JOIN/ON keywords.
func extractTableAliases(fromClause string) map[string]string {
	aliases := make(map[string]string)

	joinKw := regexp.MustCompile(`(?i)\b(INNER|LEFT|RIGHT|FULL|OUTER|CROSS)?\s*JOIN\b`)
	onClause := regexp.MustCompile(`(?is)\bON\b.*?(?:JOIN|$)`)

	normalized := joinKw.ReplaceAllString(fromClause, ",")
	normalized = onClause.ReplaceAllString(normalized, ",")

	for _, part := range splitTopLevel(normalized, ',') {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		m := fromSourceRe.FindStringSubmatch(part)
		if m == nil {
			continue
		}
		table, alias := m[1], m[2]
		if alias == "" {
			alias = table
		}
		aliases[strings.ToLower(alias)] = table
	}
	return aliases
}

var aliasDotCol = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)\.([A-Za-z_][A-Za-z0-9_]*)\b`)
var bareIdent = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)\b`)
var sqlKeyword = regexp.MustCompile(`(?i)^(AS|AND|OR|NOT|NULL|TRUE|FALSE|CASE|WHEN|THEN|ELSE|END|IN|IS|LIKE|BETWEEN|OVER|PARTITION|BY|DISTINCT|DESC|ASC)$`)

// extractColumnRefs finds every (table, column) reference inside expr.
// alias.column references resolve the alias against the FROM-clause
// table map; bare identifiers are only recorded when there's exactly one
// FROM source to disambiguate against (dbt-style models are typically
// single-source per output column at the staging layer this targets).
func extractColumnRefs(expr string, aliases map[string]string) []types.TableColumn {
	var out []types.TableColumn
	seen := make(map[types.TableColumn]struct{})

	add := func(tc types.TableColumn) {
		if _, ok := seen[tc]; ok {
			return
		}
		seen[tc] = struct{}{}
		out = append(out, tc)
	}

	qualified := aliasDotCol.FindAllStringSubmatch(expr, -1)
	qualifiedSpans := aliasDotCol.FindAllStringIndex(expr, -1)
	for _, m := range qualified {
		alias, col := strings.ToLower(m[1]), m[2]
		table := alias
		if t, ok := aliases[alias]; ok {
			table = t
		}
		add(types.TableColumn{Table: table, Column: col})
	}

	if len(aliases) == 1 && len(qualified) == 0 {
		var onlyTable string
		for _, t := range aliases {
			onlyTable = t
		}
		for _, m := range bareIdent.FindAllString(expr, -1) {
			if sqlKeyword.MatchString(m) || isFunctionCallName(expr, m) {
				continue
			}
			add(types.TableColumn{Table: onlyTable, Column: m})
		}
	}
	_ = qualifiedSpans

	return out
}

var funcCallRe = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)\s*\(`)

// extractFunctionCalls returns the uppercased name of every function
// call in expr, used as the ColumnLineage transformation tags.
func extractFunctionCalls(expr string) []string {
	var out []string
	for _, m := range funcCallRe.FindAllStringSubmatch(expr, -1) {
		out = append(out, strings.ToUpper(m[1]))
	}
	return out
}

// isFunctionCallName reports whether ident appears immediately before an
// opening paren in expr, i.e. is a function name rather than a column.
func isFunctionCallName(expr, ident string) bool {
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(ident) + `\s*\(`)
	return re.MatchString(expr)
}

// splitColumnAlias returns the output column name for a select-list
// expression (its "AS alias" or trailing bare identifier, falling back
// to the raw expression) and the expression body to scan for lineage.
func splitColumnAlias(expr string) (name, body string) {
	asRe := regexp.MustCompile(`(?is)^(.*)\s+AS\s+([A-Za-z_][A-Za-z0-9_]*)\s*$`)
	if m := asRe.FindStringSubmatch(expr); m != nil {
		return m[2], m[1]
	}

	// "table.column" or "column" with no explicit alias.
	if m := regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`).FindString(expr); m != "" {
		parts := strings.Split(m, ".")
		return parts[len(parts)-1], expr
	}

	return expr, expr
}

// splitTopLevel splits s on sep, ignoring separators nested inside
// parentheses, so "COALESCE(a, b), c" splits into two, not three.
func splitTopLevel(s string, sep byte) []string {
	var out []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		default:
			if s[i] == sep && depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}
