package materialize

import (
	"testing"

	"github.com/stretchr/testify/require"

	"sqlorch/internal/sources"
	"sqlorch/internal/types"
)

func TestSubstituteAppliesTypedLiteralFormatting(t *testing.T) {
	sql := "SELECT * FROM t WHERE d = $start_date AND x = $n AND active = $flag AND y = $missing"
	out := Substitute(sql, map[string]any{
		"start_date": "2024-01-01",
		"n":          5,
		"flag":       true,
	})
	require.Equal(t, "SELECT * FROM t WHERE d = '2024-01-01' AND x = 5 AND active = TRUE AND y = NULL", out)
}

func TestSubstituteEscapesEmbeddedQuotes(t *testing.T) {
	out := Substitute("SELECT $name", map[string]any{"name": "O'Brien"})
	require.Equal(t, "SELECT 'O''Brien'", out)
}

func TestQualifiedNameHonorsExplicitDottedPrefix(t *testing.T) {
	m := New("DB", "PUBLIC", nil, nil)
	require.Equal(t, "custom.schema.thing", m.QualifiedName("custom.schema.thing", nil))
}

func TestQualifiedNameUppercasesUnqualifiedName(t *testing.T) {
	m := New("DB", "PUBLIC", nil, nil)
	require.Equal(t, "DB.PUBLIC.ORDERS", m.QualifiedName("orders", nil))
}

func TestQualifiedNameHonorsConfigSchemaOverride(t *testing.T) {
	m := New("DB", "PUBLIC", nil, nil)
	require.Equal(t, "DB.STAGING.ORDERS", m.QualifiedName("orders", &types.ModelConfig{Schema: "STAGING"}))
}

func TestResolvePlaceholdersRewritesRefAndSource(t *testing.T) {
	reg, err := sources.Load("/nonexistent/sources.yml", nil)
	require.NoError(t, err)
	m := New("DB", "PUBLIC", reg, nil)

	sql := "SELECT * FROM __REF_orders__ JOIN __SOURCE_raw_accounts__ ON 1=1"
	out := m.ResolvePlaceholders(sql, func(name string) string { return "DB.PUBLIC." + name })
	require.Contains(t, out, "DB.PUBLIC.orders")
	require.Contains(t, out, "accounts") // falls back to literal table name: source unresolvable
}
