package types

import "testing"

func TestChangeTypeColumnDefault(t *testing.T) {
	c := &ModelConfig{}
	if got := c.ChangeTypeColumn(); got != DefaultChangeTypeColumn {
		t.Fatalf("ChangeTypeColumn() = %q, want %q", got, DefaultChangeTypeColumn)
	}

	c.Meta.CDC.ChangeTypeColumn = "OP"
	if got := c.ChangeTypeColumn(); got != "OP" {
		t.Fatalf("ChangeTypeColumn() = %q, want %q", got, "OP")
	}
}

func TestRefNames(t *testing.T) {
	p := &ParsedModel{Refs: map[string]struct{}{"a": {}, "b": {}}}
	names := p.RefNames()
	if len(names) != 2 {
		t.Fatalf("expected 2 refs, got %d", len(names))
	}
}
