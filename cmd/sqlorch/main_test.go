package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func writeFixtureFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture %s: %v", name, err)
	}
}

func newFixtureProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	models := filepath.Join(dir, "models")
	if err := os.Mkdir(models, 0o755); err != nil {
		t.Fatalf("mkdir models: %v", err)
	}

	writeFixtureFile(t, models, "accounts.sql", `-- config: materialized=view
SELECT id FROM raw_accounts`)
	writeFixtureFile(t, models, "revenue.sql", `-- config: materialized=table
SELECT a.id AS id FROM {{ ref "accounts" }} a`)
	writeFixtureFile(t, models, "schema.yml", `
models:
  - name: accounts
    config:
      materialized: view
    tags: [staging]
  - name: revenue
    config:
      materialized: table
    tags: [marts]
`)
	return dir
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()

	orig := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w

	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		done <- buf.String()
	}()

	fn()

	_ = w.Close()
	os.Stdout = orig
	return <-done
}

func TestListPrintsEveryModel(t *testing.T) {
	logger = zap.NewNop()
	projectDir = newFixtureProject(t)
	environment = ""

	out := captureStdout(t, func() {
		if err := listCmd.RunE(listCmd, nil); err != nil {
			t.Fatalf("list returned error: %v", err)
		}
	})

	if !strings.Contains(out, "accounts") || !strings.Contains(out, "revenue") {
		t.Fatalf("expected both models listed, got: %s", out)
	}
}

func TestListFiltersByTag(t *testing.T) {
	logger = zap.NewNop()
	projectDir = newFixtureProject(t)
	environment = ""
	listTag = "marts"
	defer func() { listTag = "" }()

	out := captureStdout(t, func() {
		if err := listCmd.RunE(listCmd, nil); err != nil {
			t.Fatalf("list returned error: %v", err)
		}
	})

	if strings.Contains(out, "accounts") {
		t.Fatalf("expected staging-tagged model excluded, got: %s", out)
	}
	if !strings.Contains(out, "revenue") {
		t.Fatalf("expected marts-tagged model included, got: %s", out)
	}
}

func TestDepsTextFormatShowsEdge(t *testing.T) {
	logger = zap.NewNop()
	projectDir = newFixtureProject(t)
	environment = ""
	depsFormat = "text"

	out := captureStdout(t, func() {
		if err := depsCmd.RunE(depsCmd, nil); err != nil {
			t.Fatalf("deps returned error: %v", err)
		}
	})

	if !strings.Contains(out, "revenue <- accounts") {
		t.Fatalf("expected revenue <- accounts edge, got: %s", out)
	}
}
