package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("WH_PASSWORD", "s3cret")

	dir := t.TempDir()
	path := filepath.Join(dir, "profiles.yml")
	content := `
default_target: dev
profiles:
  dev:
    type: postgres
    host: localhost
    port: 5432
    database: analytics
    user: "${WH_USER:-svc_sqlorch}"
    password: "${WH_PASSWORD}"
    pool_size: 8
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	p, err := Load(path, "")
	require.NoError(t, err)
	require.Equal(t, "postgres", p.Type)
	require.Equal(t, "svc_sqlorch", p.User)
	require.Equal(t, "s3cret", p.Password)
	require.Equal(t, 8, p.PoolSize)
	require.True(t, p.LazyInit, "unset lazy_init should keep DefaultProfile's true")
}

func TestLoadUnknownEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profiles.yml")
	require.NoError(t, os.WriteFile(path, []byte("profiles:\n  dev: {}\n"), 0o644))

	_, err := Load(path, "prod")
	require.Error(t, err)
}
