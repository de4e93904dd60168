package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sqlorch/internal/types"
)

func TestOpenMissingFileReturnsEmptyStore(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "state_dev.json"))
	require.NoError(t, err)
	require.Nil(t, s.Get("orders"))
}

func TestSaveThenOpenRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state_dev.json")
	s, err := Open(path)
	require.NoError(t, err)

	s.UpdateFingerprint("orders", "filehash1", "confighash1", []string{"raw_orders"})
	s.MarkExecution("orders", true, time.Unix(1700000000, 0).UTC())
	s.IncrementalSet("orders", "high_water_mark", "2026-07-01T00:00:00Z")

	require.NoError(t, s.Save())

	reopened, err := Open(path)
	require.NoError(t, err)

	ms := reopened.Get("orders")
	require.NotNil(t, ms)
	require.Equal(t, "filehash1", ms.FileHash)
	require.Equal(t, "confighash1", ms.ConfigHash)
	require.Equal(t, []string{"raw_orders"}, ms.Dependencies)
	require.Equal(t, 1, ms.ExecutionCount)
	require.Equal(t, 1, ms.SuccessCount)
	require.Equal(t, "2026-07-01T00:00:00Z", reopened.IncrementalGet("orders", "high_water_mark"))
}

func TestChangedSinceDetectsHashDrift(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "state_dev.json"))
	require.NoError(t, err)

	require.True(t, s.ChangedSince("orders", "h1", "c1"), "unknown model must report changed")

	s.UpdateFingerprint("orders", "h1", "c1", nil)
	require.False(t, s.ChangedSince("orders", "h1", "c1"))
	require.True(t, s.ChangedSince("orders", "h2", "c1"))
}

func TestChangedModelsComparesAgainstParsed(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "state_dev.json"))
	require.NoError(t, err)
	s.UpdateFingerprint("orders", "h1", "c1", nil)

	current := map[string]*types.ParsedModel{
		"orders":  {Name: "orders", ContentHash: "h1"},
		"revenue": {Name: "revenue", ContentHash: "h2"},
	}
	changed := s.ChangedModels(current)
	require.Equal(t, []string{"revenue"}, changed)

	current["orders"].ContentHash = "h1-new"
	changed = s.ChangedModels(current)
	require.ElementsMatch(t, []string{"orders", "revenue"}, changed)
}

func TestExportImportRoundTrips(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "state_dev.json"))
	require.NoError(t, err)
	s.UpdateFingerprint("orders", "h1", "c1", nil)

	snapshot := s.Export()

	other, err := Open(filepath.Join(t.TempDir(), "state_dev.json"))
	require.NoError(t, err)
	other.Import(snapshot)

	require.Equal(t, "h1", other.Get("orders").FileHash)
}

func TestClearRemovesAllState(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "state_dev.json"))
	require.NoError(t, err)
	s.UpdateFingerprint("orders", "h1", "c1", nil)

	s.Clear()
	require.Nil(t, s.Get("orders"))
}
