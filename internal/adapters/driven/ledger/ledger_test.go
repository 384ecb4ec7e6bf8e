package ledger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storesace-cv/bwb-efatura-docs/internal/core/domain"
)

func TestFileLedger_SaveLoadRoundTrip(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "out.xlsx.resume.json"))

	state := domain.ResumeState{
		StartedUID:   "CV2024000000000002",
		CompletedUID: "CV2024000000000001",
	}
	require.NoError(t, l.Save(state))

	loaded := l.Load()
	assert.Equal(t, "CV2024000000000002", loaded.StartedUID)
	assert.Equal(t, "CV2024000000000001", loaded.CompletedUID)
	assert.NotEmpty(t, loaded.TS)
	assert.Equal(t, "CV2024000000000002", loaded.ResumeUID())
}

func TestFileLedger_Load_MissingFile(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "absent.resume.json"))

	state := l.Load()
	assert.Empty(t, state.StartedUID)
	assert.Empty(t, state.ResumeUID())
}

func TestFileLedger_Load_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.xlsx.resume.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	state := New(path).Load()
	assert.Empty(t, state.StartedUID)
}

func TestFileLedger_Clear(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "out.xlsx.resume.json"))
	require.NoError(t, l.Save(domain.ResumeState{StartedUID: "CV2024000000000001"}))

	require.NoError(t, l.Clear())
	_, err := os.Stat(l.Path())
	assert.True(t, os.IsNotExist(err))

	// Clearing an already-absent ledger is not an error.
	require.NoError(t, l.Clear())
}

func TestForTable_DerivesSiblingPath(t *testing.T) {
	l := ForTable("/data/compras.xlsx")
	assert.Equal(t, "/data/compras.xlsx.resume.json", l.Path())
}
