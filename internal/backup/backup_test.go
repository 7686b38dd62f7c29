package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRestoreBackup(t *testing.T) {
	snapshotDir := t.TempDir()
	installRoot := t.TempDir()

	snapshot := filepath.Join(snapshotDir, "pre-update")
	require.NoError(t, os.MkdirAll(filepath.Join(snapshot, "etc", "app"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(snapshot, "app.bin"), []byte("old binary"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(snapshot, "etc", "app", "config.json"), []byte("{}"), 0644))

	// simulate a bad update having overwritten the binary
	require.NoError(t, os.WriteFile(filepath.Join(installRoot, "app.bin"), []byte("broken binary"), 0755))

	r := NewDirRestorer(snapshotDir, installRoot)
	assert.True(t, r.RestoreBackup(context.Background(), "pre-update"))

	bs, err := os.ReadFile(filepath.Join(installRoot, "app.bin"))
	require.NoError(t, err)
	assert.Equal(t, "old binary", string(bs))
	assert.FileExists(t, filepath.Join(installRoot, "etc", "app", "config.json"))
}

func TestRestoreBackup_MissingSnapshot(t *testing.T) {
	r := NewDirRestorer(t.TempDir(), t.TempDir())
	assert.False(t, r.RestoreBackup(context.Background(), "never-taken"))
}

func TestRestoreBackup_SnapshotIsAFile(t *testing.T) {
	snapshotDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(snapshotDir, "pre-update"), []byte("x"), 0644))

	r := NewDirRestorer(snapshotDir, t.TempDir())
	assert.False(t, r.RestoreBackup(context.Background(), "pre-update"))
}

func TestRestoreBackup_CancelledContext(t *testing.T) {
	snapshotDir := t.TempDir()
	snapshot := filepath.Join(snapshotDir, "pre-update")
	require.NoError(t, os.MkdirAll(snapshot, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(snapshot, "app.bin"), []byte("x"), 0755))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewDirRestorer(snapshotDir, t.TempDir())
	assert.False(t, r.RestoreBackup(ctx, "pre-update"))
}
