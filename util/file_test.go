package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadJson(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "state.json")

	type state struct {
		Version string `json:"version"`
		Factor  int    `json:"factor"`
	}

	written := state{Version: "1.2.3", Factor: 8}
	require.NoError(t, WriteJson(path, written))

	var read state
	_, err := ReadJson(path, &read)
	require.NoError(t, err)
	assert.Equal(t, written, read)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestWriteJson_Overwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	require.NoError(t, WriteJson(path, map[string]int{"a": 1}))
	require.NoError(t, WriteJson(path, map[string]int{"a": 2}))

	var read map[string]int
	_, err := ReadJson(path, &read)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 2}, read)

	// no temp files left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestReadJson_Missing(t *testing.T) {
	var out map[string]any
	_, err := ReadJson(filepath.Join(t.TempDir(), "absent.json"), &out)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCopyFileContents(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.WriteFile(src, []byte("snapshot payload"), 0644))

	require.NoError(t, CopyFileContents(src, dst))

	bs, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "snapshot payload", string(bs))
}
