package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestFile_SaveLoadDelete(t *testing.T) {
	f := NewFile[record](filepath.Join(t.TempDir(), "nested"), FileName("kis", "sandbox", "token"))

	_, err := f.Load()
	assert.ErrorIs(t, err, ErrNotExists)

	require.NoError(t, f.Save(record{Name: "a", Count: 2}))
	got, err := f.Load()
	require.NoError(t, err)
	assert.Equal(t, record{Name: "a", Count: 2}, got)

	info, err := os.Stat(f.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, f.Delete())
	_, err = f.Load()
	assert.ErrorIs(t, err, ErrNotExists)
	require.NoError(t, f.Delete())
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "kis_a_b_token.json", FileName("kis", "a/b", "token"))
	assert.Equal(t, "kis_live_token.json", FileName("kis", "live", "token"))
}

func TestFile_Corrupted(t *testing.T) {
	dir := t.TempDir()
	f := NewFile[record](dir, "bad.json")
	require.NoError(t, os.WriteFile(f.Path(), []byte("{not json"), 0o600))

	_, err := f.Load()
	assert.ErrorIs(t, err, ErrCorrupted)
	assert.NotErrorIs(t, err, ErrNotExists)

	require.NoError(t, os.WriteFile(f.Path(), nil, 0o600))
	_, err = f.Load()
	assert.ErrorIs(t, err, ErrNotExists)
}
