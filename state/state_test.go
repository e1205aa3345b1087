package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTracker(t *testing.T) {
	m := NewMemoryTracker()
	assert.False(t, m.Consumed("h1"))

	require.NoError(t, m.MarkConsumed("h1", "a@example.com"))
	require.NoError(t, m.MarkConsumed("h1", "a@example.com"))
	require.NoError(t, m.MarkConsumed("", "a@example.com"))

	assert.True(t, m.Consumed("h1"))
	assert.False(t, m.Consumed(""))
	assert.Equal(t, Snapshot{Consumed: 1}, m.Snapshot())
}

func TestFileTracker_PersistsAcrossRuns(t *testing.T) {
	dir := t.TempDir()

	first, err := NewFileTracker(dir)
	require.NoError(t, err)
	require.NoError(t, first.MarkConsumed("h1", "a@example.com"))
	require.NoError(t, first.MarkConsumed("h2", "b@example.com"))
	require.NoError(t, first.MarkConsumed("h1", "a@example.com"))
	require.NoError(t, first.Close())

	second, err := NewFileTracker(dir)
	require.NoError(t, err)
	defer second.Close()

	assert.True(t, second.Consumed("h1"))
	assert.True(t, second.Consumed("h2"))
	assert.False(t, second.Consumed("h3"))
	assert.Equal(t, 2, second.Snapshot().Consumed)

	data, err := os.ReadFile(filepath.Join(dir, "consumed.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, 2, countLines(data))
}

func TestFileTracker_CorruptLine(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "consumed.jsonl"), []byte("{not json\n"), 0o600))

	_, err := NewFileTracker(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

func TestFileTracker_EmptyDir(t *testing.T) {
	_, err := NewFileTracker("  ")
	require.Error(t, err)
}

func countLines(data []byte) int {
	n := 0
	for _, b := range data {
		if b == '\n' {
			n++
		}
	}
	return n
}
