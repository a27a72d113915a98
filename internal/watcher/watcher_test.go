package watcher

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSyncer struct{ calls int }

func (c *countingSyncer) Sync() error {
	c.calls++
	return nil
}

func writeLines(t *testing.T, path string, n int) {
	t.Helper()
	content := strings.Repeat("event\n", n)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestTickSyncsOnGrowth(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ini.events")
	writeLines(t, path, 2)

	syncer := &countingSyncer{}
	w := New(path, syncer)

	require.NoError(t, w.Tick())
	assert.Equal(t, 1, syncer.calls)
	assert.Equal(t, 2, w.last)
}

func TestTickSkipsSyncWhenUnchanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ini.events")
	writeLines(t, path, 3)

	syncer := &countingSyncer{}
	w := New(path, syncer)

	require.NoError(t, w.Tick())
	require.NoError(t, w.Tick())
	assert.Equal(t, 1, syncer.calls)
}

func TestTickTreatsShrinkAsRotationWithoutSync(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ini.events")
	writeLines(t, path, 10)

	syncer := &countingSyncer{}
	w := New(path, syncer)
	require.NoError(t, w.Tick())
	assert.Equal(t, 1, syncer.calls)

	writeLines(t, path, 2) // simulate external rotation
	require.NoError(t, w.Tick())
	assert.Equal(t, 1, syncer.calls, "rotation should not trigger a sync")
	assert.Equal(t, 2, w.last)
}

func TestTickTruncatesPastMaxEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ini.events")
	writeLines(t, path, MaxEvents+1)

	syncer := &countingSyncer{}
	w := New(path, syncer)
	require.NoError(t, w.Tick())
	assert.Equal(t, 0, w.last)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}
