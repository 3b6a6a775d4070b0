package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, target string, debounce time.Duration) *atomic.Int32 {
	t.Helper()
	var calls atomic.Int32
	w, err := New(target, func() { calls.Add(1) }, WithDebounce(debounce))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })
	return &calls
}

func TestWatcherFiresOnRemove(t *testing.T) {
	target := filepath.Join(t.TempDir(), "memory.json")
	require.NoError(t, os.WriteFile(target, []byte("{}"), 0o644))
	calls := startWatcher(t, target, 20*time.Millisecond)

	require.NoError(t, os.Remove(target))

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 20*time.Millisecond)
}

func TestWatcherFiresOnRenameAway(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "memory.db")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))
	calls := startWatcher(t, target, 20*time.Millisecond)

	require.NoError(t, os.Rename(target, filepath.Join(dir, "memory.db.bak")))

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 20*time.Millisecond)
}

func TestWatcherIgnoresAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "memory.json")
	require.NoError(t, os.WriteFile(target, []byte("{}"), 0o644))
	calls := startWatcher(t, target, 20*time.Millisecond)

	tmp := target + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(`{"sessions":[]}`), 0o644))
	require.NoError(t, os.Rename(tmp, target))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0o644))

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}

func TestWatcherRestoreCancelsReload(t *testing.T) {
	target := filepath.Join(t.TempDir(), "memory.json")
	require.NoError(t, os.WriteFile(target, []byte("{}"), 0o644))
	calls := startWatcher(t, target, 500*time.Millisecond)

	require.NoError(t, os.Remove(target))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(target, []byte("{}"), 0o644))

	time.Sleep(800 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	w, err := New(filepath.Join(t.TempDir(), "memory.json"), nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Stop())
}
