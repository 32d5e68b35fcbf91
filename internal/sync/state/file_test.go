package state

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_PersistsAcrossInstances(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := NewFileStore(dir)
	require.NoError(t, first.Initialize(ctx))
	acquired, err := first.TryAcquire(ctx, HolderBulk, now)
	require.NoError(t, err)
	require.True(t, acquired)
	_, err = first.AcquireOrEnqueue(ctx, HolderOnDemand, QueueEntry{SourceID: "news", Requester: "cli", EnqueuedAt: now})
	require.NoError(t, err)
	require.NoError(t, first.Record(ctx, "news", "abc", now))

	second := NewFileStore(dir)
	lock, err := second.Lock(ctx)
	require.NoError(t, err)
	assert.True(t, lock.Held)
	assert.Equal(t, HolderBulk, lock.Holder)

	queue, err := second.Queue(ctx)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, "news", queue[0].SourceID)
	assert.Equal(t, "cli", queue[0].Requester)
	assert.WithinDuration(t, now, queue[0].EnqueuedAt, 0)

	ok, err := second.IsRetrieved(ctx, "news", "abc")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFileStore_OnDiskFormat(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	store := NewFileStore(dir)
	require.NoError(t, store.Initialize(ctx))
	_, err := store.TryAcquire(ctx, HolderOnDemand, now)
	require.NoError(t, err)
	require.NoError(t, store.Record(ctx, "news", "abc", now))
	require.NoError(t, store.Record(ctx, "news", "def", now))

	data, err := os.ReadFile(filepath.Join(dir, CoordinationFileName))
	require.NoError(t, err)

	var state coordination
	require.NoError(t, json.Unmarshal(data, &state))
	assert.True(t, state.Lock.Held)
	assert.Equal(t, HolderOnDemand, state.Lock.Holder)
	assert.NotNil(t, state.Queue)

	ledger, err := os.ReadFile(filepath.Join(dir, retrievedDirName, "news.txt"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(ledger)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "abc\t2026-03-01T12:00:00Z", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "def\t"))

	// No temporary files are left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.False(t, strings.HasSuffix(entry.Name(), ".tmp"), entry.Name())
	}
}

func TestFileStore_CorruptState(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, CoordinationFileName), []byte("{not json"), 0600))

	store := NewFileStore(dir)
	_, err := store.Lock(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal coordination state")
}

func TestFileStore_CancelledContext(t *testing.T) {
	t.Parallel()

	store := NewFileStore(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.IsRetrieved(ctx, "news", "abc")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, store.Record(ctx, "news", "abc", time.Now()), context.Canceled)
}
