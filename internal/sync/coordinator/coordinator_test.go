package coordinator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/feedsync/internal/config"
	"github.com/stacklok/feedsync/internal/fetch"
	"github.com/stacklok/feedsync/internal/sources"
	"github.com/stacklok/feedsync/internal/sync"
	syncmocks "github.com/stacklok/feedsync/internal/sync/mocks"
	"github.com/stacklok/feedsync/internal/sync/state"
	statemocks "github.com/stacklok/feedsync/internal/sync/state/mocks"
)

// recordingManager runs instantly, remembers the order of executions and the
// highest number of concurrent executions it observed.
type recordingManager struct {
	mu       gosync.Mutex
	order    []string
	failures map[string]*sync.Error
	delay    time.Duration
	onRun    func(sourceID string)

	running    atomic.Int32
	maxRunning atomic.Int32
}

func (m *recordingManager) PerformSync(_ context.Context, src *sources.Source) (*sync.Result, *sync.Error) {
	n := m.running.Add(1)
	defer m.running.Add(-1)
	for {
		peak := m.maxRunning.Load()
		if n <= peak || m.maxRunning.CompareAndSwap(peak, n) {
			break
		}
	}

	if m.onRun != nil {
		m.onRun(src.ID)
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	m.mu.Lock()
	m.order = append(m.order, src.ID)
	syncErr := m.failures[src.ID]
	m.mu.Unlock()

	if syncErr != nil {
		return nil, syncErr
	}
	return &sync.Result{Summary: fetch.Summary{Found: 2, Fetched: 1, Skipped: 1}, Strategy: "feed"}, nil
}

func (m *recordingManager) executed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

func enabledSource(id string) *sources.Source {
	return &sources.Source{ID: id, Limit: 10, Enabled: true}
}

func newFileStore(t *testing.T) state.Store {
	t.Helper()
	store := state.NewFileStore(filepath.Join(t.TempDir(), "state"))
	require.NoError(t, store.Initialize(context.Background()))
	return store
}

func assertLockFree(t *testing.T, store state.Store) {
	t.Helper()
	lock, err := store.Lock(context.Background())
	require.NoError(t, err)
	assert.False(t, lock.Held, "lock should be released, held by %q", lock.Holder)
}

func TestScheduleFrom(t *testing.T) {
	t.Parallel()

	s := scheduleFrom(nil)
	assert.Equal(t, config.DefaultInterval, s.interval)
	assert.Equal(t, config.DefaultStaleAfter, s.staleAfter)
	assert.Zero(t, s.initialDelay)

	s = scheduleFrom(&config.Config{
		Schedule: &config.ScheduleConfig{Interval: "15m", InitialDelay: "10s"},
		Queue:    &config.QueueConfig{StaleAfter: "5m"},
	})
	assert.Equal(t, 15*time.Minute, s.interval)
	assert.Equal(t, 10*time.Second, s.initialDelay)
	assert.Equal(t, 5*time.Minute, s.staleAfter)
}

func TestJitteredInterval(t *testing.T) {
	t.Parallel()

	for i := 0; i < 100; i++ {
		d := jitteredInterval(time.Hour)
		assert.GreaterOrEqual(t, d, time.Hour-maxJitter)
		assert.Less(t, d, time.Hour+maxJitter)

		d = jitteredInterval(10 * time.Second)
		assert.GreaterOrEqual(t, d, 9*time.Second)
		assert.Less(t, d, 11*time.Second)
	}
	assert.Equal(t, time.Duration(0), jitteredInterval(0))
}

func TestRunBulk(t *testing.T) {
	t.Parallel()

	store := newFileStore(t)
	manager := &recordingManager{failures: map[string]*sync.Error{
		"broken": {Message: "discovery failed for source broken", Kind: sync.KindContent},
	}}
	catalog := sources.NewStaticCatalog(
		enabledSource("news"),
		&sources.Source{ID: "paused", Enabled: false},
		enabledSource("broken"),
		enabledSource("blog"),
	)
	c := New(manager, store, catalog, nil)

	outcomes, err := c.RunBulk(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"news", "broken", "blog"}, manager.executed())
	require.Len(t, outcomes, 3)

	assert.Equal(t, "news", outcomes[0].SourceID)
	assert.Equal(t, RunKindBulk, outcomes[0].RunKind)
	assert.False(t, outcomes[0].Failed())
	assert.Equal(t, 1, outcomes[0].Summary.Fetched)
	assert.Equal(t, "feed", outcomes[0].Strategy)

	assert.True(t, outcomes[1].Failed())
	assert.Equal(t, string(sync.KindContent), outcomes[1].ErrorKind)
	assert.False(t, outcomes[2].Failed(), "a failing source must not abort its siblings")

	lock, err := store.Lock(context.Background())
	require.NoError(t, err)
	assert.False(t, lock.Held)
	assert.NotNil(t, lock.LastRunAt)
}

func TestRunBulk_LockHeld(t *testing.T) {
	t.Parallel()

	store := newFileStore(t)
	acquired, err := store.TryAcquire(context.Background(), state.HolderOnDemand, time.Now())
	require.NoError(t, err)
	require.True(t, acquired)

	manager := &recordingManager{}
	c := New(manager, store, sources.NewStaticCatalog(enabledSource("news")), nil)

	_, err = c.RunBulk(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.Empty(t, manager.executed())

	lock, err := store.Lock(context.Background())
	require.NoError(t, err)
	assert.True(t, lock.Held, "a refused run must not release someone else's lock")
}

func TestRunBulk_StoreFailure(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	store := statemocks.NewMockStore(ctrl)
	manager := syncmocks.NewMockManager(ctrl)

	store.EXPECT().TryAcquire(gomock.Any(), state.HolderBulk, gomock.Any()).Return(false, errors.New("disk full"))

	c := New(manager, store, sources.NewStaticCatalog(enabledSource("news")), nil)
	_, err := c.RunBulk(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to acquire run lock")
	assert.Contains(t, err.Error(), "disk full")
}

func TestRunBulk_DrainStoreFailureReleasesLock(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	store := statemocks.NewMockStore(ctrl)
	manager := syncmocks.NewMockManager(ctrl)

	gomock.InOrder(
		store.EXPECT().TryAcquire(gomock.Any(), state.HolderBulk, gomock.Any()).Return(true, nil),
		manager.EXPECT().PerformSync(gomock.Any(), gomock.Any()).Return(&sync.Result{}, nil),
		store.EXPECT().PurgeStale(gomock.Any(), gomock.Any()).Return(nil, errors.New("locked")),
		store.EXPECT().Release(gomock.Any(), false, gomock.Any()).Return(nil),
	)

	c := New(manager, store, sources.NewStaticCatalog(enabledSource("news")), nil)
	outcomes, err := c.RunBulk(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to purge stale requests")
	assert.Len(t, outcomes, 1)
}

func TestRunBulk_ReleasesLockOnPanic(t *testing.T) {
	t.Parallel()

	store := newFileStore(t)
	manager := &recordingManager{onRun: func(string) { panic("boom") }}
	c := New(manager, store, sources.NewStaticCatalog(enabledSource("news")), nil)

	assert.Panics(t, func() {
		_, _ = c.RunBulk(context.Background())
	})
	assertLockFree(t, store)
}

func TestRunBulk_Cancelled(t *testing.T) {
	t.Parallel()

	store := newFileStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := &recordingManager{onRun: func(string) { cancel() }}
	c := New(manager, store, sources.NewStaticCatalog(enabledSource("first"), enabledSource("second")), nil)

	outcomes, err := c.RunBulk(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, outcomes, 1)
	assert.Equal(t, []string{"first"}, manager.executed())
	assertLockFree(t, store)
}

func TestRunBulk_DrainsQueueInOrder(t *testing.T) {
	t.Parallel()

	store := newFileStore(t)
	manager := &recordingManager{}
	catalog := sources.NewStaticCatalog(
		enabledSource("bulk"),
		&sources.Source{ID: "x", Enabled: true},
		&sources.Source{ID: "y", Enabled: true},
		&sources.Source{ID: "z", Enabled: true},
	)
	// Only "bulk" is part of the bulk run; x, y and z arrive while it runs
	bulkOnly := &filteredCatalog{Catalog: catalog, enabled: []string{"bulk"}}
	c := New(manager, store, bulkOnly, nil)

	var responses []*Response
	manager.onRun = func(sourceID string) {
		if sourceID != "bulk" {
			return
		}
		for _, id := range []string{"x", "y", "z"} {
			resp, err := c.RequestFetch(context.Background(), id, "tester")
			require.NoError(t, err)
			responses = append(responses, resp)
		}
	}

	outcomes, err := c.RunBulk(context.Background())
	require.NoError(t, err)

	require.Len(t, responses, 3)
	for i, resp := range responses {
		assert.Equal(t, StatusQueued, resp.Status)
		assert.Equal(t, i+1, resp.Position)
		assert.Nil(t, resp.Outcome)
	}

	assert.Equal(t, []string{"bulk", "x", "y", "z"}, manager.executed())
	require.Len(t, outcomes, 4)
	assert.Equal(t, RunKindQueued, outcomes[1].RunKind)
	assert.Equal(t, "tester", outcomes[1].Requester)

	queue, err := store.Queue(context.Background())
	require.NoError(t, err)
	assert.Empty(t, queue)
	assertLockFree(t, store)
}

// filteredCatalog limits Enabled to a fixed set while Get still sees every source
type filteredCatalog struct {
	sources.Catalog
	enabled []string
}

func (f *filteredCatalog) Enabled() []*sources.Source {
	var out []*sources.Source
	for _, id := range f.enabled {
		src, err := f.Get(id)
		if err == nil {
			out = append(out, src)
		}
	}
	return out
}

func TestDrain_EvictsStaleRequests(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFileStore(t)

	// Queue two requests behind a lock held by someone else, then free the lock
	_, err := store.TryAcquire(ctx, state.HolderBulk, now.Add(-time.Hour))
	require.NoError(t, err)
	_, err = store.AcquireOrEnqueue(ctx, state.HolderOnDemand,
		state.QueueEntry{SourceID: "old", Requester: "a", EnqueuedAt: now.Add(-31 * time.Minute)})
	require.NoError(t, err)
	_, err = store.AcquireOrEnqueue(ctx, state.HolderOnDemand,
		state.QueueEntry{SourceID: "fresh", Requester: "b", EnqueuedAt: now.Add(-29 * time.Minute)})
	require.NoError(t, err)
	require.NoError(t, store.Release(ctx, false, now))

	manager := &recordingManager{}
	catalog := sources.NewStaticCatalog(enabledSource("trigger"), enabledSource("old"), enabledSource("fresh"))
	cfg := &config.Config{Queue: &config.QueueConfig{StaleAfter: "30m"}}
	c := New(manager, store, catalog, cfg, WithClock(func() time.Time { return now }))

	resp, err := c.RequestFetch(ctx, "trigger", "tester")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, resp.Status)
	require.NoError(t, c.Stop())

	assert.Equal(t, []string{"trigger", "fresh"}, manager.executed())

	queue, err := store.Queue(ctx)
	require.NoError(t, err)
	assert.Empty(t, queue)
	assertLockFree(t, store)
}

func TestDrain_RepeatedRequestSurvivesStaleOne(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var clock atomic.Int64
	clock.Store(now.Add(-31 * time.Minute).UnixNano())

	store := newFileStore(t)
	_, err := store.TryAcquire(ctx, state.HolderBulk, now.Add(-time.Hour))
	require.NoError(t, err)

	manager := &recordingManager{}
	catalog := sources.NewStaticCatalog(enabledSource("trigger"), enabledSource("x"))
	cfg := &config.Config{Queue: &config.QueueConfig{StaleAfter: "30m"}}
	c := New(manager, store, catalog, cfg, WithClock(func() time.Time { return time.Unix(0, clock.Load()).UTC() }))

	first, err := c.RequestFetch(ctx, "x", "old")
	require.NoError(t, err)
	assert.Equal(t, &Response{Status: StatusQueued, Position: 1}, first)

	clock.Store(now.Add(-time.Minute).UnixNano())
	second, err := c.RequestFetch(ctx, "x", "new")
	require.NoError(t, err)
	assert.Equal(t, &Response{Status: StatusQueued, Position: 2}, second)

	require.NoError(t, store.Release(ctx, false, now))
	clock.Store(now.UnixNano())

	resp, err := c.RequestFetch(ctx, "trigger", "tester")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, resp.Status)
	require.NoError(t, c.Stop())

	assert.Equal(t, []string{"trigger", "x"}, manager.executed())

	queue, err := store.Queue(ctx)
	require.NoError(t, err)
	assert.Empty(t, queue)
	assertLockFree(t, store)
}

func TestRequestFetch(t *testing.T) {
	t.Parallel()

	catalog := sources.NewStaticCatalog(
		enabledSource("news"),
		&sources.Source{ID: "paused", Enabled: false},
		enabledSource("broken"),
	)
	failures := map[string]*sync.Error{
		"broken": {Message: "discovery failed for source broken", Kind: sync.KindTransient},
	}

	t.Run("unknown source", func(t *testing.T) {
		t.Parallel()
		c := New(&recordingManager{}, newFileStore(t), catalog, nil)
		_, err := c.RequestFetch(context.Background(), "missing", "")
		assert.ErrorIs(t, err, sources.ErrUnknownSource)
	})

	t.Run("disabled source", func(t *testing.T) {
		t.Parallel()
		store := newFileStore(t)
		c := New(&recordingManager{}, store, catalog, nil)
		_, err := c.RequestFetch(context.Background(), "paused", "")
		assert.ErrorIs(t, err, sources.ErrSourceDisabled)
		assertLockFree(t, store)
	})

	t.Run("free lock runs synchronously", func(t *testing.T) {
		t.Parallel()
		store := newFileStore(t)
		manager := &recordingManager{}
		c := New(manager, store, catalog, nil)

		resp, err := c.RequestFetch(context.Background(), "news", "api")
		require.NoError(t, err)
		require.NoError(t, c.Stop())

		assert.Equal(t, StatusCompleted, resp.Status)
		require.NotNil(t, resp.Outcome)
		assert.Equal(t, RunKindOnDemand, resp.Outcome.RunKind)
		assert.Equal(t, "api", resp.Outcome.Requester)
		assert.Equal(t, fetch.Summary{Found: 2, Fetched: 1, Skipped: 1}, resp.Outcome.Summary)
		assert.Equal(t, []string{"news"}, manager.executed())
		assertLockFree(t, store)
	})

	t.Run("pipeline failure is reported as failed", func(t *testing.T) {
		t.Parallel()
		store := newFileStore(t)
		c := New(&recordingManager{failures: failures}, store, catalog, nil)

		resp, err := c.RequestFetch(context.Background(), "broken", "api")
		require.NoError(t, err)
		require.NoError(t, c.Stop())

		assert.Equal(t, StatusFailed, resp.Status)
		require.NotNil(t, resp.Outcome)
		assert.Equal(t, "discovery failed for source broken", resp.Outcome.Error)
		assert.Equal(t, string(sync.KindTransient), resp.Outcome.ErrorKind)
		assertLockFree(t, store)
	})

	t.Run("held lock queues every request with its position", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		store := newFileStore(t)
		_, err := store.TryAcquire(ctx, state.HolderBulk, time.Now())
		require.NoError(t, err)

		manager := &recordingManager{}
		c := New(manager, store, catalog, nil)

		first, err := c.RequestFetch(ctx, "news", "")
		require.NoError(t, err)
		assert.Equal(t, &Response{Status: StatusQueued, Position: 1}, first)

		second, err := c.RequestFetch(ctx, "broken", "")
		require.NoError(t, err)
		assert.Equal(t, 2, second.Position)

		again, err := c.RequestFetch(ctx, "news", "")
		require.NoError(t, err)
		assert.Equal(t, &Response{Status: StatusQueued, Position: 3}, again)

		queue, err := store.Queue(ctx)
		require.NoError(t, err)
		require.Len(t, queue, 3)
		assert.NotEmpty(t, queue[0].Requester, "a missing requester gets a generated tag")
		assert.Empty(t, manager.executed())
	})

	t.Run("rejected after stop", func(t *testing.T) {
		t.Parallel()
		store := newFileStore(t)
		manager := &recordingManager{}
		c := New(manager, store, catalog, nil)
		require.NoError(t, c.Stop())

		_, err := c.RequestFetch(context.Background(), "news", "api")
		assert.ErrorIs(t, err, ErrStopped)
		assert.Empty(t, manager.executed())
		assertLockFree(t, store)
	})

	t.Run("store failure is a system error", func(t *testing.T) {
		t.Parallel()
		ctrl := gomock.NewController(t)
		store := statemocks.NewMockStore(ctrl)
		store.EXPECT().AcquireOrEnqueue(gomock.Any(), state.HolderOnDemand, gomock.Any()).
			Return(state.Admission{}, errors.New("database is locked"))

		c := New(&recordingManager{}, store, catalog, nil)
		_, err := c.RequestFetch(context.Background(), "news", "api")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to admit request for source news")
	})

	t.Run("panic releases the lock", func(t *testing.T) {
		t.Parallel()
		store := newFileStore(t)
		manager := &recordingManager{onRun: func(string) { panic("boom") }}
		c := New(manager, store, catalog, nil)

		assert.Panics(t, func() {
			_, _ = c.RequestFetch(context.Background(), "news", "api")
		})
		assertLockFree(t, store)
	})
}

func TestLockInvariant_ConcurrentTriggers(t *testing.T) {
	t.Parallel()

	const requests = 12
	var srcs []*sources.Source
	for i := 0; i < requests; i++ {
		srcs = append(srcs, enabledSource(fmt.Sprintf("source-%02d", i)))
	}

	store := newFileStore(t)
	manager := &recordingManager{delay: 5 * time.Millisecond}
	c := New(manager, store, sources.NewStaticCatalog(srcs...), nil)

	var wg gosync.WaitGroup
	for _, src := range srcs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			resp, err := c.RequestFetch(context.Background(), id, "load")
			assert.NoError(t, err)
			if resp != nil {
				assert.Contains(t, []string{StatusCompleted, StatusQueued}, resp.Status)
			}
		}(src.ID)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := c.RunBulk(context.Background())
		if err != nil {
			assert.ErrorIs(t, err, ErrRunInProgress)
		}
	}()
	wg.Wait()
	require.NoError(t, c.Stop())

	assert.Equal(t, int32(1), manager.maxRunning.Load(), "two pipelines ran at the same time")

	executed := map[string]bool{}
	for _, id := range manager.executed() {
		executed[id] = true
	}
	for _, src := range srcs {
		assert.True(t, executed[src.ID], "request for %s was stranded", src.ID)
	}
	assertLockFree(t, store)
}

func TestStop_ConcurrentRequests(t *testing.T) {
	t.Parallel()

	srcs := make([]*sources.Source, 0, 6)
	for i := range 6 {
		srcs = append(srcs, enabledSource(fmt.Sprintf("s%d", i)))
	}
	store := newFileStore(t)
	c := New(&recordingManager{}, store, sources.NewStaticCatalog(srcs...), nil)

	var wg gosync.WaitGroup
	for _, src := range srcs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := c.RequestFetch(context.Background(), id, "load")
			if err != nil {
				assert.ErrorIs(t, err, ErrStopped)
			}
		}(src.ID)
	}
	require.NoError(t, c.Stop())
	wg.Wait()
	// Drains handed off before Stop are waited for, later ones ran inline
	require.NoError(t, c.Stop())

	assertLockFree(t, store)
}

func TestRecover(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newFileStore(t)
	c := New(&recordingManager{}, store, sources.NewStaticCatalog(), nil)

	// Nothing to do on a free lock
	require.NoError(t, c.Recover(ctx))
	assertLockFree(t, store)

	_, err := store.TryAcquire(ctx, state.HolderBulk, time.Now())
	require.NoError(t, err)
	require.NoError(t, c.Recover(ctx))
	assertLockFree(t, store)
}

func TestStatus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFileStore(t)

	_, err := store.TryAcquire(ctx, state.HolderBulk, now.Add(-time.Minute))
	require.NoError(t, err)
	_, err = store.AcquireOrEnqueue(ctx, state.HolderOnDemand,
		state.QueueEntry{SourceID: "a", Requester: "r1", EnqueuedAt: now.Add(-5 * time.Minute)})
	require.NoError(t, err)
	_, err = store.AcquireOrEnqueue(ctx, state.HolderOnDemand,
		state.QueueEntry{SourceID: "b", Requester: "r2", EnqueuedAt: now.Add(-2 * time.Minute)})
	require.NoError(t, err)

	c := New(&recordingManager{}, store, sources.NewStaticCatalog(), nil, WithClock(func() time.Time { return now }))
	status, err := c.Status(ctx)
	require.NoError(t, err)

	assert.True(t, status.Lock.Held)
	assert.Equal(t, state.HolderBulk, status.Lock.Holder)
	require.Len(t, status.Queue, 2)
	assert.Equal(t, "a", status.Queue[0].SourceID)
	assert.Equal(t, 1, status.Queue[0].Position)
	assert.Equal(t, 5*time.Minute, status.Queue[0].Age)
	assert.Equal(t, 2, status.Queue[1].Position)
	assert.Equal(t, 2*time.Minute, status.Queue[1].Age)
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	store := newFileStore(t)
	manager := &recordingManager{}
	cfg := &config.Config{Schedule: &config.ScheduleConfig{Interval: "1h"}}
	c := New(manager, store, sources.NewStaticCatalog(enabledSource("news")), cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Start(context.Background())
	}()

	assert.Eventually(t, func() bool {
		return len(manager.executed()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	// Stop may race with Start registering its cancel func
	assert.Eventually(t, func() bool {
		_ = c.Stop()
		select {
		case err := <-errCh:
			return err == nil
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
	assertLockFree(t, store)
}
