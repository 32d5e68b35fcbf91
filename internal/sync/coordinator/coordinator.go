package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/feedsync/internal/config"
	"github.com/stacklok/feedsync/internal/fetch"
	"github.com/stacklok/feedsync/internal/otel"
	"github.com/stacklok/feedsync/internal/sources"
	pkgsync "github.com/stacklok/feedsync/internal/sync"
	"github.com/stacklok/feedsync/internal/sync/state"
	"github.com/stacklok/feedsync/internal/telemetry"
)

// ErrRunInProgress is returned by RunBulk when another run holds the lock
var ErrRunInProgress = errors.New("a run is already in progress")

// ErrStopped is returned by RequestFetch once Stop has been called
var ErrStopped = errors.New("run coordinator is stopped")

// Response statuses of RequestFetch
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusQueued    = "queued"
)

// Run kinds reported in outcomes and metrics
const (
	RunKindBulk     = "bulk"
	RunKindOnDemand = "on-demand"
	RunKindQueued   = "queued"
)

// SourceOutcome is the result of running the pipeline for one source
type SourceOutcome struct {
	SourceID  string        `json:"sourceId"`
	RunKind   string        `json:"runKind"`
	Requester string        `json:"requester,omitempty"`
	Summary   fetch.Summary `json:"summary"`
	Strategy  string        `json:"strategy,omitempty"`
	Degraded  bool          `json:"degraded"`
	Warning   string        `json:"warning,omitempty"`
	Error     string        `json:"error,omitempty"`
	ErrorKind string        `json:"errorKind,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Failed reports whether the pipeline returned an error
func (o *SourceOutcome) Failed() bool {
	return o.Error != ""
}

// Response answers an on-demand request
type Response struct {
	Status string
	// Outcome is set when the request executed synchronously
	Outcome *SourceOutcome
	// Position is the 1-based queue position when queued
	Position int
}

// QueuedRequest is a queue entry with its position and age
type QueuedRequest struct {
	state.QueueEntry
	Position int           `json:"position"`
	Age      time.Duration `json:"age"`
}

// Status is a snapshot of the lock and the waiting queue
type Status struct {
	Lock  state.LockState `json:"lock"`
	Queue []QueuedRequest `json:"queue"`
}

// Coordinator schedules bulk runs and admits on-demand requests
//
//go:generate mockgen -destination=mocks/mock_coordinator.go -package=mocks github.com/stacklok/feedsync/internal/sync/coordinator Coordinator
type Coordinator interface {
	// Start runs bulk runs on the configured schedule.
	// Blocks until ctx is cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop cancels the schedule and waits for in-flight work.
	// Later on-demand requests fail with ErrStopped.
	Stop() error

	// RunBulk runs every enabled source and drains the queue
	RunBulk(ctx context.Context) ([]SourceOutcome, error)

	// RequestFetch runs sourceID now if the lock is free, otherwise queues it
	RequestFetch(ctx context.Context, sourceID, requester string) (*Response, error)

	// Recover resets a lock left held by a previous process
	Recover(ctx context.Context) error

	// Status returns the lock state and the queue
	Status(ctx context.Context) (*Status, error)
}

// defaultCoordinator is the default implementation of Coordinator
type defaultCoordinator struct {
	manager  pkgsync.Manager
	store    state.Store
	catalog  sources.Catalog
	schedule schedule

	now    func() time.Time
	tracer trace.Tracer

	// Lifecycle management
	mu         sync.Mutex
	cancelFunc context.CancelFunc
	done       chan struct{}
	// stopped is set by Stop; background.Add only happens under mu while it is false
	stopped bool
	// background tracks drains started by on-demand requests
	background sync.WaitGroup

	// Metrics
	syncMetrics *telemetry.SyncMetrics
}

// Option is a function that configures the coordinator
type Option func(*defaultCoordinator)

// WithSyncMetrics sets the sync metrics for the coordinator
func WithSyncMetrics(metrics *telemetry.SyncMetrics) Option {
	return func(c *defaultCoordinator) {
		c.syncMetrics = metrics
	}
}

// WithTracer emits spans for runs and requests
func WithTracer(tracer trace.Tracer) Option {
	return func(c *defaultCoordinator) {
		c.tracer = tracer
	}
}

// WithClock replaces time.Now, used for queue timestamps and staleness
func WithClock(now func() time.Time) Option {
	return func(c *defaultCoordinator) {
		c.now = now
	}
}

// New creates a new coordinator with injected dependencies
func New(
	manager pkgsync.Manager,
	store state.Store,
	catalog sources.Catalog,
	cfg *config.Config,
	opts ...Option,
) Coordinator {
	c := &defaultCoordinator{
		manager:  manager,
		store:    store,
		catalog:  catalog,
		schedule: scheduleFrom(cfg),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Start runs the first bulk run after the initial delay and then one per interval
func (c *defaultCoordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.cancelFunc != nil {
		c.mu.Unlock()
		return fmt.Errorf("coordinator already started")
	}
	coordCtx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	defer func() {
		close(done)
		slog.Info("Background run coordinator shutting down")
	}()

	slog.Info("Starting background run coordinator",
		"source_count", len(c.catalog.Enabled()),
		"interval", c.schedule.interval,
		"initial_delay", c.schedule.initialDelay)

	timer := time.NewTimer(c.schedule.initialDelay)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			c.scheduledRun(coordCtx)

			next := jitteredInterval(c.schedule.interval)
			slog.Debug("Scheduled next bulk run", "in", next)
			timer.Reset(next)
		case <-coordCtx.Done():
			slog.Info("Run coordinator stopping")
			return nil
		}
	}
}

// Stop gracefully stops the coordinator
func (c *defaultCoordinator) Stop() error {
	c.mu.Lock()
	c.stopped = true
	cancel, done := c.cancelFunc, c.done
	c.mu.Unlock()

	if cancel != nil {
		slog.Info("Stopping run coordinator")
		cancel()
		// Wait for coordinator to finish
		<-done
	}
	c.background.Wait()
	return nil
}

func (c *defaultCoordinator) scheduledRun(ctx context.Context) {
	outcomes, err := c.RunBulk(ctx)
	switch {
	case errors.Is(err, ErrRunInProgress):
		slog.Info("Skipping scheduled run, lock is held")
	case err != nil:
		slog.Error("Scheduled run failed", "error", err)
	default:
		failed := 0
		for i := range outcomes {
			if outcomes[i].Failed() {
				failed++
			}
		}
		slog.Info("Scheduled run finished", "sources", len(outcomes), "failed", failed)
	}
}

// RunBulk runs every enabled source once, then drains the queue
func (c *defaultCoordinator) RunBulk(ctx context.Context) (outcomes []SourceOutcome, err error) {
	ctx, span := otel.StartSpan(ctx, c.tracer, "coordinator.RunBulk",
		trace.WithAttributes(otel.AttrRunKind.String(RunKindBulk)))
	defer span.End()

	acquired, err := c.store.TryAcquire(ctx, state.HolderBulk, c.now())
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !acquired {
		return nil, ErrRunInProgress
	}

	start := time.Now()
	released := false
	defer func() {
		c.releaseUnlessDrained(ctx, released)
		c.syncMetrics.RecordRunDuration(ctx, RunKindBulk, time.Since(start), err == nil)
		if err != nil {
			otel.RecordError(span, err)
		}
	}()

	enabled := c.catalog.Enabled()
	slog.Info("Starting bulk run", "sources", len(enabled))

	for _, src := range enabled {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return outcomes, fmt.Errorf("bulk run interrupted: %w", ctxErr)
		}
		outcomes = append(outcomes, c.runSource(ctx, src, RunKindBulk, ""))
	}

	drained, err := c.drain(ctx)
	outcomes = append(outcomes, drained...)
	if err != nil {
		return outcomes, err
	}
	released = true

	span.SetAttributes(otel.AttrResultCount.Int(len(outcomes)))
	return outcomes, nil
}

// RequestFetch admits an on-demand request. When the lock was free the request
// runs synchronously and the queue is drained in the background.
func (c *defaultCoordinator) RequestFetch(ctx context.Context, sourceID, requester string) (*Response, error) {
	ctx, span := otel.StartSpan(ctx, c.tracer, "coordinator.RequestFetch",
		trace.WithAttributes(
			otel.AttrSourceID.String(sourceID),
			otel.AttrRunKind.String(RunKindOnDemand),
		))
	defer span.End()

	if c.isStopped() {
		return nil, ErrStopped
	}

	src, err := c.catalog.Get(sourceID)
	if err != nil {
		return nil, err
	}
	if !src.Enabled {
		return nil, fmt.Errorf("%w: %s", sources.ErrSourceDisabled, sourceID)
	}
	if requester == "" {
		requester = uuid.NewString()
	}

	entry := state.QueueEntry{SourceID: src.ID, Requester: requester, EnqueuedAt: c.now()}
	admission, err := c.store.AcquireOrEnqueue(ctx, state.HolderOnDemand, entry)
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to admit request for source %s: %w", sourceID, err)
	}

	if !admission.Acquired {
		span.SetAttributes(otel.AttrQueuePosition.Int(admission.Position))
		c.syncMetrics.RecordAdmission(ctx, StatusQueued)
		c.recordQueueDepth(ctx)
		slog.Info("Queued on-demand request",
			"source", sourceID,
			"requester", requester,
			"position", admission.Position)
		return &Response{Status: StatusQueued, Position: admission.Position}, nil
	}

	handedOff := false
	defer func() {
		if !handedOff {
			c.releaseUnlessDrained(ctx, false)
		}
	}()

	start := time.Now()
	outcome := c.runSource(ctx, src, RunKindOnDemand, requester)
	c.syncMetrics.RecordRunDuration(ctx, RunKindOnDemand, time.Since(start), !outcome.Failed())

	status := StatusCompleted
	if outcome.Failed() {
		status = StatusFailed
	}
	c.syncMetrics.RecordAdmission(ctx, status)

	// The request context ends with the caller; the drain must outlive it
	drainCtx := context.WithoutCancel(ctx)
	handedOff = true

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		// Stop is already waiting, nobody would track a new goroutine
		c.drainAndRelease(drainCtx)
	} else {
		c.background.Add(1)
		c.mu.Unlock()
		go func() {
			defer c.background.Done()
			c.drainAndRelease(drainCtx)
		}()
	}

	return &Response{Status: status, Outcome: &outcome}, nil
}

func (c *defaultCoordinator) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// drainAndRelease drains the queue behind an on-demand run and releases the lock
func (c *defaultCoordinator) drainAndRelease(ctx context.Context) {
	released := false
	defer func() {
		c.releaseUnlessDrained(ctx, released)
	}()
	if _, err := c.drain(ctx); err != nil {
		slog.Error("Queue drain failed", "error", err)
		return
	}
	released = true
}

// Recover resets a lock persisted as held by a previous process
func (c *defaultCoordinator) Recover(ctx context.Context) error {
	lock, err := c.store.Lock(ctx)
	if err != nil {
		return fmt.Errorf("failed to read run lock: %w", err)
	}
	if !lock.Held {
		return nil
	}

	attrs := []any{"holder", lock.Holder}
	if lock.AcquiredAt != nil {
		attrs = append(attrs, "acquired_at", lock.AcquiredAt.Format(time.RFC3339))
	}
	slog.Warn("Run lock was left held by a previous process, resetting", attrs...)

	if err := c.store.Release(ctx, false, c.now()); err != nil {
		return fmt.Errorf("failed to reset run lock: %w", err)
	}
	return nil
}

// Status returns the lock state and the queue with positions and ages
func (c *defaultCoordinator) Status(ctx context.Context) (*Status, error) {
	lock, err := c.store.Lock(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read run lock: %w", err)
	}
	entries, err := c.store.Queue(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}

	now := c.now()
	queue := make([]QueuedRequest, 0, len(entries))
	for i, entry := range entries {
		queue = append(queue, QueuedRequest{
			QueueEntry: entry,
			Position:   i + 1,
			Age:        now.Sub(entry.EnqueuedAt),
		})
	}
	return &Status{Lock: *lock, Queue: queue}, nil
}

// drain processes queued requests until the lock can be released with an
// empty queue. It returns the outcomes of the queued runs.
func (c *defaultCoordinator) drain(ctx context.Context) ([]SourceOutcome, error) {
	var outcomes []SourceOutcome

	for {
		if err := ctx.Err(); err != nil {
			return outcomes, fmt.Errorf("drain interrupted: %w", err)
		}

		evicted, err := c.store.PurgeStale(ctx, c.now().Add(-c.schedule.staleAfter))
		if err != nil {
			return outcomes, fmt.Errorf("failed to purge stale requests: %w", err)
		}
		for _, entry := range evicted {
			slog.Warn("Evicted stale queued request",
				"source", entry.SourceID,
				"requester", entry.Requester,
				"enqueued_at", entry.EnqueuedAt.Format(time.RFC3339),
				"stale_after", c.schedule.staleAfter)
			c.syncMetrics.RecordEviction(ctx, entry.SourceID)
		}

		entry, err := c.store.Dequeue(ctx)
		if err != nil {
			return outcomes, fmt.Errorf("failed to dequeue request: %w", err)
		}
		if entry != nil {
			c.recordQueueDepth(ctx)
			if outcome, ok := c.runQueued(ctx, entry); ok {
				outcomes = append(outcomes, outcome)
			}
			continue
		}

		released, err := c.store.ReleaseIfQueueEmpty(ctx, true, c.now())
		if err != nil {
			return outcomes, fmt.Errorf("failed to release run lock: %w", err)
		}
		if released {
			c.recordQueueDepth(ctx)
			return outcomes, nil
		}
	}
}

func (c *defaultCoordinator) runQueued(ctx context.Context, entry *state.QueueEntry) (SourceOutcome, bool) {
	src, err := c.catalog.Get(entry.SourceID)
	if err != nil {
		slog.Warn("Dropping queued request for unknown source", "source", entry.SourceID, "error", err)
		return SourceOutcome{}, false
	}
	if !src.Enabled {
		slog.Warn("Dropping queued request for disabled source", "source", entry.SourceID)
		return SourceOutcome{}, false
	}

	slog.Info("Running queued request",
		"source", entry.SourceID,
		"requester", entry.Requester,
		"waited", c.now().Sub(entry.EnqueuedAt).String())
	return c.runSource(ctx, src, RunKindQueued, entry.Requester), true
}

// runSource executes the pipeline for one source. Failures are recorded in
// the outcome and never propagate.
func (c *defaultCoordinator) runSource(ctx context.Context, src *sources.Source, kind, requester string) SourceOutcome {
	outcome := SourceOutcome{SourceID: src.ID, RunKind: kind, Requester: requester}
	start := time.Now()

	result, syncErr := c.manager.PerformSync(ctx, src)
	if result != nil {
		outcome.Summary = result.Summary
		outcome.Strategy = result.Strategy
		outcome.Degraded = result.Degraded
		outcome.Warning = result.Warning
	}
	outcome.Duration = time.Since(start)

	if syncErr != nil {
		outcome.Error = syncErr.Message
		outcome.ErrorKind = string(syncErr.Kind)
		slog.Error("Source run failed",
			"source", src.ID,
			"run_kind", kind,
			"kind", syncErr.Kind,
			"error", syncErr.Message)
	}

	c.syncMetrics.RecordSourceRun(ctx, src.ID, syncErr == nil, outcome.Degraded)
	return outcome
}

// releaseUnlessDrained frees the lock on exit paths where the drain did not
// release it, including panics and cancellation.
func (c *defaultCoordinator) releaseUnlessDrained(ctx context.Context, released bool) {
	if released {
		return
	}
	if err := c.store.Release(context.WithoutCancel(ctx), false, c.now()); err != nil {
		slog.Error("Failed to release run lock", "error", err)
	}
}

func (c *defaultCoordinator) recordQueueDepth(ctx context.Context) {
	if c.syncMetrics == nil {
		return
	}
	entries, err := c.store.Queue(ctx)
	if err != nil {
		slog.Debug("Failed to read queue depth", "error", err)
		return
	}
	c.syncMetrics.RecordQueueDepth(ctx, len(entries))
}
