package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/feedsync/internal/discovery"
	"github.com/stacklok/feedsync/internal/fetch"
	"github.com/stacklok/feedsync/internal/otel"
	"github.com/stacklok/feedsync/internal/sources"
)

// Kind classifies a pipeline failure
type Kind string

// Failure kinds
const (
	KindTransient Kind = "transient"
	KindContent   Kind = "content"
	KindSystem    Kind = "system"
)

// Result contains the outcome of one pipeline execution
type Result struct {
	Summary  fetch.Summary
	Strategy string
	Degraded bool
	Warning  string
	Duration time.Duration
}

// Error represents a structured pipeline failure
type Error struct {
	Err     error
	Message string
	Kind    Kind
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Manager runs discovery then fetch for one source
//
//go:generate mockgen -destination=mocks/mock_manager.go -package=mocks github.com/stacklok/feedsync/internal/sync Manager
type Manager interface {
	// PerformSync executes the pipeline for src. When fetching aborts on a
	// system error the partial Result is returned alongside the Error.
	PerformSync(ctx context.Context, src *sources.Source) (*Result, *Error)
}

// ManagerOption configures the default manager
type ManagerOption func(*defaultSyncManager)

// WithTracer emits a span per pipeline execution
func WithTracer(tracer trace.Tracer) ManagerOption {
	return func(m *defaultSyncManager) {
		m.tracer = tracer
	}
}

type defaultSyncManager struct {
	engine   discovery.Engine
	executor fetch.Executor
	tracer   trace.Tracer
}

// NewDefaultSyncManager creates a Manager from a discovery engine and a fetch executor
func NewDefaultSyncManager(engine discovery.Engine, executor fetch.Executor, opts ...ManagerOption) Manager {
	m := &defaultSyncManager{
		engine:   engine,
		executor: executor,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// PerformSync executes the complete pipeline for a source
func (m *defaultSyncManager) PerformSync(ctx context.Context, src *sources.Source) (*Result, *Error) {
	ctx, span := otel.StartSpan(ctx, m.tracer, "sync.PerformSync",
		trace.WithAttributes(otel.AttrSourceID.String(src.ID)))
	defer span.End()

	start := time.Now()
	slog.Info("Starting sync operation", "source", src.ID, "limit", src.Limit)

	found, err := m.engine.Discover(ctx, src, src.Limit)
	if err != nil {
		kind := KindTransient
		if discovery.IsContentError(err) {
			kind = KindContent
		}
		otel.RecordError(span, err)
		slog.Error("Discovery failed", "source", src.ID, "kind", kind, "error", err)
		return nil, &Error{
			Err:     err,
			Message: fmt.Sprintf("discovery failed for source %s: %v", src.ID, err),
			Kind:    kind,
		}
	}

	if found.Degraded {
		slog.Warn("Using degraded discovery result", "source", src.ID, "warning", found.Warning)
	}

	summary, err := m.executor.Fetch(ctx, src, found.Items)
	result := &Result{
		Strategy: found.Strategy,
		Degraded: found.Degraded,
		Warning:  found.Warning,
		Duration: time.Since(start),
	}
	if summary != nil {
		result.Summary = *summary
	}

	if err != nil {
		kind := KindSystem
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			kind = KindTransient
		}
		otel.RecordError(span, err)
		slog.Error("Fetch aborted", "source", src.ID, "kind", kind, "error", err)
		return result, &Error{
			Err:     err,
			Message: fmt.Sprintf("fetch failed for source %s: %v", src.ID, err),
			Kind:    kind,
		}
	}

	span.SetAttributes(
		otel.AttrStrategyName.String(result.Strategy),
		otel.AttrResultCount.Int(result.Summary.Fetched),
		otel.AttrDegraded.Bool(result.Degraded),
	)
	slog.Info("Sync operation completed",
		"source", src.ID,
		"strategy", result.Strategy,
		"degraded", result.Degraded,
		"fetched", result.Summary.Fetched,
		"skipped", result.Summary.Skipped,
		"failed", result.Summary.Failed,
		"duration", result.Duration.String(),
	)

	return result, nil
}
