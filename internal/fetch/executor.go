package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/feedsync/internal/discovery"
	"github.com/stacklok/feedsync/internal/otel"
	"github.com/stacklok/feedsync/internal/sources"
	"github.com/stacklok/feedsync/internal/telemetry"
)

// ExecutorOption configures the executor
type ExecutorOption func(*defaultExecutor)

// WithMetrics records per-item outcomes
func WithMetrics(m *telemetry.FetchMetrics) ExecutorOption {
	return func(e *defaultExecutor) {
		e.metrics = m
	}
}

// WithTracer emits a span per batch
func WithTracer(tracer trace.Tracer) ExecutorOption {
	return func(e *defaultExecutor) {
		e.tracer = tracer
	}
}

// WithClock overrides the time source used for ledger timestamps
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *defaultExecutor) {
		e.now = now
	}
}

type defaultExecutor struct {
	ledger     Ledger
	downloader Downloader
	metrics    *telemetry.FetchMetrics
	tracer     trace.Tracer
	now        func() time.Time
}

var _ Executor = (*defaultExecutor)(nil)

// NewExecutor creates an executor that checks and records items in ledger
func NewExecutor(ledger Ledger, downloader Downloader, opts ...ExecutorOption) Executor {
	e := &defaultExecutor{
		ledger:     ledger,
		downloader: downloader,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Fetch processes items strictly in order. Download failures are counted and
// kept in the summary; ledger failures abort the batch and are returned along
// with the counts so far.
func (e *defaultExecutor) Fetch(
	ctx context.Context, src *sources.Source, items []discovery.ItemDescriptor,
) (*Summary, error) {
	ctx, span := otel.StartSpan(ctx, e.tracer, "fetch.Fetch",
		trace.WithAttributes(otel.AttrSourceID.String(src.ID), otel.AttrResultCount.Int(len(items))))
	defer span.End()

	summary := &Summary{Found: len(items), Errors: map[string]string{}}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			otel.RecordError(span, err)
			return summary, fmt.Errorf("fetch for source %s interrupted: %w", src.ID, err)
		}

		retrieved, err := e.ledger.IsRetrieved(ctx, src.ID, item.ID)
		if err != nil {
			otel.RecordError(span, err)
			return summary, fmt.Errorf("failed to check retrieved record for item %s: %w", item.ID, err)
		}
		if retrieved {
			summary.Skipped++
			e.metrics.RecordItem(ctx, src.ID, telemetry.ItemOutcomeSkipped)
			continue
		}

		path, err := e.downloader.Download(ctx, src.ID, item)
		if err != nil {
			summary.Failed++
			summary.Errors[item.ID] = err.Error()
			e.metrics.RecordItem(ctx, src.ID, telemetry.ItemOutcomeFailed)
			slog.Warn("Failed to fetch item", "source", src.ID, "item", item.ID, "url", item.URL, "error", err)
			continue
		}

		if err := e.ledger.Record(ctx, src.ID, item.ID, e.now()); err != nil {
			otel.RecordError(span, err)
			return summary, fmt.Errorf("failed to record retrieved item %s: %w", item.ID, err)
		}

		summary.Fetched++
		e.metrics.RecordItem(ctx, src.ID, telemetry.ItemOutcomeFetched)
		slog.Debug("Fetched item", "source", src.ID, "item", item.ID, "path", path)
	}

	slog.Info("Fetch completed",
		"source", src.ID,
		"found", summary.Found,
		"fetched", summary.Fetched,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
	)

	return summary, nil
}
