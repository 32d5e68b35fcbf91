package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// SyncMetricsMeterName is the meter for run and pipeline metrics
	SyncMetricsMeterName = "github.com/stacklok/feedsync/sync"

	// DiscoveryMetricsMeterName is the meter for discovery strategy metrics
	DiscoveryMetricsMeterName = "github.com/stacklok/feedsync/discovery"

	// FetchMetricsMeterName is the meter for item download metrics
	FetchMetricsMeterName = "github.com/stacklok/feedsync/fetch"
)

// Strategy outcomes
const (
	StrategyOutcomeAccepted = "accepted"
	StrategyOutcomeShort    = "short"
	StrategyOutcomeError    = "error"
	StrategyOutcomeContent  = "content_error"
)

// Item outcomes
const (
	ItemOutcomeFetched = "fetched"
	ItemOutcomeSkipped = "skipped"
	ItemOutcomeFailed  = "failed"
)

// SyncMetrics holds the instruments recorded by the run coordinator
type SyncMetrics struct {
	runDuration   metric.Float64Histogram
	sourceRuns    metric.Int64Counter
	queueDepth    metric.Int64Gauge
	queueEvicted  metric.Int64Counter
	queueAdmitted metric.Int64Counter
}

// NewSyncMetrics creates the coordinator instruments.
// If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	runDuration, err := meter.Float64Histogram(
		"feedsync_run_duration_seconds",
		metric.WithDescription("Duration of bulk and on-demand runs in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800),
	)
	if err != nil {
		return nil, err
	}

	sourceRuns, err := meter.Int64Counter(
		"feedsync_source_runs_total",
		metric.WithDescription("Pipeline executions per source"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	queueDepth, err := meter.Int64Gauge(
		"feedsync_queue_depth",
		metric.WithDescription("Number of on-demand requests waiting for the lock"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	queueEvicted, err := meter.Int64Counter(
		"feedsync_queue_evictions_total",
		metric.WithDescription("Queued requests dropped because they went stale"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	queueAdmitted, err := meter.Int64Counter(
		"feedsync_requests_total",
		metric.WithDescription("On-demand requests by admission outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		runDuration:   runDuration,
		sourceRuns:    sourceRuns,
		queueDepth:    queueDepth,
		queueEvicted:  queueEvicted,
		queueAdmitted: queueAdmitted,
	}, nil
}

// RecordRunDuration records how long a lock-holding run took
func (m *SyncMetrics) RecordRunDuration(ctx context.Context, kind string, duration time.Duration, success bool) {
	if m == nil || m.runDuration == nil {
		return
	}

	m.runDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("success", success),
	))
}

// RecordSourceRun counts one pipeline execution for a source
func (m *SyncMetrics) RecordSourceRun(ctx context.Context, sourceID string, success, degraded bool) {
	if m == nil || m.sourceRuns == nil {
		return
	}

	m.sourceRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", sourceID),
		attribute.Bool("success", success),
		attribute.Bool("degraded", degraded),
	))
}

// RecordQueueDepth records the current queue length
func (m *SyncMetrics) RecordQueueDepth(ctx context.Context, depth int) {
	if m == nil || m.queueDepth == nil {
		return
	}
	m.queueDepth.Record(ctx, int64(depth))
}

// RecordEviction counts a stale queue entry that was dropped
func (m *SyncMetrics) RecordEviction(ctx context.Context, sourceID string) {
	if m == nil || m.queueEvicted == nil {
		return
	}
	m.queueEvicted.Add(ctx, 1, metric.WithAttributes(attribute.String("source", sourceID)))
}

// RecordAdmission counts an on-demand request by how it was admitted (completed, failed or queued)
func (m *SyncMetrics) RecordAdmission(ctx context.Context, status string) {
	if m == nil || m.queueAdmitted == nil {
		return
	}
	m.queueAdmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// DiscoveryMetrics holds the instruments recorded by the discovery engine
type DiscoveryMetrics struct {
	strategyCalls    metric.Int64Counter
	strategyDuration metric.Float64Histogram
}

// NewDiscoveryMetrics creates the discovery instruments.
// If provider is nil, it returns nil (no-op metrics).
func NewDiscoveryMetrics(provider metric.MeterProvider) (*DiscoveryMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(DiscoveryMetricsMeterName)

	strategyCalls, err := meter.Int64Counter(
		"feedsync_discovery_strategy_total",
		metric.WithDescription("Discovery strategy invocations by outcome"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	strategyDuration, err := meter.Float64Histogram(
		"feedsync_discovery_strategy_duration_seconds",
		metric.WithDescription("Duration of discovery strategy calls in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, err
	}

	return &DiscoveryMetrics{
		strategyCalls:    strategyCalls,
		strategyDuration: strategyDuration,
	}, nil
}

// RecordStrategy records one strategy call and its outcome
func (m *DiscoveryMetrics) RecordStrategy(
	ctx context.Context, sourceID, strategy, outcome string, duration time.Duration,
) {
	if m == nil || m.strategyCalls == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("source", sourceID),
		attribute.String("strategy", strategy),
		attribute.String("outcome", outcome),
	)
	m.strategyCalls.Add(ctx, 1, attrs)
	m.strategyDuration.Record(ctx, duration.Seconds(), attrs)
}

// FetchMetrics holds the instruments recorded by the fetch executor
type FetchMetrics struct {
	items metric.Int64Counter
}

// NewFetchMetrics creates the fetch instruments.
// If provider is nil, it returns nil (no-op metrics).
func NewFetchMetrics(provider metric.MeterProvider) (*FetchMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	items, err := provider.Meter(FetchMetricsMeterName).Int64Counter(
		"feedsync_items_total",
		metric.WithDescription("Items processed by the fetch executor by outcome"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, err
	}

	return &FetchMetrics{items: items}, nil
}

// RecordItem counts one item by outcome
func (m *FetchMetrics) RecordItem(ctx context.Context, sourceID, outcome string) {
	if m == nil || m.items == nil {
		return
	}
	m.items.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", sourceID),
		attribute.String("outcome", outcome),
	))
}
