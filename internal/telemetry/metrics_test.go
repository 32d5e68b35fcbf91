package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMeterProvider(t *testing.T) (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	return reader, mp
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestNilMetricsAreNoOps(t *testing.T) {
	t.Parallel()

	sync, err := NewSyncMetrics(nil)
	require.NoError(t, err)
	assert.Nil(t, sync)

	discovery, err := NewDiscoveryMetrics(nil)
	require.NoError(t, err)
	assert.Nil(t, discovery)

	fetch, err := NewFetchMetrics(nil)
	require.NoError(t, err)
	assert.Nil(t, fetch)

	ctx := context.Background()
	assert.NotPanics(t, func() {
		sync.RecordRunDuration(ctx, "bulk", time.Second, true)
		sync.RecordSourceRun(ctx, "news", true, false)
		sync.RecordQueueDepth(ctx, 3)
		sync.RecordEviction(ctx, "news")
		sync.RecordAdmission(ctx, "queued")
		discovery.RecordStrategy(ctx, "news", "feed", StrategyOutcomeAccepted, time.Second)
		fetch.RecordItem(ctx, "news", ItemOutcomeSkipped)
	})
}

func TestSyncMetrics(t *testing.T) {
	t.Parallel()

	reader, mp := newTestMeterProvider(t)
	m, err := NewSyncMetrics(mp)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordRunDuration(ctx, "bulk", 2*time.Second, true)
	m.RecordQueueDepth(ctx, 4)
	m.RecordEviction(ctx, "news")
	m.RecordEviction(ctx, "news")

	metrics := collect(t, reader)

	hist, ok := metrics["feedsync_run_duration_seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
	assert.InDelta(t, 2.0, hist.DataPoints[0].Sum, 0.001)

	gauge, ok := metrics["feedsync_queue_depth"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(4), gauge.DataPoints[0].Value)

	evictions, ok := metrics["feedsync_queue_evictions_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, evictions.DataPoints, 1)
	assert.Equal(t, int64(2), evictions.DataPoints[0].Value)
}

func TestDiscoveryMetrics(t *testing.T) {
	t.Parallel()

	reader, mp := newTestMeterProvider(t)
	m, err := NewDiscoveryMetrics(mp)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordStrategy(ctx, "news", "feed", StrategyOutcomeShort, 100*time.Millisecond)
	m.RecordStrategy(ctx, "news", "page", StrategyOutcomeAccepted, time.Second)

	calls, ok := collect(t, reader)["feedsync_discovery_strategy_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, calls.DataPoints, 2)

	outcomes := make(map[string]int64)
	for _, dp := range calls.DataPoints {
		outcome, _ := dp.Attributes.Value("outcome")
		outcomes[outcome.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{StrategyOutcomeShort: 1, StrategyOutcomeAccepted: 1}, outcomes)
}
