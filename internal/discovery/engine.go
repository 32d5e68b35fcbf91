package discovery

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/feedsync/internal/otel"
	"github.com/stacklok/feedsync/internal/sources"
	"github.com/stacklok/feedsync/internal/telemetry"
)

// DefaultStrategyTimeout applies to strategies that do not set their own
const DefaultStrategyTimeout = 30 * time.Second

// EngineOption configures the discovery engine
type EngineOption func(*defaultEngine)

// WithMetrics records strategy outcomes
func WithMetrics(m *telemetry.DiscoveryMetrics) EngineOption {
	return func(e *defaultEngine) {
		e.metrics = m
	}
}

// WithTracer emits a span per discovery and per strategy call
func WithTracer(tracer trace.Tracer) EngineOption {
	return func(e *defaultEngine) {
		e.tracer = tracer
	}
}

// WithDefaultTimeout overrides DefaultStrategyTimeout
func WithDefaultTimeout(d time.Duration) EngineOption {
	return func(e *defaultEngine) {
		if d > 0 {
			e.defaultTimeout = d
		}
	}
}

type defaultEngine struct {
	factory        StrategyFactory
	metrics        *telemetry.DiscoveryMetrics
	tracer         trace.Tracer
	defaultTimeout time.Duration
}

var _ Engine = (*defaultEngine)(nil)

// NewEngine creates a discovery engine drawing strategies from factory
func NewEngine(factory StrategyFactory, opts ...EngineOption) Engine {
	e := &defaultEngine{
		factory:        factory,
		defaultTimeout: DefaultStrategyTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Discover tries the strategies of src in order and returns the first result
// reaching the acceptance threshold, or the best one seen once all were tried.
func (e *defaultEngine) Discover(ctx context.Context, src *sources.Source, limit int) (*Result, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	ctx, span := otel.StartSpan(ctx, e.tracer, "discovery.Discover",
		trace.WithAttributes(otel.AttrSourceID.String(src.ID), otel.AttrLimit.Int(limit)))
	defer span.End()

	strategies, err := e.factory.StrategiesFor(src)
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to build strategies for source %s: %w", src.ID, err)
	}
	if len(strategies) == 0 {
		return nil, fmt.Errorf("source %s has no discovery strategies", src.ID)
	}

	threshold := AcceptanceThreshold(limit)

	var (
		best    *Result
		lastErr error
	)

	for _, strategy := range strategies {
		items, err := e.runStrategy(ctx, strategy, src, limit)
		if err != nil {
			if IsContentError(err) {
				slog.Warn("Discovery aborted by content error",
					"source", src.ID, "strategy", strategy.Name(), "error", err)
				otel.RecordError(span, err)
				return nil, fmt.Errorf("strategy %s for source %s: %w", strategy.Name(), src.ID, err)
			}
			if ctx.Err() != nil {
				otel.RecordError(span, ctx.Err())
				return nil, fmt.Errorf("discovery for source %s interrupted: %w", src.ID, ctx.Err())
			}
			slog.Warn("Discovery strategy failed, trying next",
				"source", src.ID, "strategy", strategy.Name(), "error", err)
			lastErr = err
			continue
		}

		if len(items) >= threshold {
			slog.Debug("Discovery strategy accepted",
				"source", src.ID, "strategy", strategy.Name(), "count", len(items), "threshold", threshold)
			result := &Result{Items: newestFirst(items, limit), Strategy: strategy.Name()}
			span.SetAttributes(otel.AttrStrategyName.String(result.Strategy), otel.AttrResultCount.Int(len(result.Items)))
			return result, nil
		}

		slog.Info("Discovery strategy returned too few items, trying next",
			"source", src.ID, "strategy", strategy.Name(), "count", len(items), "threshold", threshold)
		if best == nil || len(items) > len(best.Items) {
			best = &Result{Items: items, Strategy: strategy.Name()}
		}
	}

	if (best == nil || len(best.Items) == 0) && lastErr != nil {
		err := fmt.Errorf("%w for source %s: %w", ErrDiscoveryExhausted, src.ID, lastErr)
		otel.RecordError(span, err)
		return nil, err
	}

	best.Items = newestFirst(best.Items, limit)
	best.Degraded = true
	best.Warning = fmt.Sprintf("no strategy reached %d items; using %d from %s",
		threshold, len(best.Items), best.Strategy)

	slog.Warn("Discovery degraded", "source", src.ID, "strategy", best.Strategy,
		"count", len(best.Items), "threshold", threshold)
	span.SetAttributes(
		otel.AttrStrategyName.String(best.Strategy),
		otel.AttrResultCount.Int(len(best.Items)),
		otel.AttrDegraded.Bool(true),
	)

	return best, nil
}

// runStrategy calls one strategy under its timeout and returns its de-duplicated items
func (e *defaultEngine) runStrategy(
	ctx context.Context, strategy Strategy, src *sources.Source, limit int,
) ([]ItemDescriptor, error) {
	timeout := strategy.Timeout()
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	ctx, span := otel.StartSpan(ctx, e.tracer, "discovery.Strategy",
		trace.WithAttributes(otel.AttrSourceID.String(src.ID), otel.AttrStrategyName.String(strategy.Name())))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	items, err := strategy.Discover(callCtx, src, limit)
	duration := time.Since(start)

	switch {
	case err != nil && IsContentError(err):
		e.metrics.RecordStrategy(ctx, src.ID, strategy.Name(), telemetry.StrategyOutcomeContent, duration)
		otel.RecordError(span, err)
		return nil, err
	case err != nil:
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("strategy timed out after %s: %w", timeout, err)
		}
		e.metrics.RecordStrategy(ctx, src.ID, strategy.Name(), telemetry.StrategyOutcomeError, duration)
		otel.RecordError(span, err)
		return nil, err
	}

	items = dedupe(items)
	outcome := telemetry.StrategyOutcomeShort
	if len(items) >= AcceptanceThreshold(limit) {
		outcome = telemetry.StrategyOutcomeAccepted
	}
	e.metrics.RecordStrategy(ctx, src.ID, strategy.Name(), outcome, duration)
	span.SetAttributes(otel.AttrResultCount.Int(len(items)))

	return items, nil
}

// dedupe drops items with an empty or repeated id, keeping the first occurrence
func dedupe(items []ItemDescriptor) []ItemDescriptor {
	seen := make(map[string]struct{}, len(items))
	out := make([]ItemDescriptor, 0, len(items))
	for _, item := range items {
		if item.ID == "" {
			continue
		}
		if _, ok := seen[item.ID]; ok {
			continue
		}
		seen[item.ID] = struct{}{}
		out = append(out, item)
	}
	return out
}

// newestFirst sorts by publish time, undated items last in their original
// order, and truncates to limit
func newestFirst(items []ItemDescriptor, limit int) []ItemDescriptor {
	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, func(a, b ItemDescriptor) int {
		switch {
		case a.Published.IsZero() && b.Published.IsZero():
			return 0
		case a.Published.IsZero():
			return 1
		case b.Published.IsZero():
			return -1
		}
		return cmp.Compare(b.Published.UnixNano(), a.Published.UnixNano())
	})
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}
