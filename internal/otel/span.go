// Package otel provides OpenTelemetry span helpers shared by the discovery, fetch and sync layers.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys used on spans across the application.
const (
	AttrSourceID      = attribute.Key("source.id")
	AttrStrategyName  = attribute.Key("discovery.strategy")
	AttrLimit         = attribute.Key("discovery.limit")
	AttrResultCount   = attribute.Key("result.count")
	AttrDegraded      = attribute.Key("discovery.degraded")
	AttrItemID        = attribute.Key("item.id")
	AttrRunKind       = attribute.Key("run.kind")
	AttrQueuePosition = attribute.Key("queue.position")
)

// StartSpan starts a new span if the tracer is non-nil, otherwise returns a no-op span.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError records an error on a span and sets the span status to error.
// It safely handles nil spans and nil errors.
// The status description stays generic; the error itself is kept in the span event.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}
