package otelhelper

import (
	"context"
	"errors"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// CancelledKey marks failures caused by a cancelled or timed out run rather than by the node.
const CancelledKey = "stockpipe.cancelled"

// SetError records err on the span and marks it failed. The "pipeline.error" event carries attrs
// and whether the run was cancelled.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	cancelled := errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.AddEvent("pipeline.error", trace.WithAttributes(
		append(slices.Clip(attrs), attribute.Bool(CancelledKey, cancelled))...,
	))
}
