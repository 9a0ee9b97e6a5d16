// Package otel provides the OpenTelemetry tracer used around forwarding
// tasks and outbound relay calls.
package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Span attribute keys.
const (
	AttrTaskKey     = attribute.Key("relay.task.key")
	AttrTaskKind    = attribute.Key("relay.task.kind")
	AttrTaskAttempt = attribute.Key("relay.task.attempt")
	AttrTarget      = attribute.Key("relay.target")
)

// Tracer wraps an OpenTelemetry tracer and propagator.
type Tracer struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// NewTracer creates a tracer from provider.
func NewTracer(serviceName string, provider trace.TracerProvider) *Tracer {
	return &Tracer{
		tracer:     provider.Tracer(serviceName),
		propagator: otel.GetTextMapPropagator(),
	}
}

// NewNopTracer returns a tracer whose spans record nothing.
func NewNopTracer() *Tracer {
	return &Tracer{
		tracer:     noop.NewTracerProvider().Tracer("relayberry"),
		propagator: propagation.NewCompositeTextMapPropagator(),
	}
}

// StartTask starts the span for one attempt of a forwarding task.
func (t *Tracer) StartTask(ctx context.Context, kind, key string, attempt int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "forward."+kind,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			AttrTaskKey.String(key),
			AttrTaskKind.String(kind),
			AttrTaskAttempt.Int(attempt),
		),
	)
}

// StartSpan starts a span with the given name and attributes.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// End records err on span, sets its status and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Inject writes the span context of ctx into carrier.
func (t *Tracer) Inject(ctx context.Context, carrier propagation.TextMapCarrier) {
	t.propagator.Inject(ctx, carrier)
}

// Extract reads a span context from carrier into ctx.
func (t *Tracer) Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return t.propagator.Extract(ctx, carrier)
}
