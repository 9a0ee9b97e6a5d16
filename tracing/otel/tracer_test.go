package otel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer(t *testing.T) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithSpanProcessor(recorder),
	)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	tracer := NewTracer("test", provider)
	tracer.propagator = propagation.TraceContext{}
	return tracer, recorder
}

func TestTracer_StartTask(t *testing.T) {
	tracer, recorder := newRecordingTracer(t)

	_, span := tracer.StartTask(context.Background(), "send_state", "r1", 2)
	End(span, nil)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "forward.send_state", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)

	attrs := map[string]any{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, "r1", attrs["relay.task.key"])
	assert.Equal(t, "send_state", attrs["relay.task.kind"])
	assert.Equal(t, int64(2), attrs["relay.task.attempt"])
}

func TestTracer_EndWithError(t *testing.T) {
	tracer, recorder := newRecordingTracer(t)

	_, span := tracer.StartSpan(context.Background(), "dial")
	End(span, errors.New("connection refused"))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "connection refused", spans[0].Status().Description)
	require.Len(t, spans[0].Events(), 1)
}

func TestTracer_InjectExtract(t *testing.T) {
	tracer, _ := newRecordingTracer(t)

	ctx, span := tracer.StartSpan(context.Background(), "outbound")
	defer span.End()

	carrier := propagation.MapCarrier{}
	tracer.Inject(ctx, carrier)
	require.NotEmpty(t, carrier.Get("traceparent"))

	extracted := tracer.Extract(context.Background(), carrier)
	_, child := tracer.StartSpan(extracted, "inbound")
	defer child.End()
	assert.Equal(t, span.SpanContext().TraceID(), child.SpanContext().TraceID())
}

func TestNopTracer(t *testing.T) {
	tracer := NewNopTracer()
	_, span := tracer.StartTask(context.Background(), "k", "r1", 1)
	assert.False(t, span.IsRecording())
	End(span, errors.New("ignored"))
}
