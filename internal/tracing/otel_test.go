package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitOpenTelemetryReinstallsAfterShutdown(t *testing.T) {
	require.NoError(t, InitOpenTelemetry(Options{ServiceName: "abitur-test", ServiceVersion: "0.0.1"}))
	first := provider
	require.NotNil(t, first)

	// Second init keeps the installed provider.
	require.NoError(t, InitOpenTelemetry(Options{ServiceName: "abitur-test"}))
	assert.Same(t, first, provider)

	require.NoError(t, ShutdownOpenTelemetry(context.Background()))
	assert.Nil(t, provider)
	require.NoError(t, ShutdownOpenTelemetry(context.Background()))

	require.NoError(t, InitOpenTelemetry(Options{ServiceName: "abitur-test", SampleRatio: 0.5}))
	assert.NotSame(t, first, provider)
	t.Cleanup(func() { _ = ShutdownOpenTelemetry(context.Background()) })
}

func TestStartSpanCopiesTraceID(t *testing.T) {
	require.NoError(t, InitOpenTelemetry(Options{ServiceName: "abitur-test"}))
	t.Cleanup(func() { _ = ShutdownOpenTelemetry(context.Background()) })

	ctx, span := StartSpan(context.Background(), "abitur.test", "test.span")
	defer span.End()

	require.True(t, span.SpanContext().IsValid())
	assert.Equal(t, span.SpanContext().TraceID().String(), GetTraceID(ctx))
}

func TestStartSpanKeepsRequestTraceID(t *testing.T) {
	require.NoError(t, InitOpenTelemetry(Options{ServiceName: "abitur-test"}))
	t.Cleanup(func() { _ = ShutdownOpenTelemetry(context.Background()) })

	ctx := NewRequestContext(context.Background(), "777")
	want := GetTraceID(ctx)

	ctx, span := StartSpan(ctx, "abitur.test", "test.span")
	defer span.End()

	assert.Equal(t, want, GetTraceID(ctx))
	assert.Equal(t, "777", GetUserID(ctx))
}

func TestRecordError(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, ok := tp.Tracer("abitur.test").Start(context.Background(), "ok")
	RecordError(ok, nil)
	ok.End()

	_, failed := tp.Tracer("abitur.test").Start(context.Background(), "failed")
	RecordError(failed, errors.New("store unavailable"))
	failed.End()

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "store unavailable", spans[1].Status().Description)
	require.Len(t, spans[1].Events(), 1)
	assert.Equal(t, "exception", spans[1].Events()[0].Name)
}
