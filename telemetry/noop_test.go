package telemetry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"

	"github.com/amelia-run/amelia/telemetry"
)

func TestNoopLogger(_ *testing.T) {
	ctx := context.Background()
	var log telemetry.Logger = telemetry.NoopLogger{}

	log.Debug(ctx, "debug message", "key", "value")
	log.Info(ctx, "info message", "key", "value")
	log.Warn(ctx, "warn message", "key", "value")
	log.Error(ctx, "error message", "key", "value")
}

func TestNoopMetrics(_ *testing.T) {
	var metrics telemetry.Metrics = telemetry.NoopMetrics{}

	metrics.IncCounter("test.counter", 1.0, "env", "test")
	metrics.RecordTimer("test.timer", 100*time.Millisecond, "env", "test")
	metrics.RecordGauge("test.gauge", 42.0, "env", "test")
}

func TestNoopTracer(t *testing.T) {
	ctx := context.Background()
	var tracer telemetry.Tracer = telemetry.NoopTracer{}

	newCtx, span := tracer.Start(ctx, "test.operation")
	require.Equal(t, ctx, newCtx)
	require.NotNil(t, span)

	span.AddEvent("test.event", "key", "value")
	span.SetStatus(codes.Ok, "completed")
	span.RecordError(errors.New("test error"))
	span.End()

	span2 := tracer.Span(ctx)
	require.NotNil(t, span2)
}

func TestNewNoopProvider(t *testing.T) {
	p := telemetry.NewNoopProvider()
	require.NotNil(t, p.Log)
	require.NotNil(t, p.Metrics)
	require.NotNil(t, p.Tracer)
}
