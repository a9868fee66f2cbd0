package logger

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func bufferLogger() (*zap.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	core := zapcore.NewCore(encoder, zapcore.AddSync(&buf), zapcore.DebugLevel)
	return zap.New(core), &buf
}

func TestFromContext(t *testing.T) {
	logger, err := NewForEnvironment("development")
	require.NoError(t, err)

	assert.Same(t, logger, FromContext(WithContext(context.Background(), logger)))

	t.Run("missing logger falls back to nop", func(t *testing.T) {
		assert.NotPanics(t, func() { FromContext(context.Background()).Info("test") })
	})

	t.Run("wrong value type falls back to nop", func(t *testing.T) {
		ctx := context.WithValue(context.Background(), LoggerKey, "not a logger")
		assert.NotPanics(t, func() { FromContext(ctx).Info("test") })
	})
}

func TestContextChaining(t *testing.T) {
	logger := zap.NewNop()
	ctx := context.Background()

	ctx, logger = WithRequestID(ctx, logger, "req-1")
	ctx, logger = WithSyncGUID(ctx, logger, "8f9e3c2a-guid")
	ctx, logger = WithActor(ctx, logger, "rebuild")

	assert.Equal(t, "req-1", GetRequestID(ctx))
	assert.Equal(t, "8f9e3c2a-guid", GetSyncGUID(ctx))
	assert.Equal(t, "rebuild", GetActor(ctx))
	assert.Same(t, logger, FromContext(ctx))
}

func TestGetters_NotFound(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetRequestID(ctx))
	assert.Empty(t, GetSyncGUID(ctx))
	assert.Empty(t, GetActor(ctx))
	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, GetSpanID(ctx))
}

func TestTraceCorrelation(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	assert.Equal(t, span.SpanContext().TraceID().String(), GetTraceID(ctx))
	assert.Equal(t, span.SpanContext().SpanID().String(), GetSpanID(ctx))

	base, buf := bufferLogger()
	WithTraceContext(ctx, base).Info("traced")
	assert.Contains(t, buf.String(), `"trace_id":"`+GetTraceID(ctx)+`"`)
	assert.Contains(t, buf.String(), `"span_id":"`+GetSpanID(ctx)+`"`)

	assert.Same(t, base, WithTraceContext(context.Background(), base))
}

func TestContextLogger_EnrichesWithContextFields(t *testing.T) {
	base, buf := bufferLogger()

	ctx := context.Background()
	ctx = context.WithValue(ctx, RequestIDKey, "req-123")
	ctx = context.WithValue(ctx, SyncGUIDKey, "guid-456")
	ctx = context.WithValue(ctx, ActorKey, "http")
	ctx = WithContext(ctx, base)

	L(ctx).Info("test message", zap.String("extra_field", "extra_value"))

	output := buf.String()
	assert.Contains(t, output, `"request_id":"req-123"`)
	assert.Contains(t, output, `"sync_guid":"guid-456"`)
	assert.Contains(t, output, `"actor":"http"`)
	assert.Contains(t, output, `"extra_field":"extra_value"`)
	assert.Contains(t, output, `"msg":"test message"`)
}

func TestContextLogger_EmptyContextFields(t *testing.T) {
	base, buf := bufferLogger()

	WithLogger(context.Background(), base).Warn("test")

	output := buf.String()
	assert.Contains(t, output, `"msg":"test"`)
	assert.NotContains(t, output, `"request_id"`)
	assert.NotContains(t, output, `"sync_guid"`)
	assert.NotContains(t, output, `"actor"`)
}

func TestContextLogger_With(t *testing.T) {
	base, buf := bufferLogger()

	cl := WithLogger(context.Background(), base).
		With(zap.String("field1", "value1")).
		With(zap.String("field2", "value2"))
	cl.Error("chained")

	assert.Contains(t, buf.String(), `"field1":"value1"`)
	assert.Contains(t, buf.String(), `"field2":"value2"`)
	assert.NotNil(t, cl.Zap())
}

func TestContextLogger_NilLogger(t *testing.T) {
	cl := WithLogger(context.Background(), nil)
	assert.NotPanics(t, func() {
		cl.Debug("test")
		cl.With(zap.String("k", "v")).Info("test")
	})
}

func TestCorrelationFields(t *testing.T) {
	assert.Empty(t, CorrelationFields(context.Background()))

	ctx := context.WithValue(context.Background(), ActorKey, "sweeper")
	ctx = context.WithValue(ctx, RequestIDKey, "req-9")

	fields := CorrelationFields(ctx)
	require.Len(t, fields, 2)
	assert.Equal(t, "request_id", fields[0].Key)
	assert.Equal(t, "actor", fields[1].Key)
}
