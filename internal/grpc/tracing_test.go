package grpc

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func spanAttrs(s sdktrace.ReadOnlySpan) map[attribute.Key]string {
	out := make(map[attribute.Key]string)
	for _, kv := range s.Attributes() {
		out[kv.Key] = kv.Value.Emit()
	}
	return out
}

func TestClient_CallSpan(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	c := newTestClient(t, WithTracerProvider(tp))

	_, err := c.Call(context.Background(), "grpc.testing.TestService/UnaryCall", json.RawMessage(`{}`))
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "reflex.call", spans[0].Name())

	attrs := spanAttrs(spans[0])
	assert.Equal(t, "grpc.testing.TestService", attrs["rpc.service"])
	assert.Equal(t, "UnaryCall", attrs["rpc.method"])
	assert.Equal(t, "unary", attrs["rpc.shape"])
	assert.Equal(t, testAddr, attrs["net.peer.name"])
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
}

func TestClient_SpanRecordsError(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	c := newTestClient(t, WithTracerProvider(tp))

	_, err := c.Describe(context.Background(), "no.such.Service")
	require.Error(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "reflex.resolve", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	require.NotEmpty(t, spans[0].Events())
	assert.Equal(t, "exception", spans[0].Events()[0].Name)
}
