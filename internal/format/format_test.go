package format

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shhac/reflex/internal/domain"
	rerrors "github.com/shhac/reflex/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	unary = domain.MethodDescriptor{
		Name: "Get", Service: "demo.Orders",
		InputType: "demo.GetRequest", OutputType: "demo.Order",
	}
	watch = domain.MethodDescriptor{
		Name: "Watch", Service: "demo.Orders",
		InputType: "demo.GetRequest", OutputType: "demo.Order",
		ServerStreaming: true,
		Description:     "Streams order updates.",
	}
	duplex = domain.MethodDescriptor{
		Name: "Sync", Service: "demo.Orders",
		InputType: "demo.Order", OutputType: "demo.Order",
		ClientStreaming: true, ServerStreaming: true,
	}
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
	}{
		{"", JSON},
		{"json", JSON},
		{"JSON", JSON},
		{" text ", Text},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseFormat("yaml")
	var ve rerrors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "format", ve.Field)
}

func TestSignature(t *testing.T) {
	assert.Equal(t, "rpc Get(demo.GetRequest) returns (demo.Order);", Signature(unary))
	assert.Equal(t, "rpc Watch(demo.GetRequest) returns (stream demo.Order);", Signature(watch))
	assert.Equal(t, "rpc Sync(stream demo.Order) returns (stream demo.Order);", Signature(duplex))
}

func TestServices(t *testing.T) {
	names := []domain.ServiceName{"a.One", "b.Two"}

	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, Text, false, false).Services(names))
	assert.Equal(t, "a.One\nb.Two\n", buf.String())

	buf.Reset()
	require.NoError(t, NewPrinter(&buf, JSON, true, false).Services(names))
	assert.Equal(t, "{\"name\":\"a.One\"}\n{\"name\":\"b.Two\"}\n", buf.String())
}

func TestMethods(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, Text, false, false).Methods([]domain.MethodDescriptor{unary, watch, duplex}))
	assert.Equal(t,
		"demo.Orders.Get\n"+
			"demo.Orders.Watch (server streaming)\n"+
			"demo.Orders.Sync (bidirectional)\n",
		buf.String())

	buf.Reset()
	require.NoError(t, NewPrinter(&buf, JSON, true, false).Methods([]domain.MethodDescriptor{watch}))
	assert.JSONEq(t, `{
		"name": "Watch",
		"service": "demo.Orders",
		"input_type": "demo.GetRequest",
		"output_type": "demo.Order",
		"streaming_type": "server_streaming",
		"client_streaming": false,
		"server_streaming": true,
		"description": "Streams order updates."
	}`, buf.String())
}

func TestService_Text(t *testing.T) {
	sd := &domain.ServiceDescriptor{
		Name:        "demo.Orders",
		Description: "Order management.",
		Methods:     []domain.MethodDescriptor{unary, watch},
	}

	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, Text, false, false).Symbol(domain.Symbol{Kind: domain.SymbolService, Service: sd}))
	assert.Equal(t, `service demo.Orders {
  // Order management.
  rpc Get(demo.GetRequest) returns (demo.Order);
  rpc Watch(demo.GetRequest) returns (stream demo.Order);
    // Streams order updates.
}
`, buf.String())
}

func TestService_JSON(t *testing.T) {
	sd := &domain.ServiceDescriptor{Name: "demo.Orders", Methods: []domain.MethodDescriptor{unary}}

	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, JSON, false, false).Service(sd))
	assert.JSONEq(t, `{
		"name": "demo.Orders",
		"methods": [{
			"name": "Get",
			"input_type": "demo.GetRequest",
			"output_type": "demo.Order",
			"client_streaming": false,
			"server_streaming": false
		}]
	}`, buf.String())
	assert.Contains(t, buf.String(), "\n  \"name\"", "pretty by default")
}

func TestMethod(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, Text, false, false).Method(watch))
	assert.Equal(t, `Method: demo.Orders.Watch (server streaming)
  Service: demo.Orders
  Input type: demo.GetRequest
  Output type: demo.Order
  Description: Streams order updates.
  Signature: rpc Watch(demo.GetRequest) returns (stream demo.Order);
`, buf.String())

	buf.Reset()
	require.NoError(t, NewPrinter(&buf, JSON, true, false).Method(unary))
	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "demo.Orders.Get", got["full_name"])
	assert.Equal(t, "unary", got["streaming_type"])
}

func TestResponse(t *testing.T) {
	msg := json.RawMessage(`{"id":"o-1","total":{"units":"12"},"tags":["a","b"],"paid":true}`)

	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, JSON, true, false).Response(1, msg, false))
	assert.Equal(t, string(msg)+"\n", buf.String())

	buf.Reset()
	require.NoError(t, NewPrinter(&buf, JSON, false, false).Response(1, json.RawMessage(`{"a":1}`), false))
	assert.Equal(t, "{\n  \"a\": 1\n}\n", buf.String())

	buf.Reset()
	require.NoError(t, NewPrinter(&buf, Text, false, false).Response(1, msg, false))
	assert.Equal(t, `Response:
id: o-1
total:
  units: 12
tags:
  [0]: a
  [1]: b
paid: true
`, buf.String())

	buf.Reset()
	require.NoError(t, NewPrinter(&buf, Text, true, false).Response(2, json.RawMessage(`{"a": 1}`), true))
	assert.Equal(t, "[2] {\"a\":1}\n", buf.String())
}

func TestResponse_Invalid(t *testing.T) {
	var buf bytes.Buffer
	err := NewPrinter(&buf, JSON, true, false).Response(1, json.RawMessage(`{`), false)
	assert.Error(t, err)
}

func TestStreamComplete(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, JSON, true, false).StreamComplete(3))
	assert.Equal(t, "{\"stream_complete\":true,\"total_responses\":3}\n", buf.String())

	buf.Reset()
	require.NoError(t, NewPrinter(&buf, Text, false, false).StreamComplete(3))
	assert.Equal(t, "Stream completed. Total responses: 3\n", buf.String())
}

func TestError(t *testing.T) {
	callErr := rerrors.FromRPC("call", "demo.Orders/Get", status.Error(codes.NotFound, "order o-9 missing"))
	rep := rerrors.Classify(callErr)

	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, Text, false, false).Error(rep))
	assert.Equal(t, "Error 5: order o-9 missing\n", buf.String())

	buf.Reset()
	require.NoError(t, NewPrinter(&buf, JSON, true, false).Error(rep))
	var got struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, 5, got.Error.Code)
	assert.Equal(t, "order o-9 missing", got.Error.Message)
}

func TestError_Local(t *testing.T) {
	rep := rerrors.Classify(rerrors.New(rerrors.TransportFailure, "connect", "localhost:1", errors.New("refused")))

	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, Text, false, true).Error(rep))
	out := buf.String()
	assert.Contains(t, out, "Error: Connection Failed: Unable to connect to the server.\n")
	assert.Contains(t, out, "  - Use --plaintext for servers without TLS\n")
}

func TestHistory(t *testing.T) {
	entries := []domain.HistoryEntry{{
		ID:        "1",
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Endpoint:  "localhost:50051",
		Method:    "demo.Orders/Get",
		Request:   json.RawMessage(`{}`),
		Duration:  1500 * time.Microsecond,
		Status:    "success",
	}}

	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, Text, false, false).History(entries))
	assert.Contains(t, buf.String(), "TIME")
	assert.Contains(t, buf.String(), "demo.Orders/Get")
	assert.Contains(t, buf.String(), "2ms")

	buf.Reset()
	require.NoError(t, NewPrinter(&buf, JSON, true, false).History(nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestServersAndSaved(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, Text, false, false).Servers([]ServerRow{
		{ID: "local", Name: "Local", Endpoint: "localhost:9090", Security: "plaintext"},
	}))
	assert.Contains(t, buf.String(), "local")
	assert.Contains(t, buf.String(), "plaintext")

	buf.Reset()
	require.NoError(t, NewPrinter(&buf, JSON, true, false).SavedRequests([]domain.SavedRequest{
		{Name: "get", Method: "demo.Orders/Get"},
	}))
	assert.Contains(t, buf.String(), `"name":"get"`)
}

func TestRecentEndpoints(t *testing.T) {
	recent := []domain.RecentEndpoint{
		{Endpoint: "localhost:9090", Plaintext: true, LastUsed: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		{Endpoint: "api.example.com:443"},
	}

	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, Text, false, false).RecentEndpoints(recent))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "SECURITY")
	assert.Contains(t, lines[1], "plaintext")
	assert.Contains(t, lines[2], "tls")
	assert.Contains(t, lines[2], "api.example.com:443")

	buf.Reset()
	require.NoError(t, NewPrinter(&buf, JSON, true, false).RecentEndpoints(nil))
	assert.Equal(t, "[]\n", buf.String())
}
