package grpc

import (
	"context"
	"errors"
	"testing"

	"github.com/shhac/reflex/internal/domain"
	rerrors "github.com/shhac/reflex/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
)

// ---------------------------------------------------------------------------
// Server reflection against the in-process server
// ---------------------------------------------------------------------------

func TestListServices(t *testing.T) {
	rc := NewReflectionClient(testConn, testLogger)

	services, err := rc.ListServices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.ServiceName{"grpc.testing.TestService"}, services)
}

func TestResolveService_Cached(t *testing.T) {
	rc := NewReflectionClient(testConn, testLogger)
	ctx := context.Background()

	sd, err := rc.Service(ctx, "grpc.testing.TestService")
	require.NoError(t, err)
	assert.Equal(t, domain.ServiceName("grpc.testing.TestService"), sd.Name)
	assert.Equal(t, int64(1), rc.RoundTrips())

	again, err := rc.Service(ctx, "grpc.testing.TestService")
	require.NoError(t, err)
	assert.Equal(t, sd, again)
	assert.Equal(t, int64(1), rc.RoundTrips(), "second lookup must not touch the network")

	// Hits are clones.
	again.Methods[0].Name = "Mutated"
	third, err := rc.Service(ctx, "grpc.testing.TestService")
	require.NoError(t, err)
	assert.NotEqual(t, domain.MethodName("Mutated"), third.Methods[0].Name)
}

func TestFileContainingSymbol_IndexesDependencies(t *testing.T) {
	rc := NewReflectionClient(testConn, testLogger)
	ctx := context.Background()

	fd, err := rc.FileContainingSymbol(ctx, "grpc.testing.TestService")
	require.NoError(t, err)
	assert.Equal(t, "grpc/testing/test.proto", fd.GetName())
	require.Equal(t, int64(1), rc.RoundTrips())

	// The server sent the imports along; their symbols are already known.
	msgs, err := rc.FileContainingSymbol(ctx, "grpc.testing.SimpleRequest")
	require.NoError(t, err)
	assert.Equal(t, "grpc/testing/messages.proto", msgs.GetName())

	_, err = rc.FileByFilename(ctx, "grpc/testing/messages.proto")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rc.RoundTrips())
}

func TestFileContainingSymbol_NotFound(t *testing.T) {
	rc := NewReflectionClient(testConn, testLogger)

	_, err := rc.FileContainingSymbol(context.Background(), "no.such.Thing")
	require.Error(t, err)
	assert.ErrorIs(t, err, rerrors.ErrReflectionProtocolError)

	var re *rerrors.ReflectionError
	require.ErrorAs(t, err, &re)
	assert.Contains(t, err.Error(), "reflection error: 5")
}

func TestResolveSymbol_Reflection(t *testing.T) {
	rc := NewReflectionClient(testConn, testLogger)
	ctx := context.Background()

	sym, err := rc.ResolveSymbol(ctx, "grpc.testing.TestService/UnaryCall")
	require.NoError(t, err)
	assert.Equal(t, domain.SymbolMethod, sym.Kind)
	assert.Equal(t, "grpc.testing.TestService.UnaryCall", sym.Name())
}

// ---------------------------------------------------------------------------
// Symbol resolution over a fake source
// ---------------------------------------------------------------------------

func TestResolveSymbol(t *testing.T) {
	src := compileSource(t, orderSources)
	ctx := context.Background()

	tests := []struct {
		symbol string
		kind   domain.SymbolKind
		name   string
	}{
		{"demo.Orders", domain.SymbolService, "demo.Orders"},
		{"demo.Orders.GetOrder", domain.SymbolMethod, "demo.Orders.GetOrder"},
		{"demo.Orders/Watch", domain.SymbolMethod, "demo.Orders.Watch"},
	}
	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			sym, err := src.ResolveSymbol(ctx, tt.symbol)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, sym.Kind)
			assert.Equal(t, tt.name, sym.Name())
		})
	}
}

func TestResolveSymbol_NotFound(t *testing.T) {
	src := compileSource(t, orderSources)

	for _, symbol := range []string{"demo.Money", "demo.Orders.Nope", "nothing"} {
		t.Run(symbol, func(t *testing.T) {
			_, err := src.ResolveSymbol(context.Background(), symbol)
			require.Error(t, err)
			assert.ErrorIs(t, err, rerrors.ErrSymbolNotFound)
			assert.Contains(t, err.Error(), "symbol not found: "+symbol)
			assert.Contains(t, err.Error(), "'ServiceName' or 'ServiceName.MethodName' or 'ServiceName/MethodName'")
		})
	}
}

func TestResolveSymbol_TransportFailureStops(t *testing.T) {
	var calls int
	lookup := func(context.Context, domain.ServiceName) (*domain.ServiceDescriptor, error) {
		calls++
		return nil, rerrors.Newf(rerrors.TransportFailure, "connect", "x:1", "refused")
	}

	_, err := resolveSymbol(context.Background(), lookup, "a.B.C")
	assert.ErrorIs(t, err, rerrors.ErrTransportFailure)
	assert.Equal(t, 1, calls)
}

func TestResolveSymbol_OnlyLookupMissesFallThrough(t *testing.T) {
	stops := []error{
		rerrors.FromRPC("resolve service", "a.B", status.Error(codes.PermissionDenied, "no access")),
		rerrors.FromRPC("resolve service", "a.B", status.Error(codes.Internal, "boom")),
		rerrors.New(rerrors.DecodeFailure, "resolve service", "a.B", errors.New("bad descriptor")),
	}
	for _, stop := range stops {
		t.Run(stop.Error(), func(t *testing.T) {
			var calls int
			lookup := func(context.Context, domain.ServiceName) (*domain.ServiceDescriptor, error) {
				calls++
				return nil, stop
			}
			_, err := resolveSymbol(context.Background(), lookup, "a.B.C")
			assert.Same(t, stop, err)
			assert.Equal(t, 1, calls)
		})
	}

	// Misses and protocol errors move on to the next split.
	var tried []domain.ServiceName
	lookup := func(_ context.Context, name domain.ServiceName) (*domain.ServiceDescriptor, error) {
		tried = append(tried, name)
		if len(tried) == 1 {
			return nil, rerrors.Newf(rerrors.ReflectionProtocolError, "resolve service", string(name), "not found")
		}
		return nil, rerrors.Newf(rerrors.SymbolNotFound, "resolve service", string(name), "no service")
	}
	_, err := resolveSymbol(context.Background(), lookup, "a.B/C.D")
	assert.ErrorIs(t, err, rerrors.ErrSymbolNotFound)
	assert.Equal(t, []domain.ServiceName{"a.B/C.D", "a.B/C", "a.B"}, tried)
}

func TestServiceFromFile(t *testing.T) {
	src := compileSource(t, orderSources)
	fd := src.files["demo/orders.proto"]

	for _, name := range []domain.ServiceName{"demo.Orders", "Orders"} {
		sd, err := serviceFromFile(fd, name)
		require.NoError(t, err)
		assert.Equal(t, domain.ServiceName("demo.Orders"), sd.Name)
		require.Len(t, sd.Methods, 4)

		shapes := []domain.Shape{domain.Unary, domain.ServerStream, domain.ClientStream, domain.BiDirectional}
		for i, m := range sd.Methods {
			assert.Equal(t, shapes[i], m.Shape(), m.Name)
		}
		assert.Equal(t, "demo.GetOrderRequest", sd.Methods[0].InputType)
		assert.Equal(t, "demo.Order", sd.Methods[0].OutputType)
	}

	_, err := serviceFromFile(fd, "demo.Missing")
	assert.ErrorIs(t, err, rerrors.ErrSymbolNotFound)
}

func TestServiceFromFile_Comments(t *testing.T) {
	fd := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("c.proto"),
		Package: proto.String("c"),
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String("Svc"),
			Method: []*descriptorpb.MethodDescriptorProto{{
				Name:       proto.String("Do"),
				InputType:  proto.String(".c.Req"),
				OutputType: proto.String(".c.Resp"),
			}},
		}},
		SourceCodeInfo: &descriptorpb.SourceCodeInfo{
			Location: []*descriptorpb.SourceCodeInfo_Location{
				{Path: []int32{6, 0}, LeadingComments: proto.String(" Svc does things.\n")},
				{Path: []int32{6, 0, 2, 0}, LeadingComments: proto.String(" Do one thing.\n")},
			},
		},
	}

	sd, err := serviceFromFile(fd, "c.Svc")
	require.NoError(t, err)
	assert.Equal(t, "Svc does things.", sd.Description)
	assert.Equal(t, "Do one thing.", sd.Methods[0].Description)
}

func TestFileSymbols(t *testing.T) {
	src := compileSource(t, orderSources)

	syms := fileSymbols(src.files["demo/orders.proto"])
	assert.ElementsMatch(t, []string{
		"demo.Orders",
		"demo.GetOrderRequest",
		"demo.Order",
		"demo.Order.Line",
	}, syms)
}
