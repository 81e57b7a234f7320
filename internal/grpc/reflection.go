package grpc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/shhac/reflex/internal/domain"
	rerrors "github.com/shhac/reflex/internal/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	reflectionv1 "google.golang.org/grpc/reflection/grpc_reflection_v1"
	reflectionv1alpha "google.golang.org/grpc/reflection/grpc_reflection_v1alpha"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
)

// SchemaSource answers schema questions about the services behind one
// connection.
type SchemaSource interface {
	ListServices(ctx context.Context) ([]domain.ServiceName, error)
	Service(ctx context.Context, name domain.ServiceName) (*domain.ServiceDescriptor, error)
	ListMethods(ctx context.Context, name domain.ServiceName) ([]domain.MethodDescriptor, error)
	FileContainingSymbol(ctx context.Context, symbol string) (*descriptorpb.FileDescriptorProto, error)
	FileByFilename(ctx context.Context, name string) (*descriptorpb.FileDescriptorProto, error)
	ResolveSymbol(ctx context.Context, symbol string) (domain.Symbol, error)
}

var _ SchemaSource = (*ReflectionClient)(nil)

// reflectionServices are hidden from service listings.
var reflectionServices = map[string]bool{
	"grpc.reflection.v1alpha.ServerReflection": true,
	"grpc.reflection.v1.ServerReflection":      true,
}

// ReflectionClient is a SchemaSource backed by the server reflection
// protocol. File descriptors are cached by filename and services by name;
// cache hits return clones and make no network calls. Safe for concurrent use.
type ReflectionClient struct {
	conn   grpc.ClientConnInterface
	logger *slog.Logger

	useAlpha   atomic.Bool
	roundTrips atomic.Int64

	mu       sync.Mutex
	files    map[string]*descriptorpb.FileDescriptorProto // filename -> file
	symbols  map[string]string                            // fully-qualified symbol -> filename
	services map[domain.ServiceName]*domain.ServiceDescriptor
}

// NewReflectionClient creates a reflection client over conn.
func NewReflectionClient(conn grpc.ClientConnInterface, logger *slog.Logger) *ReflectionClient {
	return &ReflectionClient{
		conn:     conn,
		logger:   logger,
		files:    make(map[string]*descriptorpb.FileDescriptorProto),
		symbols:  make(map[string]string),
		services: make(map[domain.ServiceName]*domain.ServiceDescriptor),
	}
}

// RoundTrips reports how many reflection requests have gone over the wire.
func (r *ReflectionClient) RoundTrips() int64 {
	return r.roundTrips.Load()
}

// ListServices returns all service names exposed by the server, sorted,
// excluding the reflection service itself.
func (r *ReflectionClient) ListServices(ctx context.Context) ([]domain.ServiceName, error) {
	resp, err := r.roundTrip(ctx, &reflectionv1.ServerReflectionRequest{
		MessageRequest: &reflectionv1.ServerReflectionRequest_ListServices{ListServices: "*"},
	})
	if err != nil {
		return nil, r.rpcError("list services", "", err)
	}
	if e := resp.GetErrorResponse(); e != nil {
		return nil, rerrors.New(rerrors.ReflectionProtocolError, "list services", "",
			&rerrors.ReflectionError{Code: e.GetErrorCode(), Message: e.GetErrorMessage()})
	}
	list := resp.GetListServicesResponse()
	if list == nil {
		return nil, rerrors.Newf(rerrors.ReflectionProtocolError, "list services", "",
			"unexpected response type for list services")
	}

	names := make([]domain.ServiceName, 0, len(list.GetService()))
	for _, svc := range list.GetService() {
		if reflectionServices[svc.GetName()] {
			continue
		}
		names = append(names, domain.ServiceName(svc.GetName()))
	}
	slices.Sort(names)

	r.logger.Debug("listed services", slog.Int("count", len(names)))
	return names, nil
}

// Service returns the descriptor of the named service. The name may be
// fully qualified or the bare service name within its file.
func (r *ReflectionClient) Service(ctx context.Context, name domain.ServiceName) (*domain.ServiceDescriptor, error) {
	r.mu.Lock()
	if cached, ok := r.services[name]; ok {
		r.mu.Unlock()
		return cached.Clone(), nil
	}
	r.mu.Unlock()

	fd, err := r.FileContainingSymbol(ctx, string(name))
	if err != nil {
		return nil, err
	}
	sd, err := serviceFromFile(fd, name)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.services[name] = sd
	r.mu.Unlock()

	r.logger.Debug("resolved service",
		slog.String("service", string(sd.Name)),
		slog.Int("methods", len(sd.Methods)),
	)
	return sd.Clone(), nil
}

// ListMethods returns the methods of a service in declaration order.
func (r *ReflectionClient) ListMethods(ctx context.Context, name domain.ServiceName) ([]domain.MethodDescriptor, error) {
	sd, err := r.Service(ctx, name)
	if err != nil {
		return nil, err
	}
	return sd.Methods, nil
}

// FileContainingSymbol returns the file that defines a fully-qualified symbol.
func (r *ReflectionClient) FileContainingSymbol(ctx context.Context, symbol string) (*descriptorpb.FileDescriptorProto, error) {
	if fd := r.cachedBySymbol(symbol); fd != nil {
		return fd, nil
	}

	files, err := r.fileRequest(ctx, "file containing symbol", symbol, &reflectionv1.ServerReflectionRequest{
		MessageRequest: &reflectionv1.ServerReflectionRequest_FileContainingSymbol{FileContainingSymbol: symbol},
	})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.storeLocked(files)
	r.symbols[symbol] = files[0].GetName()
	return cloneFile(r.files[files[0].GetName()]), nil
}

// FileByFilename returns a file by its path, e.g. "google/protobuf/empty.proto".
func (r *ReflectionClient) FileByFilename(ctx context.Context, name string) (*descriptorpb.FileDescriptorProto, error) {
	r.mu.Lock()
	if fd, ok := r.files[name]; ok {
		r.mu.Unlock()
		return cloneFile(fd), nil
	}
	r.mu.Unlock()

	files, err := r.fileRequest(ctx, "file by filename", name, &reflectionv1.ServerReflectionRequest{
		MessageRequest: &reflectionv1.ServerReflectionRequest_FileByFilename{FileByFilename: name},
	})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.storeLocked(files)
	if fd, ok := r.files[name]; ok {
		return cloneFile(fd), nil
	}
	return cloneFile(r.files[files[0].GetName()]), nil
}

// ResolveSymbol resolves a service, "Service.Method" or "Service/Method".
func (r *ReflectionClient) ResolveSymbol(ctx context.Context, symbol string) (domain.Symbol, error) {
	return resolveSymbol(ctx, r.Service, symbol)
}

// resolveSymbol tries the whole string as a service, then the last-'.'
// split, then the last-'/' split. Message types are not resolved.
func resolveSymbol(ctx context.Context, lookup func(context.Context, domain.ServiceName) (*domain.ServiceDescriptor, error), symbol string) (domain.Symbol, error) {
	sd, err := lookup(ctx, domain.ServiceName(symbol))
	if err == nil {
		return domain.Symbol{Kind: domain.SymbolService, Service: sd}, nil
	}
	if !tryNextSplit(err) {
		return domain.Symbol{}, err
	}

	for _, sep := range []string{".", "/"} {
		idx := strings.LastIndex(symbol, sep)
		if idx <= 0 || idx == len(symbol)-1 {
			continue
		}
		svc, method := symbol[:idx], symbol[idx+1:]
		sd, err := lookup(ctx, domain.ServiceName(svc))
		if err != nil {
			if !tryNextSplit(err) {
				return domain.Symbol{}, err
			}
			continue
		}
		if md, ok := sd.Method(domain.MethodName(method)); ok {
			return domain.Symbol{Kind: domain.SymbolMethod, Method: &md}, nil
		}
	}

	return domain.Symbol{}, rerrors.Newf(rerrors.SymbolNotFound, "resolve", "",
		"symbol not found: %s. Supported formats: 'ServiceName' or 'ServiceName.MethodName' or 'ServiceName/MethodName'", symbol)
}

// tryNextSplit reports whether a failed lookup only means this reading of
// the symbol names no service. Any other failure ends resolution.
func tryNextSplit(err error) bool {
	switch rerrors.KindOf(err) {
	case rerrors.SymbolNotFound, rerrors.ReflectionProtocolError:
		return true
	}
	return false
}

func (r *ReflectionClient) cachedBySymbol(symbol string) *descriptorpb.FileDescriptorProto {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, ok := r.symbols[symbol]
	if !ok {
		return nil
	}
	fd, ok := r.files[name]
	if !ok {
		return nil
	}
	return cloneFile(fd)
}

// storeLocked caches every file of a response and indexes the symbols each
// defines. Servers send transitive dependencies along with the requested
// file, so later lookups are often answered locally.
func (r *ReflectionClient) storeLocked(files []*descriptorpb.FileDescriptorProto) {
	for _, fd := range files {
		if _, ok := r.files[fd.GetName()]; ok {
			continue
		}
		r.files[fd.GetName()] = fd
		for _, sym := range fileSymbols(fd) {
			if _, ok := r.symbols[sym]; !ok {
				r.symbols[sym] = fd.GetName()
			}
		}
	}
}

func (r *ReflectionClient) fileRequest(ctx context.Context, op, subject string, req *reflectionv1.ServerReflectionRequest) ([]*descriptorpb.FileDescriptorProto, error) {
	resp, err := r.roundTrip(ctx, req)
	if err != nil {
		return nil, r.rpcError(op, subject, err)
	}
	if e := resp.GetErrorResponse(); e != nil {
		return nil, rerrors.New(rerrors.ReflectionProtocolError, op, subject,
			&rerrors.ReflectionError{Code: e.GetErrorCode(), Message: e.GetErrorMessage()})
	}
	raw := resp.GetFileDescriptorResponse().GetFileDescriptorProto()
	if len(raw) == 0 {
		return nil, rerrors.Newf(rerrors.ReflectionProtocolError, op, subject,
			"no file descriptor found for %s", subject)
	}

	files := make([]*descriptorpb.FileDescriptorProto, 0, len(raw))
	for _, b := range raw {
		fd := &descriptorpb.FileDescriptorProto{}
		if err := proto.Unmarshal(b, fd); err != nil {
			return nil, rerrors.New(rerrors.DecodeFailure, op, subject,
				fmt.Errorf("failed to decode file descriptor: %w", err))
		}
		files = append(files, fd)
	}
	return files, nil
}

// roundTrip sends one request on a fresh reflection stream and returns the
// single response. Servers without v1 reflection get v1alpha from then on.
func (r *ReflectionClient) roundTrip(ctx context.Context, req *reflectionv1.ServerReflectionRequest) (*reflectionv1.ServerReflectionResponse, error) {
	r.roundTrips.Add(1)

	if !r.useAlpha.Load() {
		resp, err := r.exchangeV1(ctx, req)
		if status.Code(err) != codes.Unimplemented {
			return resp, err
		}
		r.logger.Debug("reflection v1 not implemented, falling back to v1alpha")
		r.useAlpha.Store(true)
	}
	return r.exchangeV1Alpha(ctx, req)
}

func (r *ReflectionClient) exchangeV1(ctx context.Context, req *reflectionv1.ServerReflectionRequest) (*reflectionv1.ServerReflectionResponse, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := reflectionv1.NewServerReflectionClient(r.conn).ServerReflectionInfo(ctx)
	if err != nil {
		return nil, err
	}
	// io.EOF from Send means the server ended the stream; Recv has the status.
	if err := stream.Send(req); err != nil && err != io.EOF {
		return nil, err
	}
	resp, err := stream.Recv()
	if err != nil {
		return nil, err
	}
	_ = stream.CloseSend()
	return resp, nil
}

// exchangeV1Alpha speaks the v1alpha protocol. The two versions share a
// wire format, so messages are converted by re-encoding.
func (r *ReflectionClient) exchangeV1Alpha(ctx context.Context, req *reflectionv1.ServerReflectionRequest) (*reflectionv1.ServerReflectionResponse, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	alphaReq := &reflectionv1alpha.ServerReflectionRequest{}
	if err := convertMessage(req, alphaReq); err != nil {
		return nil, err
	}

	stream, err := reflectionv1alpha.NewServerReflectionClient(r.conn).ServerReflectionInfo(ctx)
	if err != nil {
		return nil, err
	}
	if err := stream.Send(alphaReq); err != nil && err != io.EOF {
		return nil, err
	}
	alphaResp, err := stream.Recv()
	if err != nil {
		return nil, err
	}
	_ = stream.CloseSend()

	resp := &reflectionv1.ServerReflectionResponse{}
	if err := convertMessage(alphaResp, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func convertMessage(from, to proto.Message) error {
	b, err := proto.Marshal(from)
	if err != nil {
		return fmt.Errorf("convert reflection message: %w", err)
	}
	if err := proto.Unmarshal(b, to); err != nil {
		return fmt.Errorf("convert reflection message: %w", err)
	}
	return nil
}

// rpcError maps a failed reflection exchange. A server with no reflection
// service at all is a protocol error; anything else follows the call rules.
func (r *ReflectionClient) rpcError(op, subject string, err error) error {
	if status.Code(err) == codes.Unimplemented {
		return rerrors.Newf(rerrors.ReflectionProtocolError, op, subject,
			"server does not support the reflection API: %s", status.Convert(err).Message())
	}
	return rerrors.FromRPC(op, subject, err)
}

// serviceFromFile builds the descriptor of the named service. The name may
// be "package.Service" or the bare "Service".
func serviceFromFile(fd *descriptorpb.FileDescriptorProto, name domain.ServiceName) (*domain.ServiceDescriptor, error) {
	pkg := fd.GetPackage()
	for i, svc := range fd.GetService() {
		full := qualify(pkg, svc.GetName())
		if full != string(name) && svc.GetName() != string(name) {
			continue
		}

		sd := &domain.ServiceDescriptor{
			Name:        domain.ServiceName(full),
			Description: leadingComment(fd, []int32{6, int32(i)}),
		}
		for j, m := range svc.GetMethod() {
			sd.Methods = append(sd.Methods, domain.MethodDescriptor{
				Name:            domain.MethodName(m.GetName()),
				Service:         sd.Name,
				InputType:       strings.TrimPrefix(m.GetInputType(), "."),
				OutputType:      strings.TrimPrefix(m.GetOutputType(), "."),
				ClientStreaming: m.GetClientStreaming(),
				ServerStreaming: m.GetServerStreaming(),
				Description:     leadingComment(fd, []int32{6, int32(i), 2, int32(j)}),
			})
		}
		return sd, nil
	}
	return nil, rerrors.Newf(rerrors.SymbolNotFound, "resolve service", string(name),
		"service %s not found in file descriptor %s", name, fd.GetName())
}

// leadingComment returns the trimmed leading comment at path, if the file
// carries source info.
func leadingComment(fd *descriptorpb.FileDescriptorProto, path []int32) string {
	for _, loc := range fd.GetSourceCodeInfo().GetLocation() {
		if slices.Equal(loc.GetPath(), path) {
			return strings.TrimSpace(loc.GetLeadingComments())
		}
	}
	return ""
}

// fileSymbols lists the fully-qualified services, messages and enums a
// file defines, including nested types.
func fileSymbols(fd *descriptorpb.FileDescriptorProto) []string {
	pkg := fd.GetPackage()
	var out []string
	for _, svc := range fd.GetService() {
		out = append(out, qualify(pkg, svc.GetName()))
	}
	for _, e := range fd.GetEnumType() {
		out = append(out, qualify(pkg, e.GetName()))
	}
	var walk func(prefix string, msgs []*descriptorpb.DescriptorProto)
	walk = func(prefix string, msgs []*descriptorpb.DescriptorProto) {
		for _, m := range msgs {
			full := qualify(prefix, m.GetName())
			out = append(out, full)
			for _, e := range m.GetEnumType() {
				out = append(out, qualify(full, e.GetName()))
			}
			walk(full, m.GetNestedType())
		}
	}
	walk(pkg, fd.GetMessageType())
	return out
}

func qualify(pkg, name string) string {
	if pkg == "" {
		return name
	}
	return pkg + "." + name
}

func cloneFile(fd *descriptorpb.FileDescriptorProto) *descriptorpb.FileDescriptorProto {
	return proto.Clone(fd).(*descriptorpb.FileDescriptorProto)
}
