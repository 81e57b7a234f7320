package grpc

import (
	"context"
	"slices"
	"sync"
	"testing"

	"github.com/bufbuild/protocompile"
	"github.com/shhac/reflex/internal/domain"
	rerrors "github.com/shhac/reflex/internal/errors"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/types/descriptorpb"
)

// fakeSource is a SchemaSource over in-memory file descriptors. It counts
// lookups so tests can assert what a caller asked for.
type fakeSource struct {
	files map[string]*descriptorpb.FileDescriptorProto

	mu      sync.Mutex
	lookups []string
}

var _ SchemaSource = (*fakeSource)(nil)

func newFakeSource(files ...*descriptorpb.FileDescriptorProto) *fakeSource {
	f := &fakeSource{files: make(map[string]*descriptorpb.FileDescriptorProto)}
	for _, fd := range files {
		f.files[fd.GetName()] = fd
	}
	return f
}

// compileSource compiles .proto sources held in memory and returns a
// fakeSource serving them. Well-known imports resolve to the standard
// definitions but are not served.
func compileSource(t *testing.T, sources map[string]string) *fakeSource {
	t.Helper()
	compiler := protocompile.Compiler{
		Resolver: protocompile.WithStandardImports(&protocompile.SourceResolver{
			Accessor: protocompile.SourceAccessorFromMap(sources),
		}),
	}
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	slices.Sort(names)

	compiled, err := compiler.Compile(context.Background(), names...)
	require.NoError(t, err)

	src := newFakeSource()
	for _, fd := range compiled {
		src.files[fd.Path()] = protodesc.ToFileDescriptorProto(fd)
	}
	return src
}

func (f *fakeSource) record(s string) {
	f.mu.Lock()
	f.lookups = append(f.lookups, s)
	f.mu.Unlock()
}

func (f *fakeSource) Lookups() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.lookups)
}

func (f *fakeSource) ListServices(context.Context) ([]domain.ServiceName, error) {
	var out []domain.ServiceName
	for _, fd := range f.files {
		for _, svc := range fd.GetService() {
			out = append(out, domain.ServiceName(qualify(fd.GetPackage(), svc.GetName())))
		}
	}
	slices.Sort(out)
	return out, nil
}

func (f *fakeSource) Service(ctx context.Context, name domain.ServiceName) (*domain.ServiceDescriptor, error) {
	fd, err := f.FileContainingSymbol(ctx, string(name))
	if err != nil {
		return nil, err
	}
	return serviceFromFile(fd, name)
}

func (f *fakeSource) ListMethods(ctx context.Context, name domain.ServiceName) ([]domain.MethodDescriptor, error) {
	sd, err := f.Service(ctx, name)
	if err != nil {
		return nil, err
	}
	return sd.Methods, nil
}

func (f *fakeSource) FileContainingSymbol(_ context.Context, symbol string) (*descriptorpb.FileDescriptorProto, error) {
	f.record("symbol:" + symbol)
	for _, fd := range f.files {
		if slices.Contains(fileSymbols(fd), symbol) {
			return cloneFile(fd), nil
		}
	}
	return nil, rerrors.New(rerrors.ReflectionProtocolError, "file containing symbol", symbol,
		&rerrors.ReflectionError{Code: 5, Message: "symbol not found: " + symbol})
}

func (f *fakeSource) FileByFilename(_ context.Context, name string) (*descriptorpb.FileDescriptorProto, error) {
	f.record("file:" + name)
	if fd, ok := f.files[name]; ok {
		return cloneFile(fd), nil
	}
	return nil, rerrors.New(rerrors.ReflectionProtocolError, "file by filename", name,
		&rerrors.ReflectionError{Code: 5, Message: "file not found: " + name})
}

func (f *fakeSource) ResolveSymbol(ctx context.Context, symbol string) (domain.Symbol, error) {
	return resolveSymbol(ctx, f.Service, symbol)
}
