package grpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/shhac/reflex/internal/domain"
	rerrors "github.com/shhac/reflex/internal/errors"
	"github.com/shhac/reflex/internal/reflection"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/reflect/protoreflect"
)

const tracerName = "github.com/shhac/reflex"

// Options configures a Client. All fields are safe to leave zero-valued.
//
// Defaults:
//   - Transport: TLS with system roots, 10s connect and request timeouts
//   - Memory limits: 100 MiB soft, 500 MiB hard
//   - Tracer provider: the global otel provider
type Options struct {
	Transport      domain.TransportConfig
	Headers        []domain.Header
	Logger         *slog.Logger
	Verbose        bool
	EmitDefaults   bool
	MemoryLimits   MemoryLimits
	TracerProvider trace.TracerProvider
	DialOptions    []grpc.DialOption
	Dialer         Dialer
}

// Option mutates Options. Use the WithX helpers below.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		MemoryLimits: DefaultMemoryLimits(),
	}
}

// WithTransport sets the security and timeouts used to reach the server.
func WithTransport(cfg domain.TransportConfig) Option { return func(o *Options) { o.Transport = cfg } }

// WithHeaders appends metadata sent with every call, in order.
func WithHeaders(h ...domain.Header) Option { return func(o *Options) { o.Headers = append(o.Headers, h...) } }

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option { return func(o *Options) { o.Logger = l } }

// WithVerbose enables warnings meant for interactive use, such as the
// memory soft limit.
func WithVerbose(v bool) Option { return func(o *Options) { o.Verbose = v } }

// WithEmitDefaults makes decoded responses include zero-valued fields.
func WithEmitDefaults(v bool) Option { return func(o *Options) { o.EmitDefaults = v } }

// WithDialer replaces how connections are opened.
func WithDialer(d Dialer) Option { return func(o *Options) { o.Dialer = d } }

// WithMemoryLimits sets the soft and hard byte limits for one call's
// responses. Zero disables a limit.
func WithMemoryLimits(soft, hard int64) Option {
	return func(o *Options) { o.MemoryLimits = MemoryLimits{Soft: soft, Hard: hard} }
}

// WithTracerProvider sets where spans go instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Options) { o.TracerProvider = tp }
}

// WithDialOptions sets extra gRPC dial options for the default dialer.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *Options) { o.DialOptions = opts }
}

// Client calls methods on one endpoint using schemas fetched through server
// reflection. Connections and descriptor pools are cached per client and
// shared by concurrent calls. Safe for concurrent use.
type Client struct {
	endpoint  domain.Endpoint
	transport domain.TransportConfig
	headers   []domain.Header

	cache   *ResourceCache
	invoker *Invoker
	tracer  trace.Tracer
	logger  *slog.Logger
}

// NewClient creates a client for target, which is parsed as an endpoint
// address. No connection is made until the first call.
func NewClient(target string, opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	ep, err := domain.ParseEndpoint(target)
	if err != nil {
		return nil, rerrors.New(rerrors.InvalidReference, "parse endpoint", "", err)
	}

	logger := o.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	tp := o.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	dial := o.Dialer
	if dial == nil {
		dialOpts := o.DialOptions
		dial = func(ctx context.Context, ep domain.Endpoint, cfg domain.TransportConfig) (*Connection, error) {
			return Dial(ctx, ep, cfg, logger, dialOpts...)
		}
	}

	return &Client{
		endpoint:  ep,
		transport: o.Transport.WithDefaults(),
		headers:   o.Headers,
		cache:     NewResourceCache(dial, logger),
		invoker:   NewInvoker(NewDynamicCodec(o.EmitDefaults), o.MemoryLimits, o.Verbose, logger),
		tracer:    tp.Tracer(tracerName),
		logger:    logger,
	}, nil
}

// Endpoint returns the parsed target.
func (c *Client) Endpoint() domain.Endpoint {
	return c.endpoint
}

// ParseMethodRef splits "pkg.Service/Method" or "pkg.Service.Method". A
// single leading '/' is ignored. The last '/' takes precedence over the
// last '.'.
func ParseMethodRef(ref string) (domain.ServiceName, domain.MethodName, error) {
	trimmed := strings.TrimPrefix(ref, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		idx = strings.LastIndex(trimmed, ".")
	}
	if idx <= 0 || idx == len(trimmed)-1 {
		return "", "", rerrors.Newf(rerrors.InvalidReference, "", "",
			"invalid method format: %s. Expected 'service.method' or 'service/method'", ref)
	}
	return domain.ServiceName(trimmed[:idx]), domain.MethodName(trimmed[idx+1:]), nil
}

// Call invokes the referenced method with a JSON body and returns every
// response in arrival order. Unary and client-streaming methods return
// exactly one.
func (c *Client) Call(ctx context.Context, ref string, body json.RawMessage) ([]json.RawMessage, error) {
	var out []json.RawMessage
	err := c.CallStream(ctx, ref, body, func(_ int, msg json.RawMessage) error {
		out = append(out, msg)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CallStream is Call with responses delivered to onMessage as they arrive.
func (c *Client) CallStream(ctx context.Context, ref string, body json.RawMessage, onMessage MessageHandler) (err error) {
	md, err := headerMetadata(c.headers)
	if err != nil {
		return err
	}
	svc, name, err := ParseMethodRef(ref)
	if err != nil {
		return err
	}

	ctx, span := c.startSpan(ctx, "reflex.call",
		semconv.RPCServiceKey.String(string(svc)),
		semconv.RPCMethodKey.String(string(name)),
	)
	defer func() { endSpan(span, err) }()

	conn, err := c.cache.GetOrCreateConnection(ctx, c.endpoint, c.transport)
	if err != nil {
		return err
	}
	resolveCtx, cancel := c.withRequestTimeout(ctx)
	defer cancel()

	resolver := conn.Resolver()
	sd, err := resolver.Service(resolveCtx, svc)
	if err != nil {
		return err
	}
	method, ok := sd.Method(name)
	if !ok {
		return rerrors.Newf(rerrors.SymbolNotFound, "resolve method", "",
			"method %s not found in service %s", name, sd.Name)
	}
	span.SetAttributes(attribute.String("rpc.shape", method.Shape().String()))

	pool, err := c.cache.GetOrCreatePool(resolveCtx, conn, resolver, method.InputType, method.OutputType)
	if err != nil {
		return err
	}
	cc := conn.Conn()
	if cc == nil {
		return rerrors.Newf(rerrors.TransportFailure, "call", c.endpoint.String(), "connection closed")
	}

	// Single responses get the whole request timeout. Streams only have to
	// start responding within it.
	var responseTimeout time.Duration
	if _, ok := ctx.Deadline(); !ok && method.Shape().Receives() == domain.Many {
		responseTimeout = c.transport.RequestTimeout
	} else {
		var cancelCall context.CancelFunc
		ctx, cancelCall = c.withRequestTimeout(ctx)
		defer cancelCall()
	}
	return c.invoker.Invoke(ctx, cc, method, pool, md, body, responseTimeout, onMessage)
}

// ListServices returns the services the server exposes, sorted.
func (c *Client) ListServices(ctx context.Context) (names []domain.ServiceName, err error) {
	ctx, span := c.startSpan(ctx, "reflex.list_services")
	defer func() { endSpan(span, err) }()

	resolver, ctx, cancel, err := c.resolver(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return resolver.ListServices(ctx)
}

// ListMethods returns a service's methods in declaration order.
func (c *Client) ListMethods(ctx context.Context, service domain.ServiceName) (methods []domain.MethodDescriptor, err error) {
	ctx, span := c.startSpan(ctx, "reflex.resolve", semconv.RPCServiceKey.String(string(service)))
	defer func() { endSpan(span, err) }()

	resolver, ctx, cancel, err := c.resolver(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return resolver.ListMethods(ctx, service)
}

// Describe resolves a service or method symbol.
func (c *Client) Describe(ctx context.Context, symbol string) (sym domain.Symbol, err error) {
	ctx, span := c.startSpan(ctx, "reflex.resolve", attribute.String("rpc.symbol", symbol))
	defer func() { endSpan(span, err) }()

	resolver, ctx, cancel, err := c.resolver(ctx)
	if err != nil {
		return domain.Symbol{}, err
	}
	defer cancel()
	return resolver.ResolveSymbol(ctx, symbol)
}

// DescribeProto renders a symbol as .proto source: the whole defining file
// for a service, or the single rpc line for a method.
func (c *Client) DescribeProto(ctx context.Context, symbol string) (src string, err error) {
	ctx, span := c.startSpan(ctx, "reflex.resolve", attribute.String("rpc.symbol", symbol))
	defer func() { endSpan(span, err) }()

	resolver, ctx, cancel, err := c.resolver(ctx)
	if err != nil {
		return "", err
	}
	defer cancel()

	sym, err := resolver.ResolveSymbol(ctx, symbol)
	if err != nil {
		return "", err
	}
	var svcName domain.ServiceName
	switch sym.Kind {
	case domain.SymbolService:
		svcName = sym.Service.Name
	case domain.SymbolMethod:
		svcName = sym.Method.Service
	}

	fdp, err := resolver.FileContainingSymbol(ctx, string(svcName))
	if err != nil {
		return "", err
	}
	fd, err := BuildFile(ctx, resolver, fdp)
	if err != nil {
		return "", err
	}

	if sym.Kind == domain.SymbolService {
		src, err = reflection.PrintFile(fd)
	} else {
		var d protoreflect.Descriptor = fd.Services().ByName(shortName(string(svcName)))
		if sd, ok := d.(protoreflect.ServiceDescriptor); ok && sd != nil {
			d = sd.Methods().ByName(protoreflect.Name(sym.Method.Name))
		}
		if d == nil {
			return "", rerrors.Newf(rerrors.SymbolNotFound, "describe", symbol,
				"symbol not found: %s", symbol)
		}
		src, err = reflection.PrintDescriptor(d)
	}
	if err != nil {
		return "", rerrors.New(rerrors.DecodeFailure, "describe", symbol, err)
	}
	return src, nil
}

// Stats reports the client's cache contents.
func (c *Client) Stats() CacheStats {
	return c.cache.Stats()
}

// Close releases every cached connection.
func (c *Client) Close() error {
	return c.cache.Close()
}

// resolver returns the reflection client of the cached connection, with the
// request timeout applied to ctx.
func (c *Client) resolver(ctx context.Context) (*ReflectionClient, context.Context, context.CancelFunc, error) {
	conn, err := c.cache.GetOrCreateConnection(ctx, c.endpoint, c.transport)
	if err != nil {
		return nil, ctx, nil, err
	}
	ctx, cancel := c.withRequestTimeout(ctx)
	return conn.Resolver(), ctx, cancel, nil
}

// withRequestTimeout applies the request timeout unless ctx already has a
// deadline.
func (c *Client) withRequestTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.transport.RequestTimeout)
}

func (c *Client) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.String("net.peer.name", c.endpoint.String()))
	span.SetAttributes(attrs...)
	return ctx, span
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func shortName(full string) protoreflect.Name {
	if i := strings.LastIndex(full, "."); i >= 0 {
		return protoreflect.Name(full[i+1:])
	}
	return protoreflect.Name(full)
}
