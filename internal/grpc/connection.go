package grpc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/shhac/reflex/internal/domain"
	rerrors "github.com/shhac/reflex/internal/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// ConnectionState represents the current state of a gRPC connection
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateError
)

// String returns a human-readable representation of the connection state
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Connection is one multiplexed client connection to an endpoint, shared by
// every call issued against it. It also owns the reflection client bound to
// that connection so resolver caches live as long as the connection.
type Connection struct {
	conn     *grpc.ClientConn
	endpoint domain.Endpoint
	logger   *slog.Logger

	mu            sync.RWMutex
	state         ConnectionState
	onStateChange func(state ConnectionState, message string)

	resolverOnce sync.Once
	resolver     *ReflectionClient
}

// Dialer opens a connection. Dial is the production implementation; tests
// substitute their own.
type Dialer func(ctx context.Context, ep domain.Endpoint, cfg domain.TransportConfig) (*Connection, error)

// NewConnection wraps an existing client connection.
func NewConnection(cc *grpc.ClientConn, ep domain.Endpoint, logger *slog.Logger) *Connection {
	return &Connection{
		conn:     cc,
		endpoint: ep,
		logger:   logger,
		state:    StateConnected,
	}
}

// Dial connects to ep and waits until the connection is ready or
// cfg.ConnectTimeout elapses. Any failure is a TransportFailure naming the
// target address.
func Dial(ctx context.Context, ep domain.Endpoint, cfg domain.TransportConfig, logger *slog.Logger, extra ...grpc.DialOption) (*Connection, error) {
	cfg = cfg.WithDefaults()
	addr := ep.String()
	plaintext := cfg.Plaintext || !ep.Secure

	creds, err := transportCredentials(cfg, plaintext)
	if err != nil {
		return nil, rerrors.New(rerrors.TransportFailure, "connect", addr, err)
	}

	kaParams := keepalive.ClientParameters{
		Time:                10 * time.Second, // Ping every 10s
		Timeout:             3 * time.Second,  // Wait 3s for ping ack
		PermitWithoutStream: true,
	}
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithKeepaliveParams(kaParams),
	}, extra...)

	c := &Connection{endpoint: ep, logger: logger}
	c.updateState(StateConnecting, "Connecting to "+addr)

	if plaintext {
		logger.Debug("using plaintext connection", slog.String("address", addr))
	} else if cfg.InsecureSkipVerify {
		logger.Warn("using insecure TLS connection (skipping certificate verification)",
			slog.String("address", addr))
	}

	cc, err := grpc.NewClient(addr, opts...)
	if err != nil {
		logger.Error("failed to create gRPC client",
			slog.String("address", addr),
			slog.Any("error", err),
		)
		c.updateState(StateError, "Failed to connect: "+err.Error())
		return nil, rerrors.New(rerrors.TransportFailure, "connect", addr, err)
	}

	if err := waitReady(ctx, cc, cfg.ConnectTimeout); err != nil {
		cc.Close()
		logger.Error("connection not ready",
			slog.String("address", addr),
			slog.Any("error", err),
		)
		c.updateState(StateError, "Failed to connect: "+err.Error())
		return nil, rerrors.New(rerrors.TransportFailure, "connect", addr, err)
	}

	c.mu.Lock()
	c.conn = cc
	c.mu.Unlock()

	logger.Info("gRPC connection established",
		slog.String("address", addr),
		slog.String("security", securityLabel(cfg, plaintext)),
	)
	c.updateState(StateConnected, "Connected to "+addr)
	return c, nil
}

func securityLabel(cfg domain.TransportConfig, plaintext bool) string {
	if plaintext {
		return "plaintext"
	}
	return cfg.SecurityMode()
}

func transportCredentials(cfg domain.TransportConfig, plaintext bool) (credentials.TransportCredentials, error) {
	if plaintext {
		return insecure.NewCredentials(), nil
	}
	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         cfg.ServerName,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("CA file %s contains no PEM certificates", cfg.CAFile)
		}
		tlsCfg.RootCAs = pool
	}
	return credentials.NewTLS(tlsCfg), nil
}

// waitReady drives cc out of idle and blocks until it is Ready. A transient
// failure is reported immediately rather than waiting out the backoff.
func waitReady(ctx context.Context, cc *grpc.ClientConn, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cc.Connect()
	for {
		s := cc.GetState()
		switch s {
		case connectivity.Ready:
			return nil
		case connectivity.TransientFailure:
			return fmt.Errorf("connection failed (%s)", s)
		case connectivity.Shutdown:
			return fmt.Errorf("connection shut down")
		}
		if !cc.WaitForStateChange(ctx, s) {
			if ctx.Err() == context.DeadlineExceeded {
				return fmt.Errorf("timed out after %s waiting for connection", timeout)
			}
			return ctx.Err()
		}
	}
}

// Close closes the underlying connection.
func (c *Connection) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		c.updateState(StateDisconnected, "Already disconnected")
		return nil
	}

	addr := c.endpoint.String()
	if err := conn.Close(); err != nil {
		c.logger.Error("failed to close connection",
			slog.String("address", addr),
			slog.Any("error", err),
		)
		c.updateState(StateError, "Failed to disconnect: "+err.Error())
		return err
	}

	c.logger.Info("gRPC connection closed", slog.String("address", addr))
	c.updateState(StateDisconnected, "Disconnected")
	return nil
}

// Conn returns the gRPC client connection, or nil once closed.
func (c *Connection) Conn() *grpc.ClientConn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

// Endpoint returns the endpoint this connection targets.
func (c *Connection) Endpoint() domain.Endpoint {
	return c.endpoint
}

// State returns the current connection state
func (c *Connection) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Resolver returns the reflection client bound to this connection,
// creating it on first use.
func (c *Connection) Resolver() *ReflectionClient {
	c.resolverOnce.Do(func() {
		c.resolver = NewReflectionClient(c.Conn(), c.logger)
	})
	return c.resolver
}

// SetStateCallback registers a callback function to be called on state changes
func (c *Connection) SetStateCallback(fn func(state ConnectionState, message string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStateChange = fn
}

// updateState updates the connection state and invokes the callback if set
func (c *Connection) updateState(state ConnectionState, message string) {
	c.mu.Lock()
	c.state = state
	callback := c.onStateChange
	c.mu.Unlock()

	c.logger.Debug("connection state changed",
		slog.String("state", state.String()),
		slog.String("message", message),
	)

	if callback != nil {
		callback(state, message)
	}
}
