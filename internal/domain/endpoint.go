package domain

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Endpoint is a parsed gRPC target. The port is always set after parsing.
type Endpoint struct {
	Host   string
	Port   uint16
	Secure bool
}

// ParseEndpoint accepts "host:port", "host", or a URI with one of the
// https, grpcs, http or grpc schemes. Bare addresses are secure.
func ParseEndpoint(address string) (Endpoint, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return Endpoint{}, fmt.Errorf("invalid endpoint: empty address")
	}

	secure := true
	rest := address
	if scheme, after, ok := strings.Cut(address, "://"); ok {
		switch strings.ToLower(scheme) {
		case "https", "grpcs":
			secure = true
		case "http", "grpc":
			secure = false
		default:
			return Endpoint{}, fmt.Errorf("invalid endpoint %q: unsupported scheme %q", address, scheme)
		}
		rest = strings.TrimSuffix(after, "/")
	}

	host, port, err := splitHostPort(rest, secure)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: %w", address, err)
	}
	return Endpoint{Host: host, Port: port, Secure: secure}, nil
}

func splitHostPort(s string, secure bool) (string, uint16, error) {
	defaultPort := uint16(80)
	if secure {
		defaultPort = 443
	}

	// Bracketed IPv6 literal, with or without port.
	if strings.HasPrefix(s, "[") {
		end := strings.Index(s, "]")
		if end < 0 {
			return "", 0, fmt.Errorf("missing ']' in address")
		}
		host := s[1:end]
		tail := s[end+1:]
		if tail == "" {
			return host, defaultPort, nil
		}
		if !strings.HasPrefix(tail, ":") {
			return "", 0, fmt.Errorf("unexpected %q after address", tail)
		}
		port, err := parsePort(tail[1:])
		return host, port, err
	}

	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		if s == "" {
			return "", 0, fmt.Errorf("empty host")
		}
		return s, defaultPort, nil
	}
	host := s[:idx]
	if host == "" {
		return "", 0, fmt.Errorf("empty host")
	}
	port, err := parsePort(s[idx+1:])
	return host, port, err
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid port number: %s", s)
	}
	return uint16(n), nil
}

// String returns host:port, the form used as a connection key.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(int(e.Port)))
}
