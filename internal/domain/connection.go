package domain

import "time"

// DefaultTimeout applies to both connect and request deadlines when unset.
const DefaultTimeout = 10 * time.Second

// TransportConfig holds gRPC connection settings
type TransportConfig struct {
	Plaintext bool

	// TLS configuration, ignored when Plaintext is set
	CAFile             string // Path to PEM CA bundle; system roots when empty
	ServerName         string // Overrides the name used for certificate verification
	InsecureSkipVerify bool   // Skip TLS certificate verification (insecure)

	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// WithDefaults returns a copy with zero timeouts replaced by DefaultTimeout.
func (c TransportConfig) WithDefaults() TransportConfig {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultTimeout
	}
	return c
}

// SecurityMode describes the transport security for display and logging.
func (c TransportConfig) SecurityMode() string {
	switch {
	case c.Plaintext:
		return "plaintext"
	case c.CAFile != "":
		return "tls+ca"
	default:
		return "tls"
	}
}
