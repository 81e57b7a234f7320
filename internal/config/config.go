// Package config loads named server profiles from YAML.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/shhac/reflex/internal/domain"
	rerrors "github.com/shhac/reflex/internal/errors"
	"gopkg.in/yaml.v3"
)

// File is the on-disk profile document:
//
//	servers:
//	  local:
//	    name: Local gRPC Server
//	    endpoint: localhost:9090
//	    plaintext: true
type File struct {
	Servers map[string]*ServerProfile `yaml:"servers"`
}

// ServerProfile describes how to reach one server.
type ServerProfile struct {
	Name           string            `yaml:"name"`
	Endpoint       string            `yaml:"endpoint"`
	Plaintext      bool              `yaml:"plaintext,omitempty"`
	CACert         string            `yaml:"ca_cert,omitempty"`
	ServerName     string            `yaml:"server_name,omitempty"`
	Insecure       bool              `yaml:"insecure,omitempty"`
	Headers        map[string]string `yaml:"headers,omitempty"`
	Description    string            `yaml:"description,omitempty"`
	ConnectTimeout time.Duration     `yaml:"connect_timeout,omitempty"`
	RequestTimeout time.Duration     `yaml:"request_timeout,omitempty"`
}

// Default returns the built-in profiles used when no file exists.
func Default() *File {
	return &File{
		Servers: map[string]*ServerProfile{
			"local": {
				Name:        "Local gRPC Server",
				Endpoint:    "localhost:9090",
				Plaintext:   true,
				Description: "Local development gRPC server",
			},
			"reflection-demo": {
				Name:        "gRPC Reflection Demo",
				Endpoint:    "grpcb.in:9000",
				Description: "Public gRPC server with reflection enabled",
			},
		},
	}
}

// Load reads profiles from path. A missing file yields Default().
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a profile document.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if f.Servers == nil {
		f.Servers = make(map[string]*ServerProfile)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Save writes f to path as YAML, creating parent directories.
func (f *File) Save(path string) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

// Validate checks every profile has a parseable endpoint, valid headers
// and non-negative timeouts.
func (f *File) Validate() error {
	for _, id := range f.IDs() {
		p := f.Servers[id]
		if p == nil {
			return rerrors.ValidationError{Field: "servers." + id, Message: "profile is empty"}
		}
		if p.Endpoint == "" {
			return rerrors.ValidationError{Field: "servers." + id + ".endpoint", Message: "is required"}
		}
		if _, err := domain.ParseEndpoint(p.Endpoint); err != nil {
			return rerrors.ValidationError{Field: "servers." + id + ".endpoint", Message: err.Error()}
		}
		if p.ConnectTimeout < 0 || p.RequestTimeout < 0 {
			return rerrors.ValidationError{Field: "servers." + id, Message: "timeouts must not be negative"}
		}
		for k := range p.Headers {
			if k == "" {
				return rerrors.ValidationError{Field: "servers." + id + ".headers", Message: "header name must not be empty"}
			}
		}
	}
	return nil
}

// IDs returns the profile identifiers, sorted.
func (f *File) IDs() []string {
	ids := make([]string, 0, len(f.Servers))
	for id := range f.Servers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Server returns the profile with the given id.
func (f *File) Server(id string) (*ServerProfile, error) {
	p, ok := f.Servers[id]
	if !ok || p == nil {
		return nil, fmt.Errorf("unknown server profile %q (known: %v)", id, f.IDs())
	}
	return p, nil
}

// Transport converts the profile's connection settings.
func (p *ServerProfile) Transport() domain.TransportConfig {
	return domain.TransportConfig{
		Plaintext:          p.Plaintext,
		CAFile:             p.CACert,
		ServerName:         p.ServerName,
		InsecureSkipVerify: p.Insecure,
		ConnectTimeout:     p.ConnectTimeout,
		RequestTimeout:     p.RequestTimeout,
	}.WithDefaults()
}

// HeaderList returns the profile headers ordered by name.
func (p *ServerProfile) HeaderList() []domain.Header {
	keys := make([]string, 0, len(p.Headers))
	for k := range p.Headers {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	out := make([]domain.Header, 0, len(keys))
	for _, k := range keys {
		out = append(out, domain.Header{Key: k, Value: p.Headers[k]})
	}
	return out
}
