package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shhac/reflex/internal/domain"
	rerrors "github.com/shhac/reflex/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	f := Default()
	assert.Equal(t, []string{"local", "reflection-demo"}, f.IDs())

	local, err := f.Server("local")
	require.NoError(t, err)
	assert.Equal(t, "localhost:9090", local.Endpoint)
	assert.True(t, local.Plaintext)
	require.NoError(t, f.Validate())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	f, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), f)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "servers.yaml")
	require.NoError(t, Default().Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), loaded)
}

func TestParse(t *testing.T) {
	f, err := Parse([]byte(`
servers:
  staging:
    name: Staging
    endpoint: https://staging.example.com
    ca_cert: /etc/ca.pem
    server_name: api.internal
    headers:
      x-team: payments
      authorization: Bearer abc
    connect_timeout: 3s
    request_timeout: 1m
`))
	require.NoError(t, err)

	p, err := f.Server("staging")
	require.NoError(t, err)

	assert.Equal(t, domain.TransportConfig{
		CAFile:         "/etc/ca.pem",
		ServerName:     "api.internal",
		ConnectTimeout: 3 * time.Second,
		RequestTimeout: time.Minute,
	}, p.Transport())

	assert.Equal(t, []domain.Header{
		{Key: "authorization", Value: "Bearer abc"},
		{Key: "x-team", Value: "payments"},
	}, p.HeaderList())
}

func TestTransportDefaults(t *testing.T) {
	p := &ServerProfile{Endpoint: "localhost:1", Plaintext: true}
	cfg := p.Transport()
	assert.True(t, cfg.Plaintext)
	assert.Equal(t, domain.DefaultTimeout, cfg.ConnectTimeout)
	assert.Equal(t, domain.DefaultTimeout, cfg.RequestTimeout)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"missing endpoint", "servers:\n  a:\n    name: A\n", "servers.a.endpoint"},
		{"bad endpoint", "servers:\n  a:\n    endpoint: ftp://x\n", "servers.a.endpoint"},
		{"bad port", "servers:\n  a:\n    endpoint: host:0\n", "servers.a.endpoint"},
		{"negative timeout", "servers:\n  a:\n    endpoint: h:1\n    request_timeout: -1s\n", "servers.a"},
		{"empty profile", "servers:\n  a:\n", "servers.a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			var ve rerrors.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte("servers: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML config")
}

func TestServer_Unknown(t *testing.T) {
	_, err := Default().Server("prod")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown server profile "prod"`)
}
