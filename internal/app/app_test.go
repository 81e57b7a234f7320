package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shhac/reflex/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestConfigFromLookup(t *testing.T) {
	cfg := configFromLookup(lookupMap(map[string]string{
		"REFLEX_DEBUG":         "true",
		"REFLEX_STORAGE_PATH":  "/tmp/reflex",
		"REFLEX_CONFIG":        "/etc/reflex.yaml",
		"REFLEX_OTLP_ENDPOINT": "collector:4317",
	}))
	assert.True(t, cfg.Debug)
	assert.Equal(t, "/tmp/reflex", cfg.StoragePath)
	assert.Equal(t, "/etc/reflex.yaml", cfg.ConfigPath)
	assert.Equal(t, "collector:4317", cfg.OTLPEndpoint)
}

func TestConfigFromLookup_Defaults(t *testing.T) {
	cfg := configFromLookup(lookupMap(map[string]string{"REFLEX_DEBUG": "not-a-bool"}))
	assert.Equal(t, DefaultConfig(), cfg)
}

func newTestApp(t *testing.T, cfg *Config) *App {
	t.Helper()
	a, err := New(cfg, Options{NoLogFile: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestNew_DefaultProfiles(t *testing.T) {
	dir := t.TempDir()
	a := newTestApp(t, &Config{StoragePath: dir})

	assert.Equal(t, filepath.Join(dir, "config.yaml"), a.ConfigPath())
	assert.Equal(t, []string{"local", "reflection-demo"}, a.Servers().IDs())
}

func TestNew_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "servers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
servers:
  staging:
    name: Staging
    endpoint: staging.internal:443
    headers:
      x-env: staging
`), 0o644))

	a := newTestApp(t, &Config{StoragePath: dir, ConfigPath: path})
	p, err := a.Servers().Server("staging")
	require.NoError(t, err)
	assert.Equal(t, "staging.internal:443", p.Endpoint)
}

func TestNew_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("servers:\n  x:\n    endpoint: \"\"\n"), 0o644))

	_, err := New(&Config{StoragePath: dir, ConfigPath: path}, Options{NoLogFile: true})
	assert.Error(t, err)
}

func TestNewClient(t *testing.T) {
	a := newTestApp(t, &Config{StoragePath: t.TempDir()})

	c, err := a.NewClient("localhost:9090")
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, "localhost:9090", c.Endpoint().String())

	_, err = a.NewClient("ftp://nope")
	assert.Error(t, err)
}

func TestRecordCall(t *testing.T) {
	a := newTestApp(t, &Config{StoragePath: t.TempDir()})

	a.RecordCall(domain.HistoryEntry{
		Endpoint: "localhost:9090",
		Method:   "demo.Orders/Get",
		Status:   "success",
	}, true)

	history, err := a.Storage().History(0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.NotEmpty(t, history[0].ID)
	assert.False(t, history[0].Timestamp.IsZero())

	recent, err := a.Storage().RecentEndpoints()
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "localhost:9090", recent[0].Endpoint)
	assert.True(t, recent[0].Plaintext)
}
