package app

import (
	"os"
	"strconv"
)

// Config holds application-wide configuration.
type Config struct {
	// Debug enables debug logging and additional diagnostics
	Debug bool

	// StoragePath is the directory where history and saved requests are stored
	StoragePath string

	// ConfigPath is the server profile file; <StoragePath>/config.yaml when empty
	ConfigPath string

	// OTLPEndpoint receives trace spans over OTLP/gRPC; tracing is off when empty
	OTLPEndpoint string
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Debug:       false,
		StoragePath: "", // Will use DefaultStoragePath() from storage package
	}
}

// ConfigFromEnv creates a configuration from environment variables.
// Reads REFLEX_DEBUG, REFLEX_STORAGE_PATH, REFLEX_CONFIG and REFLEX_OTLP_ENDPOINT.
func ConfigFromEnv() *Config {
	return configFromLookup(os.LookupEnv)
}

func configFromLookup(lookup func(string) (string, bool)) *Config {
	cfg := DefaultConfig()

	if debugStr, ok := lookup("REFLEX_DEBUG"); ok && debugStr != "" {
		if debug, err := strconv.ParseBool(debugStr); err == nil {
			cfg.Debug = debug
		}
	}
	if storagePath, ok := lookup("REFLEX_STORAGE_PATH"); ok && storagePath != "" {
		cfg.StoragePath = storagePath
	}
	if configPath, ok := lookup("REFLEX_CONFIG"); ok && configPath != "" {
		cfg.ConfigPath = configPath
	}
	if endpoint, ok := lookup("REFLEX_OTLP_ENDPOINT"); ok {
		cfg.OTLPEndpoint = endpoint
	}

	return cfg
}
