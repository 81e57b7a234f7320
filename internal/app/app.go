package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shhac/reflex/internal/config"
	"github.com/shhac/reflex/internal/domain"
	"github.com/shhac/reflex/internal/grpc"
	"github.com/shhac/reflex/internal/logging"
	"github.com/shhac/reflex/internal/storage"
	"github.com/shhac/reflex/internal/telemetry"
)

const appName = "reflex"

// Options controls process-level wiring that does not come from the
// environment.
type Options struct {
	Console   io.Writer // stderr diagnostics; nil disables them
	Verbose   bool
	NoLogFile bool
}

// App is the main application coordinator, responsible for wiring
// together all components and managing their lifecycle.
type App struct {
	config     *Config
	configPath string
	logger     *slog.Logger
	storage    storage.Repository
	servers    *config.File
	closeLog   func() error
	shutdown   func(context.Context) error
}

// New creates a new App instance with the given configuration.
// This performs all dependency injection and wiring.
func New(cfg *Config, opts Options) (*App, error) {
	logger, closeLog, err := logging.Setup(logging.Options{
		AppName: appName,
		Debug:   cfg.Debug,
		Verbose: opts.Verbose,
		Console: opts.Console,
		NoFile:  opts.NoLogFile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Debug("initializing reflex",
		slog.Bool("debug", cfg.Debug),
		slog.String("storage_path", cfg.StoragePath),
	)

	// Initialize storage
	storagePath := cfg.StoragePath
	if storagePath == "" {
		storagePath, err = storage.DefaultStoragePath()
		if err != nil {
			_ = closeLog()
			return nil, fmt.Errorf("failed to determine storage path: %w", err)
		}
	}
	repo := storage.NewJSONRepository(storagePath, logger)

	configPath := cfg.ConfigPath
	if configPath == "" {
		configPath = filepath.Join(storagePath, "config.yaml")
	}
	servers, err := config.Load(configPath)
	if err != nil {
		_ = closeLog()
		return nil, fmt.Errorf("failed to load server profiles: %w", err)
	}

	shutdown, err := telemetry.Setup(cfg.OTLPEndpoint, appName)
	if err != nil {
		_ = closeLog()
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logger.Debug("application initialized",
		slog.String("config_path", configPath),
		slog.Int("server_profiles", len(servers.Servers)),
		slog.Bool("tracing", cfg.OTLPEndpoint != ""),
	)

	return &App{
		config:     cfg,
		configPath: configPath,
		logger:     logger,
		storage:    repo,
		servers:    servers,
		closeLog:   closeLog,
		shutdown:   shutdown,
	}, nil
}

// Logger returns the application logger.
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// Storage returns the storage repository.
func (a *App) Storage() storage.Repository {
	return a.storage
}

// Servers returns the loaded server profiles.
func (a *App) Servers() *config.File {
	return a.servers
}

// ConfigPath returns the server profile file in use.
func (a *App) ConfigPath() string {
	return a.configPath
}

// NewClient creates a client for target that logs through the application
// logger. Later options override earlier ones.
func (a *App) NewClient(target string, opts ...grpc.Option) (*grpc.Client, error) {
	opts = append([]grpc.Option{grpc.WithLogger(a.logger)}, opts...)
	return grpc.NewClient(target, opts...)
}

// RecordCall appends a call to history and marks its endpoint as recently
// used. Storage failures are logged and otherwise ignored.
func (a *App) RecordCall(entry domain.HistoryEntry, plaintext bool) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if err := a.storage.AppendHistory(entry); err != nil {
		a.logger.Warn("failed to record history", slog.Any("error", err))
	}
	err := a.storage.RecordEndpoint(domain.RecentEndpoint{
		Endpoint:  entry.Endpoint,
		Plaintext: plaintext,
		LastUsed:  entry.Timestamp,
	})
	if err != nil {
		a.logger.Warn("failed to record recent endpoint", slog.Any("error", err))
	}
}

// Close flushes telemetry and releases the log file.
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return errors.Join(a.shutdown(ctx), a.closeLog())
}
