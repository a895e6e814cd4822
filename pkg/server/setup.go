package server

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/peerdash/peerdash/pkg/bandwidth"
	"github.com/peerdash/peerdash/pkg/clients"
	"github.com/peerdash/peerdash/pkg/config"
	"github.com/peerdash/peerdash/pkg/ingest"
	"github.com/peerdash/peerdash/pkg/storage"
	"github.com/peerdash/peerdash/pkg/storage/badger"
)

// Config holds server configuration.
type Config struct {
	Port          string
	DataDir       string
	MaxMemoryMB   int64
	MaxStorageGB  int64
	RetentionDays int64
	LogFile       string
	Debug         bool
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (Config, error) {
	cfg := Config{
		Port:          config.GetEnvString("PEERDASH_PORT", config.DefaultPort),
		DataDir:       config.GetEnvString("PEERDASH_DATA_DIR", config.DefaultDataDir),
		MaxMemoryMB:   config.GetEnvInt64("PEERDASH_MAX_MEMORY_MB", config.DefaultMaxMemoryMB),
		MaxStorageGB:  config.GetEnvInt64("PEERDASH_MAX_STORAGE_GB", config.DefaultMaxStorageGB),
		RetentionDays: config.GetEnvInt64("PEERDASH_RETENTION_DAYS", config.DefaultRetentionDays),
		LogFile:       config.GetEnvString("PEERDASH_LOG_FILE", ""),
		Debug:         config.GetEnvBool("PEERDASH_DEBUG", false),
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return cfg, fmt.Errorf("failed to create data directory: %w", err)
	}
	return cfg, nil
}

// InitLogger builds the global zap logger: console output always, plus a
// rotated JSON file sink when a log file is configured.
func InitLogger(cfg Config) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if cfg.Debug {
		level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.AddSync(os.Stdout),
		level,
	)

	var core zapcore.Core = consoleCore
	if cfg.LogFile != "" {
		fileSink := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    64,
			MaxBackups: 7,
			MaxAge:     7,
		}
		core = zapcore.NewTee(
			consoleCore,
			zapcore.NewCore(
				zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
				zapcore.AddSync(fileSink),
				level,
			),
		)
	}

	zap.ReplaceGlobals(zap.New(core, zap.AddCaller()))
}

// InitializeStorage opens the BadgerDB backend.
func InitializeStorage(cfg Config) (storage.Storage, error) {
	zap.L().Info("opening storage", zap.String("path", cfg.DataDir))
	store, err := badger.New(badger.Config{
		Path:        cfg.DataDir,
		MaxMemoryMB: cfg.MaxMemoryMB,
	})
	if err != nil {
		return nil, err
	}
	zap.L().Info("storage initialized")
	return store, nil
}

// InitializeHandlers creates the engine and all request handlers.
func InitializeHandlers(
	store storage.Storage,
	catalog *clients.Catalog,
) (*bandwidth.Engine, *bandwidth.Handler, *ingest.Handler, *ingest.TickHub) {
	engine := bandwidth.New(store, catalog)
	hub := ingest.NewTickHub()

	queryHandler := bandwidth.NewHandler(engine)
	ingestHandler := ingest.NewHandler(engine, hub)

	zap.L().Info("handlers created")
	return engine, queryHandler, ingestHandler, hub
}
