// Package config loads run configuration from the environment, with an
// optional .env file for local development
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Config holds ledger run configuration
type Config struct {
	// Workers is the fixed worker pool size
	Workers int

	// QueueSize is the bounded per-worker queue capacity
	QueueSize int

	// SnapshotEvery controls aggregate snapshot cadence (0 disables)
	SnapshotEvery int

	// PostgresDSN points the event store at postgres instead of the
	// default temp sqlite database
	PostgresDSN string

	// LogLevel is a zap level string (debug, info, warn, error)
	LogLevel string
}

// Load reads configuration from the environment applying defaults
// A .env file is honored when present
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		PostgresDSN: os.Getenv("LEDGER_POSTGRES_DSN"),
		LogLevel:    envOr("LEDGER_LOG_LEVEL", "info"),
	}

	var err error

	if cfg.Workers, err = intEnv("LEDGER_WORKERS", runtime.NumCPU()); err != nil {
		return Config{}, err
	}

	if cfg.QueueSize, err = intEnv("LEDGER_QUEUE_SIZE", 100); err != nil {
		return Config{}, err
	}

	if cfg.SnapshotEvery, err = intEnv("LEDGER_SNAPSHOT_EVERY", 50); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Logger builds a structured logger writing to stderr (stdout is
// reserved for the projection output) at the configured level
func (c Config) Logger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = level
	zapCfg.OutputPaths = []string{"stderr"}
	zapCfg.ErrorOutputPaths = []string{"stderr"}

	return zapCfg.Build()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return def
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}

	return n, nil
}
