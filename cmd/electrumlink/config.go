package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/revittco/electrumlink/internal/config"
	"github.com/revittco/electrumlink/internal/store/sqlite"
)

const defaultHTTPAddr = "127.0.0.1:8090"

// Config holds application configuration loaded from environment variables.
type Config struct {
	HTTPAddr       string        // "127.0.0.1:8090"
	DBDSN          string        // sqlite file path
	ConfigFile     string        // path to electrumlink.yaml
	LogLevel       slog.Level    // slog level
	LogFormat      string        // "json" or "text"
	EventRetention time.Duration // connection events older than this are pruned
}

// defaultDataPath returns ~/.electrumlink/<filename>, falling back to
// a CWD-relative path if the home directory can't be resolved.
func defaultDataPath(filename string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filename
	}
	return filepath.Join(home, ".electrumlink", filename)
}

func loadConfig() (*Config, error) {
	retention, err := time.ParseDuration(envOr("ELECTRUMLINK_EVENT_RETENTION", "168h"))
	if err != nil {
		return nil, fmt.Errorf("ELECTRUMLINK_EVENT_RETENTION: %w", err)
	}
	cfg := &Config{
		HTTPAddr:       envOr("ELECTRUMLINK_HTTP_ADDR", defaultHTTPAddr),
		DBDSN:          envOr("ELECTRUMLINK_DB_DSN", defaultDataPath("electrumlink.db")),
		ConfigFile:     envOr("ELECTRUMLINK_CONFIG", defaultDataPath("electrumlink.yaml")),
		LogLevel:       parseLogLevel(envOr("ELECTRUMLINK_LOG_LEVEL", "info")),
		LogFormat:      envOr("ELECTRUMLINK_LOG_FORMAT", "json"),
		EventRetention: retention,
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// applyFlags parses --name=value flags from the args list and returns the
// remaining positional arguments.
func applyFlags(cfg *Config, args []string) []string {
	var rest []string
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || !strings.HasPrefix(name, "--") {
			rest = append(rest, arg)
			continue
		}
		switch name {
		case "--addr":
			cfg.HTTPAddr = value
		case "--db":
			cfg.DBDSN = value
		case "--config":
			cfg.ConfigFile = value
		case "--log-level":
			cfg.LogLevel = parseLogLevel(value)
		case "--log-format":
			cfg.LogFormat = value
		default:
			rest = append(rest, arg)
		}
	}
	return rest
}

// newLogger builds the process logger and installs it as the default.
func newLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	var h slog.Handler = slog.NewJSONHandler(os.Stderr, opts)
	if cfg.LogFormat == "text" {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

// loadFileConfig reads the YAML file if it exists and falls back to the
// built-in defaults otherwise.
func loadFileConfig(path string) (*config.FileConfig, error) {
	if path == "" {
		return config.Default(), nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return config.Default(), nil
		}
		return nil, err
	}
	return config.LoadFile(path)
}

// openStore opens the database, creating its directory on first use.
func openStore(ctx context.Context, dsn string) (*sqlite.DB, error) {
	if dir := filepath.Dir(dsn); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := sqlite.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if mode, err := db.Pragma(ctx, "journal_mode"); err == nil && mode != "wal" {
		slog.Warn("database not in WAL mode; concurrent reads may block", "path", dsn, "journal_mode", mode)
	}
	return db, nil
}

// prepareServers seeds and applies the server list and returns the file
// config in effect. Built-in servers are only seeded when the file names
// none of its own.
func prepareServers(ctx context.Context, cfg *Config, db *sqlite.DB) (*config.FileConfig, error) {
	fileCfg, err := loadFileConfig(cfg.ConfigFile)
	if err != nil {
		return nil, err
	}
	if len(fileCfg.Servers) == 0 {
		if err := config.SeedDefaultServers(ctx, db); err != nil {
			return nil, fmt.Errorf("seed servers: %w", err)
		}
	}
	if err := config.Apply(ctx, db, fileCfg); err != nil {
		return nil, fmt.Errorf("apply config: %w", err)
	}
	return fileCfg, nil
}
