// Package config loads the daemon configuration from an optional YAML file
// with REPORTD_* environment variable overrides. Environment values win over
// file values; both win over defaults.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	envListenAddr          = "REPORTD_LISTEN_ADDR"
	envAuthSecret          = "REPORTD_AUTH_SECRET"
	envSubmitRate          = "REPORTD_SUBMIT_RATE"
	envSubmitBurst         = "REPORTD_SUBMIT_BURST"
	envWorkers             = "REPORTD_WORKERS"
	envQueueSize           = "REPORTD_QUEUE_SIZE"
	envDefaultTimeoutS     = "REPORTD_DEFAULT_TIMEOUT_S"
	envCancelGraceS        = "REPORTD_CANCEL_GRACE_S"
	envDefaultPriority     = "REPORTD_DEFAULT_PRIORITY"
	envArtifactDir         = "REPORTD_ARTIFACT_DIR"
	envAuditDBPath         = "REPORTD_AUDIT_DB_PATH"
	envFileRetentionDays   = "REPORTD_FILE_RETENTION_DAYS"
	envAuditRetentionHours = "REPORTD_AUDIT_RETENTION_HOURS"
	envSweepIntervalS      = "REPORTD_SWEEP_INTERVAL_S"
	envLogLevel            = "REPORTD_LOG_LEVEL"
)

// Config holds the daemon configuration. Durations are plain integers with
// the unit in the field name, matching the timeout_s convention of the job
// model.
type Config struct {
	ListenAddr          string  `yaml:"listen_addr"`
	AuthSecret          string  `yaml:"auth_secret"`
	SubmitRate          float64 `yaml:"submit_rate"`
	SubmitBurst         int     `yaml:"submit_burst"`
	Workers             int     `yaml:"workers"`
	QueueSize           int     `yaml:"queue_size"`
	DefaultTimeoutS     int     `yaml:"default_timeout_s"`
	CancelGraceS        int     `yaml:"cancel_grace_s"`
	DefaultPriority     int     `yaml:"default_priority"`
	ArtifactDir         string  `yaml:"artifact_dir"`
	AuditDBPath         string  `yaml:"audit_db_path"`
	FileRetentionDays   int     `yaml:"file_retention_days"`
	AuditRetentionHours int     `yaml:"audit_retention_hours"`
	SweepIntervalS      int     `yaml:"sweep_interval_s"`
	LogLevel            string  `yaml:"log_level"`
}

func defaults() Config {
	return Config{
		ListenAddr:          ":8080",
		SubmitRate:          10,
		SubmitBurst:         20,
		Workers:             4,
		QueueSize:           100,
		DefaultTimeoutS:     600,
		CancelGraceS:        5,
		DefaultPriority:     5,
		ArtifactDir:         "artifacts",
		AuditDBPath:         "reportd.db",
		FileRetentionDays:   7,
		AuditRetentionHours: 24,
		SweepIntervalS:      3600,
		LogLevel:            "info",
	}
}

// Load reads configuration from the YAML file at path, if it exists, then
// applies environment overrides and validates the result. An empty path skips
// the file entirely.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Missing file runs on defaults; the environment still applies.
		case err != nil:
			return Config{}, fmt.Errorf("read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envAuthSecret); v != "" {
		cfg.AuthSecret = v
	}
	if v := os.Getenv(envSubmitRate); v != "" {
		if rate, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.SubmitRate = rate
		}
	}
	if v := os.Getenv(envSubmitBurst); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SubmitBurst = n
		}
	}
	if v := os.Getenv(envWorkers); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
	if v := os.Getenv(envQueueSize); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueSize = n
		}
	}
	if v := os.Getenv(envDefaultTimeoutS); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DefaultTimeoutS = n
		}
	}
	if v := os.Getenv(envCancelGraceS); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CancelGraceS = n
		}
	}
	if v := os.Getenv(envDefaultPriority); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DefaultPriority = n
		}
	}
	if v := os.Getenv(envArtifactDir); v != "" {
		cfg.ArtifactDir = v
	}
	if v := os.Getenv(envAuditDBPath); v != "" {
		cfg.AuditDBPath = v
	}
	if v := os.Getenv(envFileRetentionDays); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.FileRetentionDays = n
		}
	}
	if v := os.Getenv(envAuditRetentionHours); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AuditRetentionHours = n
		}
	}
	if v := os.Getenv(envSweepIntervalS); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SweepIntervalS = n
		}
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = v
	}
}

// Validate checks the configuration for values the daemon cannot run with.
// Zero retention values are allowed and mean "expire immediately".
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.SubmitRate <= 0 {
		return fmt.Errorf("submit_rate must be positive, got %v", c.SubmitRate)
	}
	if c.SubmitBurst < 1 {
		return fmt.Errorf("submit_burst must be at least 1, got %d", c.SubmitBurst)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", c.QueueSize)
	}
	if c.DefaultTimeoutS < 1 {
		return fmt.Errorf("default_timeout_s must be at least 1, got %d", c.DefaultTimeoutS)
	}
	if c.CancelGraceS < 0 {
		return fmt.Errorf("cancel_grace_s must be non-negative, got %d", c.CancelGraceS)
	}
	if c.ArtifactDir == "" {
		return fmt.Errorf("artifact_dir is required")
	}
	if c.AuditDBPath == "" {
		return fmt.Errorf("audit_db_path is required")
	}
	if c.FileRetentionDays < 0 {
		return fmt.Errorf("file_retention_days must be non-negative, got %d", c.FileRetentionDays)
	}
	if c.AuditRetentionHours < 0 {
		return fmt.Errorf("audit_retention_hours must be non-negative, got %d", c.AuditRetentionHours)
	}
	if c.SweepIntervalS < 1 {
		return fmt.Errorf("sweep_interval_s must be at least 1, got %d", c.SweepIntervalS)
	}
	return nil
}

// Level returns the configured log level, defaulting to info.
func (c Config) Level() slog.Level {
	return parseLogLevel(c.LogLevel)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
