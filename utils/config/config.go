// Package config handles file and environment-based configuration for the
// Firecracker VM daemon.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete daemon configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Firecracker  FirecrackerConfig  `yaml:"firecracker"`
	Logs         LogsConfig         `yaml:"logs"`
	Database     DatabaseConfig     `yaml:"database"`
	LogRetention LogRetentionConfig `yaml:"log_retention"`
	Stats        StatsConfig        `yaml:"stats"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        string   `yaml:"port"`
	Mode        string   `yaml:"mode"` // "debug" or "release"
	CORSOrigins []string `yaml:"cors_origins"`
}

// Address returns host:port.
func (s ServerConfig) Address() string {
	return s.Host + ":" + s.Port
}

// FirecrackerConfig contains settings for the external VM-control executable.
type FirecrackerConfig struct {
	WorkDir          string        `yaml:"work_dir"`
	Script           string        `yaml:"script"`
	ArcControllerURL string        `yaml:"arc_controller_url"`
	ProcessMarker    string        `yaml:"process_marker"`
	CreateTimeout    time.Duration `yaml:"create_timeout"`
	CommandTimeout   time.Duration `yaml:"command_timeout"`
	QueryTimeout     time.Duration `yaml:"query_timeout"`
}

// LogsConfig contains VM log collection settings.
type LogsConfig struct {
	Dirs     []string `yaml:"dirs"`
	MaxBytes int      `yaml:"max_bytes"` // per category
}

// DatabaseConfig contains the action audit database settings. A path of "-"
// disables the audit trail; after Finalize a disabled trail has an empty path.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogRetentionConfig contains audit trail retention settings.
type LogRetentionConfig struct {
	Days int `yaml:"days"`
}

// StatsConfig contains process stats refresh settings.
type StatsConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// LoggingConfig contains daemon log output settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        "8090",
			Mode:        "release",
			CORSOrigins: []string{"*"},
		},
		Firecracker: FirecrackerConfig{
			WorkDir:          "/opt/firecracker",
			Script:           "/usr/local/bin/firecracker-complete.sh",
			ArcControllerURL: "http://localhost:30080",
			ProcessMarker:    "firecracker",
			CreateTimeout:    10 * time.Minute,
			CommandTimeout:   5 * time.Minute,
			QueryTimeout:     30 * time.Second,
		},
		Logs: LogsConfig{
			MaxBytes: 256 * 1024,
		},
		LogRetention: LogRetentionConfig{
			Days: 30,
		},
		Stats: StatsConfig{
			Interval: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// environment variables, in increasing order of precedence.
//
// Configuration variables:
//   - DAEMON_HOST (default: "0.0.0.0")
//   - DAEMON_PORT (default: "8090")
//   - DAEMON_MODE (default: "release")
//   - DAEMON_CORS_ORIGINS (default: "*", comma separated)
//   - FIRECRACKER_WORK_DIR (default: "/opt/firecracker")
//   - FIRECRACKER_SCRIPT (default: "/usr/local/bin/firecracker-complete.sh")
//   - FIRECRACKER_ARC_CONTROLLER_URL (default: "http://localhost:30080")
//   - FIRECRACKER_PROCESS_MARKER (default: "firecracker")
//   - FIRECRACKER_CREATE_TIMEOUT (default: "10m")
//   - FIRECRACKER_COMMAND_TIMEOUT (default: "5m")
//   - FIRECRACKER_QUERY_TIMEOUT (default: "30s")
//   - FIRECRACKER_LOG_DIRS (default: work dir, work dir/logs, work dir/vms,
//     /var/log/firecracker, /tmp)
//   - FIRECRACKER_LOG_MAX_BYTES (default: "262144")
//   - DAEMON_DB_PATH (default: "<work dir>/daemon-actions.db", empty disables)
//   - DAEMON_LOG_RETENTION_DAYS (default: "30")
//   - DAEMON_STATS_INTERVAL (default: "10s")
//   - DAEMON_LOG_LEVEL (default: "info")
//   - DAEMON_LOG_FORMAT (default: "json")
//
// Call Finalize after applying any further overrides (e.g. CLI flags).
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	return cfg, nil
}

// applyEnv overrides cfg with any environment variables that are set.
func applyEnv(cfg *Config) {
	cfg.Server.Host = getEnv("DAEMON_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnv("DAEMON_PORT", cfg.Server.Port)
	cfg.Server.Mode = getEnv("DAEMON_MODE", cfg.Server.Mode)
	cfg.Server.CORSOrigins = getEnvList("DAEMON_CORS_ORIGINS", cfg.Server.CORSOrigins)

	cfg.Firecracker.WorkDir = getEnv("FIRECRACKER_WORK_DIR", cfg.Firecracker.WorkDir)
	cfg.Firecracker.Script = getEnv("FIRECRACKER_SCRIPT", cfg.Firecracker.Script)
	cfg.Firecracker.ArcControllerURL = getEnv("FIRECRACKER_ARC_CONTROLLER_URL", cfg.Firecracker.ArcControllerURL)
	cfg.Firecracker.ProcessMarker = getEnv("FIRECRACKER_PROCESS_MARKER", cfg.Firecracker.ProcessMarker)
	cfg.Firecracker.CreateTimeout = getEnvDuration("FIRECRACKER_CREATE_TIMEOUT", cfg.Firecracker.CreateTimeout)
	cfg.Firecracker.CommandTimeout = getEnvDuration("FIRECRACKER_COMMAND_TIMEOUT", cfg.Firecracker.CommandTimeout)
	cfg.Firecracker.QueryTimeout = getEnvDuration("FIRECRACKER_QUERY_TIMEOUT", cfg.Firecracker.QueryTimeout)

	cfg.Logs.Dirs = getEnvList("FIRECRACKER_LOG_DIRS", cfg.Logs.Dirs)
	cfg.Logs.MaxBytes = getEnvInt("FIRECRACKER_LOG_MAX_BYTES", cfg.Logs.MaxBytes)

	// An explicitly empty DAEMON_DB_PATH disables the audit trail, so
	// LookupEnv is used instead of getEnv.
	if path, ok := os.LookupEnv("DAEMON_DB_PATH"); ok {
		cfg.Database.Path = path
		if path == "" {
			cfg.Database.Path = "-"
		}
	}

	cfg.LogRetention.Days = getEnvInt("DAEMON_LOG_RETENTION_DAYS", cfg.LogRetention.Days)
	cfg.Stats.Interval = getEnvDuration("DAEMON_STATS_INTERVAL", cfg.Stats.Interval)
	cfg.Logging.Level = getEnv("DAEMON_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("DAEMON_LOG_FORMAT", cfg.Logging.Format)
}

// Finalize fills in values derived from the work directory and validates the
// result.
func (c *Config) Finalize() error {
	if len(c.Logs.Dirs) == 0 {
		c.Logs.Dirs = []string{
			c.Firecracker.WorkDir,
			filepath.Join(c.Firecracker.WorkDir, "logs"),
			filepath.Join(c.Firecracker.WorkDir, "vms"),
			"/var/log/firecracker",
			"/tmp",
		}
	}

	switch c.Database.Path {
	case "":
		c.Database.Path = filepath.Join(c.Firecracker.WorkDir, "daemon-actions.db")
	case "-":
		c.Database.Path = ""
	}

	if err := validate(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// AuditEnabled reports whether executor actions are recorded.
func (c *Config) AuditEnabled() bool {
	return c.Database.Path != ""
}

// LogSummary writes the effective configuration to logger.
func (c *Config) LogSummary(logger *slog.Logger) {
	logger.Info("Configuration loaded",
		"address", c.Server.Address(),
		"mode", c.Server.Mode,
		"work_dir", c.Firecracker.WorkDir,
		"script", c.Firecracker.Script,
		"create_timeout", c.Firecracker.CreateTimeout,
		"command_timeout", c.Firecracker.CommandTimeout,
		"query_timeout", c.Firecracker.QueryTimeout,
		"log_dirs", c.Logs.Dirs,
		"audit_db", c.Database.Path,
		"log_retention_days", c.LogRetention.Days,
		"stats_interval", c.Stats.Interval,
	)
}

// validate checks if the configuration is valid.
func validate(cfg *Config) error {
	port, err := strconv.Atoi(cfg.Server.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %q", cfg.Server.Port)
	}
	if cfg.Server.Mode != "debug" && cfg.Server.Mode != "release" {
		return fmt.Errorf("server mode must be debug or release, got %q", cfg.Server.Mode)
	}
	if cfg.Firecracker.WorkDir == "" {
		return errors.New("work directory is required")
	}
	if cfg.Firecracker.Script == "" {
		return errors.New("VM control executable path is required")
	}
	if cfg.Firecracker.ProcessMarker == "" {
		return errors.New("process marker is required")
	}
	if cfg.Firecracker.CreateTimeout < time.Second ||
		cfg.Firecracker.CommandTimeout < time.Second ||
		cfg.Firecracker.QueryTimeout < time.Second {
		return errors.New("executor timeouts must be at least 1 second")
	}
	if cfg.Logs.MaxBytes < 1 {
		return errors.New("log max bytes must be positive")
	}
	if cfg.LogRetention.Days < 1 {
		return errors.New("log retention days must be at least 1")
	}
	if cfg.Stats.Interval < time.Second {
		return errors.New("stats interval must be at least 1 second")
	}
	if cfg.Logging.Format != "json" && cfg.Logging.Format != "text" {
		return fmt.Errorf("log format must be json or text, got %q", cfg.Logging.Format)
	}

	return nil
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		slog.Warn("Invalid integer value, using default", "key", key, "value", value, "default", defaultValue)
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable or returns a default value.
// Accepts values like "30s", "5m", "1h"
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		slog.Warn("Invalid duration value, using default", "key", key, "value", value, "default", defaultValue)
	}
	return defaultValue
}

// getEnvList retrieves a comma separated environment variable or returns a
// default value. Empty elements are dropped.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
