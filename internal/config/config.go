// ABOUTME: Configuration loading and parsing for crew-gateway.
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete crew-gateway configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Routing  RoutingConfig  `yaml:"routing"`
	Sessions SessionsConfig `yaml:"sessions"`
	Lock     LockConfig     `yaml:"lock"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds listener configuration. When the preferred port is
// taken the gateway increments and retries up to PortAttempts times.
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	PortAttempts int    `yaml:"port_attempts"`
}

// RoutingConfig holds dispatch routing configuration.
type RoutingConfig struct {
	DefaultAgent    string `yaml:"default_agent"`
	SpecialistsPath string `yaml:"specialists_path"`

	DispatchTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	DispatchTimeoutRaw string `yaml:"dispatch_timeout"`
}

// SessionsConfig holds session persistence and retention configuration.
type SessionsConfig struct {
	SnapshotPath string `yaml:"snapshot_path"`

	Retention        time.Duration `yaml:"-"`
	PurgeInterval    time.Duration `yaml:"-"`
	SnapshotInterval time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	RetentionRaw        string `yaml:"retention"`
	PurgeIntervalRaw    string `yaml:"purge_interval"`
	SnapshotIntervalRaw string `yaml:"snapshot_interval"`
}

// LockConfig holds the process lock file location.
type LockConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DataDir returns the crew data directory.
// Priority: XDG_DATA_HOME/crew > ~/.local/share/crew
func DataDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "crew")
}

// Default returns the configuration used when fields are absent from the
// config file (or no file exists at all).
func Default() *Config {
	dataDir := DataDir()
	return &Config{
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8765,
			PortAttempts: 10,
		},
		Routing: RoutingConfig{
			DefaultAgent:    "alex",
			DispatchTimeout: 5 * time.Second,
		},
		Sessions: SessionsConfig{
			SnapshotPath:     filepath.Join(dataDir, "sessions.json"),
			Retention:        24 * time.Hour,
			PurgeInterval:    time.Hour,
			SnapshotInterval: 5 * time.Minute,
		},
		Lock: LockConfig{
			Path: filepath.Join(dataDir, "gateway.lock"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file and returns a parsed Config layered over
// defaults. Environment variables in the format ${VAR_NAME} are expanded.
// A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, cfg.Validate()
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables become empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and
// valid. A missing default agent is a fatal configuration bug: without it
// unmatched requests would have no destination.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	if c.Server.PortAttempts < 1 {
		return fmt.Errorf("server.port_attempts must be at least 1")
	}
	if c.Routing.DefaultAgent == "" {
		return fmt.Errorf("routing.default_agent is required")
	}
	if c.Routing.DispatchTimeout <= 0 {
		return fmt.Errorf("routing.dispatch_timeout must be positive")
	}
	if c.Sessions.SnapshotPath == "" {
		return fmt.Errorf("sessions.snapshot_path is required")
	}
	if c.Lock.Path == "" {
		return fmt.Errorf("lock.path is required")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.Routing.DispatchTimeoutRaw, "dispatch_timeout", &cfg.Routing.DispatchTimeout},
		{cfg.Sessions.RetentionRaw, "retention", &cfg.Sessions.Retention},
		{cfg.Sessions.PurgeIntervalRaw, "purge_interval", &cfg.Sessions.PurgeInterval},
		{cfg.Sessions.SnapshotIntervalRaw, "snapshot_interval", &cfg.Sessions.SnapshotInterval},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
