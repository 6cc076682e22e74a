// Package config loads and validates the daemon configuration from a YAML
// file with a .env overlay and WARDSTATE_* environment overrides.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store"`
	Cache       CacheConfig       `yaml:"cache"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Events      EventsConfig      `yaml:"events"`
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// StoreBackend enumerates the supported durable backends.
type StoreBackend string

const (
	BackendSQLite   StoreBackend = "sqlite"
	BackendPostgres StoreBackend = "postgres"
)

// StoreConfig selects and parameterizes the durable backend. The two
// backends are functionally interchangeable; only connection parameters
// differ.
type StoreConfig struct {
	Backend StoreBackend `yaml:"backend"`
	// Path is the database file for the sqlite backend.
	Path string `yaml:"path,omitempty"`
	// DSN is the connection string for the postgres backend.
	DSN string `yaml:"dsn,omitempty"`
}

// CacheConfig bounds the in-memory cache and its interaction with the store.
type CacheConfig struct {
	TTL            Duration `yaml:"ttl"`
	MaxEntries     int      `yaml:"max_entries"`
	SweepInterval  Duration `yaml:"sweep_interval"`
	StaleAfter     Duration `yaml:"stale_after"`
	HydrateTimeout Duration `yaml:"hydrate_timeout"`
	FlushTimeout   Duration `yaml:"flush_timeout"`
}

// MaintenanceConfig controls the periodic store maintenance task.
type MaintenanceConfig struct {
	Interval         Duration `yaml:"interval"`
	PursuitRetention Duration `yaml:"pursuit_retention"`
}

// EventsConfig wires the optional NATS session-lifecycle event source.
type EventsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	NATSURL       string `yaml:"nats_url,omitempty"`
	SubjectPrefix string `yaml:"subject_prefix,omitempty"`
}

// ServerConfig parameterizes the admin HTTP server.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the configuration file, applies defaults, environment overrides
// and validation.
func Load(configPath string) (*Config, error) {
	// Load .env if present; existing process env wins.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Note: .env file couldn't be loaded: %v\n", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read configuration: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse configuration: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets deployment environments override connection and
// logging settings without editing the file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("WARDSTATE_STORE_BACKEND"); v != "" {
		c.Store.Backend = StoreBackend(v)
	}
	if v := os.Getenv("WARDSTATE_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("WARDSTATE_STORE_DSN"); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv("WARDSTATE_NATS_URL"); v != "" {
		c.Events.NATSURL = v
	}
	if v := os.Getenv("WARDSTATE_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("WARDSTATE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks the configuration for fatal mistakes.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q (expected sqlite or postgres)", c.Store.Backend)
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive")
	}
	if c.Cache.SweepInterval <= 0 {
		return fmt.Errorf("cache.sweep_interval must be positive")
	}
	if c.Cache.StaleAfter <= 0 {
		return fmt.Errorf("cache.stale_after must be positive")
	}
	if c.Cache.HydrateTimeout <= 0 || c.Cache.FlushTimeout <= 0 {
		return fmt.Errorf("cache.hydrate_timeout and cache.flush_timeout must be positive")
	}
	if c.Maintenance.Interval <= 0 {
		return fmt.Errorf("maintenance.interval must be positive")
	}
	if c.Events.Enabled && c.Events.NATSURL == "" {
		return fmt.Errorf("events.nats_url is required when events are enabled")
	}
	return nil
}
