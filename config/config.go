// Package config defines the tasktimer daemon configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage drivers understood by kv.Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverFile     = "file"
	DriverMemory   = "memory"
)

// Config is the top-level tasktimer configuration.
type Config struct {
	Server   ServerConfig  `json:"server" yaml:"server"`
	Storage  StorageConfig `json:"storage" yaml:"storage"`
	Timer    TimerConfig   `json:"timer" yaml:"timer"`
	LogLevel string        `json:"log_level" yaml:"log_level"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Addr        string   `json:"addr" yaml:"addr"` // listen address, e.g., ":9191"
	CORSOrigins []string `json:"cors_origins,omitempty" yaml:"cors_origins"`
}

// StorageConfig selects and configures the durable key-value store.
type StorageConfig struct {
	Driver string `json:"driver" yaml:"driver"`       // sqlite, postgres, file or memory
	Path   string `json:"path,omitempty" yaml:"path"` // sqlite database file or file-store directory
	DSN    string `json:"dsn,omitempty" yaml:"dsn"`   // postgres connection string
	Key    string `json:"key" yaml:"key"`             // record key holding the task list
}

// TimerConfig controls the stopwatch.
type TimerConfig struct {
	TickInterval time.Duration `json:"tick_interval" yaml:"tick_interval"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        ":9191",
			CORSOrigins: []string{"*"},
		},
		Storage: StorageConfig{
			Driver: DriverSQLite,
			Path:   "./data/tasktimer.db",
			Key:    "tasks",
		},
		Timer: TimerConfig{
			TickInterval: 100 * time.Millisecond,
		},
		LogLevel: "info",
	}
}

// Load reads a YAML config file and returns the parsed configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but returns DefaultConfig when path does
// not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultConfig(), nil
	}
	return cfg, err
}

// Validate reports configuration values the daemon cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverSQLite, DriverFile:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for driver %q", c.Storage.Driver)
		}
	case DriverPostgres:
		if c.Storage.DSN == "" {
			return errors.New("storage.dsn is required for driver \"postgres\"")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	if c.Storage.Key == "" {
		return errors.New("storage.key must not be empty")
	}
	if c.Timer.TickInterval <= 0 {
		return errors.New("timer.tick_interval must be positive")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel into a slog.Level.
func (c *Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}
	return lvl, nil
}
