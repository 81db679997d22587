// Package config loads taskhive configuration from YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fentz26/taskhive/internal/logging"
	"github.com/fentz26/taskhive/internal/scheduler"
	"gopkg.in/yaml.v3"
)

// Config is the full taskhive configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Store     StoreConfig      `yaml:"store"`
	Scheduler scheduler.Config `yaml:"scheduler"`
	Worker    WorkerConfig     `yaml:"worker"`
	Log       logging.Config   `yaml:"log"`
}

// ServerConfig configures the master's HTTP API.
type ServerConfig struct {
	Listen          string        `yaml:"listen"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig configures the event journal.
type StoreConfig struct {
	Path     string `yaml:"path"`
	Disabled bool   `yaml:"disabled"`
	// Retention is how long events are kept; 0 keeps everything.
	Retention time.Duration `yaml:"retention"`
	// PruneSchedule is the crontab on which old events are pruned.
	PruneSchedule string `yaml:"prune_schedule"`
}

// WorkerConfig configures a worker agent.
type WorkerConfig struct {
	ID                string        `yaml:"id"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	Concurrency       int           `yaml:"concurrency"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          "127.0.0.1:7466",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Path:          DefaultJournalPath(),
			Retention:     7 * 24 * time.Hour,
			PruneSchedule: "0 * * * *",
		},
		Scheduler: *scheduler.DefaultConfig(),
		Worker: WorkerConfig{
			HeartbeatInterval: 3 * time.Second,
			PollInterval:      time.Second,
			Concurrency:       1,
		},
		Log: logging.DefaultConfig(),
	}
}

// DefaultJournalPath returns ~/.taskhive/journal.db.
func DefaultJournalPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".taskhive", "journal.db")
	}
	return filepath.Join(homeDir, ".taskhive", "journal.db")
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 || c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server timeouts must not be negative")
	}
	if !c.Store.Disabled && c.Store.Path == "" {
		return fmt.Errorf("store.path is required unless store.disabled is set")
	}
	if c.Store.Retention < 0 {
		return fmt.Errorf("store.retention must not be negative")
	}
	if c.Store.Retention > 0 && c.Store.PruneSchedule == "" {
		return fmt.Errorf("store.prune_schedule is required when store.retention is set")
	}
	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if c.Worker.HeartbeatInterval <= 0 {
		return fmt.Errorf("worker.heartbeat_interval must be positive")
	}
	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker.poll_interval must be positive")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be at least 1")
	}
	if c.Worker.HeartbeatInterval >= c.Scheduler.HeartbeatTimeout {
		return fmt.Errorf("worker.heartbeat_interval (%s) must be shorter than scheduler.heartbeat_timeout (%s)",
			c.Worker.HeartbeatInterval, c.Scheduler.HeartbeatTimeout)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}
