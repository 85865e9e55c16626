// Package config loads the daemon configuration: which device models to
// bring up, how their dispatchers are triggered, and how chatty the logs
// are. Values come from a YAML file with REMIO_* environment overrides on
// top.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid configuration")

// Trigger mode names accepted in configuration.
const (
	TriggerInterrupt = "interrupt"
	TriggerPolling   = "polling"
)

// DM declares one device model to create at startup.
type DM struct {
	ID        uint32 `yaml:"id"`
	ShmemAddr uint64 `yaml:"shmem_addr"`
	ShmemSize uint64 `yaml:"shmem_size"`
	IRQ       uint32 `yaml:"irq"`
}

// Config is the daemon configuration.
type Config struct {
	Trigger      string        `yaml:"trigger"`
	PollInterval time.Duration `yaml:"poll_interval"`
	LogLevel     string        `yaml:"log_level"`
	DMs          []DM          `yaml:"device_models"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Trigger:      TriggerInterrupt,
		PollInterval: time.Millisecond,
		LogLevel:     "info",
	}
}

// Load reads a YAML configuration file, applies environment overrides and
// validates the result. An empty path yields the default configuration,
// still subject to overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("REMIO_TRIGGER"); v != "" {
		c.Trigger = v
	}
	if v := os.Getenv("REMIO_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.PollInterval = d
		}
	}
	if v := os.Getenv("REMIO_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	switch c.Trigger {
	case TriggerInterrupt, TriggerPolling:
	default:
		return fmt.Errorf("%w: unknown trigger mode %q", ErrInvalid, c.Trigger)
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("%w: negative poll interval %s", ErrInvalid, c.PollInterval)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}

	seen := make(map[uint32]bool, len(c.DMs))
	for _, dm := range c.DMs {
		if seen[dm.ID] {
			return fmt.Errorf("%w: duplicate device model id %d", ErrInvalid, dm.ID)
		}
		seen[dm.ID] = true
		if dm.ShmemSize == 0 {
			return fmt.Errorf("%w: device model %d has no shared memory", ErrInvalid, dm.ID)
		}
	}
	return nil
}

// SlogLevel maps the configured log level name onto a slog level.
func (c Config) SlogLevel() (slog.Level, error) {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("%w: unknown log level %q", ErrInvalid, c.LogLevel)
}
