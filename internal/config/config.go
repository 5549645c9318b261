// Package config provides configuration loading for stagehand.
//
// Precedence (highest to lowest): STAGEHAND_* environment variables,
// YAML config file, hardcoded defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the engine configuration.
type Config struct {
	// Home is the stagehand workspace directory holding workflows,
	// artifacts, the execution log, and the lock file.
	Home     string         `koanf:"home"`
	Logging  LoggingConfig  `koanf:"logging"`
	Policy   PolicyConfig   `koanf:"policy"`
	Retry    RetryConfig    `koanf:"retry"`
	Stages   StagesConfig   `koanf:"stages"`
	Worker   WorkerConfig   `koanf:"worker"`
	Alerts   AlertsConfig   `koanf:"alerts"`
	EventLog EventLogConfig `koanf:"eventlog"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // console or json
}

type PolicyConfig struct {
	// Path to the policy document. Empty or missing file means no
	// policy: the evaluator fails open.
	Path string `koanf:"path"`
	// RejectThreshold is the minimum match confidence on a scope-out
	// entry or constraint that blocks a request.
	RejectThreshold float64 `koanf:"reject_threshold"`
}

type RetryConfig struct {
	// MaxAttempts bounds stage invocations for transient failures,
	// including the first attempt.
	MaxAttempts    int           `koanf:"max_attempts"`
	InitialBackoff time.Duration `koanf:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff"`
}

type StagesConfig struct {
	// DefaultTimeout applies to stages whose definition carries none.
	DefaultTimeout time.Duration `koanf:"default_timeout"`
}

type WorkerConfig struct {
	// Command is the external stage worker executable. It receives the
	// stage input as JSON on stdin and must print the artifact payload
	// as JSON on stdout. Empty means no worker is configured.
	Command string   `koanf:"command"`
	Args    []string `koanf:"args"`
}

type AlertsConfig struct {
	// Command is an external alerting hook invoked with the alert title
	// and message as its final two arguments. Empty falls back to a
	// desktop notification.
	Command string   `koanf:"command"`
	Args    []string `koanf:"args"`
}

type EventLogConfig struct {
	// MaxSizeBytes triggers rotation of the execution log.
	MaxSizeBytes int64 `koanf:"max_size_bytes"`
}

// Default returns the built-in configuration. Home defaults to
// ~/.stagehand; the policy document to <home>/policy.yaml.
func Default() Config {
	home := ".stagehand"
	if dir, err := os.UserHomeDir(); err == nil {
		home = filepath.Join(dir, ".stagehand")
	}
	return Config{
		Home: home,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Policy: PolicyConfig{
			RejectThreshold: 0.8,
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     10 * time.Second,
		},
		Stages: StagesConfig{
			DefaultTimeout: 5 * time.Minute,
		},
		EventLog: EventLogConfig{
			MaxSizeBytes: 100 * 1024 * 1024,
		},
	}
}

// PolicyPath resolves the effective policy document path.
func (c Config) PolicyPath() string {
	if c.Policy.Path != "" {
		return c.Policy.Path
	}
	return filepath.Join(c.Home, "policy.yaml")
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.Home == "" {
		return fmt.Errorf("home directory must be set")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Stages.DefaultTimeout <= 0 {
		return fmt.Errorf("stages.default_timeout must be positive, got %s", c.Stages.DefaultTimeout)
	}
	if c.Policy.RejectThreshold < 0 || c.Policy.RejectThreshold > 1 {
		return fmt.Errorf("policy.reject_threshold must be in [0,1], got %g", c.Policy.RejectThreshold)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}
