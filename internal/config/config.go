// Package config provides unified configuration loading for abm.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// AbmConfig contains all abm configuration settings.
type AbmConfig struct {
	// Logging contains settings for operational and run-event logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Output contains settings for telemetry written to stdout.
	Output OutputConfig `json:"output" yaml:"output"`

	// Store contains settings for persisting telemetry to a database.
	Store StoreConfig `json:"store" yaml:"store"`

	// Simulation contains execution settings shared by every run.
	Simulation SimulationConfig `json:"simulation" yaml:"simulation"`
}

// LoggingConfig configures abm's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables run-event logging to RunLog.
	// "trace" additionally logs every iteration of every replicate.
	Level string `json:"level" yaml:"level"`

	// RunLog is the JSONL file run events are appended to. Supports ${VAR}.
	RunLog string `json:"run_log,omitempty" yaml:"run_log,omitempty"`
}

// OutputConfig configures telemetry output.
type OutputConfig struct {
	// Format is "csv" (default) or "jsonl".
	Format string `json:"format" yaml:"format"`

	// Ordered buffers each replicate and writes replicates in index order.
	Ordered bool `json:"ordered" yaml:"ordered"`
}

// StoreConfig configures the telemetry database.
type StoreConfig struct {
	// Enabled persists every run's telemetry in addition to stdout.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Driver is "sqlite" (default), "postgres" or "pgx".
	Driver string `json:"driver" yaml:"driver"`

	// DSN is the data source name. Empty selects ~/.abm/abm.db for sqlite.
	// Supports ${VAR} syntax for env vars.
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

// RedactedDSN returns the DSN with any password masked.
func (c StoreConfig) RedactedDSN() string {
	if c.DSN == "" {
		return ""
	}
	u, err := url.Parse(c.DSN)
	if err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			return u.Redacted()
		}
	}
	if strings.Contains(c.DSN, "password=") {
		return "(set)"
	}
	return c.DSN
}

// String implements fmt.Stringer to prevent accidental password logging.
func (c StoreConfig) String() string {
	return fmt.Sprintf("StoreConfig{Enabled:%t, Driver:%s, DSN:%s}", c.Enabled, c.Driver, c.RedactedDSN())
}

// SimulationConfig configures replicate execution.
type SimulationConfig struct {
	// Workers bounds the replicate worker pool. 0 means one per CPU.
	Workers int `json:"workers" yaml:"workers"`
}

// Default returns an AbmConfig with sensible defaults.
func Default() *AbmConfig {
	return &AbmConfig{
		Logging: LoggingConfig{
			Level: "info",
		},
		Output: OutputConfig{
			Format: "csv",
		},
		Store: StoreConfig{
			Driver: "sqlite",
		},
	}
}

// HomeDir returns ~/.abm.
func HomeDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".abm"), nil
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> ~/.abm/config.yaml -> environment variables
func Load() (*AbmConfig, error) {
	config := Default()

	if home, err := HomeDir(); err == nil {
		configPath := filepath.Join(home, "config.yaml")
		if _, statErr := os.Stat(configPath); statErr == nil {
			fileConfig, loadErr := LoadFromFile(configPath)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			config = fileConfig
		}
		if config.Logging.RunLog == "" {
			config.Logging.RunLog = filepath.Join(home, "runs.jsonl")
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file.
func LoadFromFile(path string) (*AbmConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.Store.DSN = expandEnvVars(config.Store.DSN)
	config.Logging.RunLog = expandEnvVars(config.Logging.RunLog)

	return config, nil
}

// Validate checks that the configuration is valid.
func (c *AbmConfig) Validate() error {
	validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}

	validFormats := map[string]bool{"": true, "csv": true, "jsonl": true}
	if !validFormats[c.Output.Format] {
		return fmt.Errorf("invalid output format: %s (valid: csv, jsonl)", c.Output.Format)
	}

	validDrivers := map[string]bool{"": true, "sqlite": true, "postgres": true, "pgx": true}
	if !validDrivers[c.Store.Driver] {
		return fmt.Errorf("invalid store driver: %s (valid: sqlite, postgres, pgx)", c.Store.Driver)
	}
	if c.Store.Enabled && c.Store.Driver != "" && c.Store.Driver != "sqlite" && c.Store.DSN == "" {
		return fmt.Errorf("store driver %s requires a dsn", c.Store.Driver)
	}

	if c.Simulation.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", c.Simulation.Workers)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *AbmConfig) {
	if v := os.Getenv("ABM_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("ABM_RUN_LOG"); v != "" {
		config.Logging.RunLog = v
	}

	if v := os.Getenv("ABM_OUTPUT_FORMAT"); v != "" {
		config.Output.Format = v
	}
	if v := os.Getenv("ABM_OUTPUT_ORDERED"); v != "" {
		config.Output.Ordered = v == "true" || v == "1"
	}

	if v := os.Getenv("ABM_STORE_ENABLED"); v != "" {
		config.Store.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("ABM_STORE_DRIVER"); v != "" {
		config.Store.Driver = v
	}
	if v := os.Getenv("ABM_STORE_DSN"); v != "" {
		config.Store.DSN = v
	}

	if v := os.Getenv("ABM_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Simulation.Workers = n
		}
	}
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
