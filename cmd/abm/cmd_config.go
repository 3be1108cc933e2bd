package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nvandessel/abm/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage abm configuration",
		Long: `View and modify abm configuration settings.

Configuration is stored in ~/.abm/config.yaml. Environment variables
(ABM_LOG_LEVEL, ABM_OUTPUT_FORMAT, ABM_STORE_DSN, ...) override the file.

Examples:
  abm config list                          # Show effective settings
  abm config get store.driver              # Get a specific setting
  abm config set output.format jsonl       # Set a setting
  abm config set store.dsn '${ABM_PG_DSN}' # Expanded when loaded`,
	}

	cmd.AddCommand(
		newConfigListCmd(),
		newConfigGetCmd(),
		newConfigSetCmd(),
	)

	return cmd
}

func newConfigListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all configuration settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			out := cmd.OutOrStdout()

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if jsonOut {
				// Redact the DSN before serialization to prevent leakage
				redacted := *cfg
				redacted.Store.DSN = cfg.Store.RedactedDSN()
				return json.NewEncoder(out).Encode(redacted)
			}

			fmt.Fprintln(out, "Configuration (~/.abm/config.yaml):")
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Logging:")
			fmt.Fprintf(out, "  logging.level:           %s\n", cfg.Logging.Level)
			fmt.Fprintf(out, "  logging.run_log:         %s\n", valueOrDefault(cfg.Logging.RunLog, "(not set)"))
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Output:")
			fmt.Fprintf(out, "  output.format:           %s\n", cfg.Output.Format)
			fmt.Fprintf(out, "  output.ordered:          %v\n", cfg.Output.Ordered)
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Store:")
			fmt.Fprintf(out, "  store.enabled:           %v\n", cfg.Store.Enabled)
			fmt.Fprintf(out, "  store.driver:            %s\n", cfg.Store.Driver)
			fmt.Fprintf(out, "  store.dsn:               %s\n", valueOrDefault(cfg.Store.RedactedDSN(), "(default)"))
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Simulation:")
			fmt.Fprintf(out, "  simulation.workers:      %s\n", workersLabel(cfg.Simulation.Workers))
			return nil
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			out := cmd.OutOrStdout()
			key := args[0]

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			value, found := getConfigValue(cfg, key)
			if !found {
				return fmt.Errorf("unknown configuration key: %s", key)
			}

			if jsonOut {
				return json.NewEncoder(out).Encode(map[string]interface{}{
					"key":   key,
					"value": value,
				})
			}
			fmt.Fprintf(out, "%s = %v\n", key, value)
			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			out := cmd.OutOrStdout()
			key := args[0]
			value := args[1]

			cfg, err := loadFileConfig()
			if err != nil {
				return err
			}

			if err := setConfigValue(cfg, key, value); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid value for %s: %w", key, err)
			}

			if err := saveConfig(cfg); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			if jsonOut {
				return json.NewEncoder(out).Encode(map[string]interface{}{
					"status": "updated",
					"key":    key,
				})
			}
			fmt.Fprintf(out, "Set %s\n", key)
			return nil
		},
	}
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.AbmConfig, key string) (interface{}, bool) {
	switch key {
	case "logging.level":
		return cfg.Logging.Level, true
	case "logging.run_log":
		return cfg.Logging.RunLog, true
	case "output.format":
		return cfg.Output.Format, true
	case "output.ordered":
		return cfg.Output.Ordered, true
	case "store.enabled":
		return cfg.Store.Enabled, true
	case "store.driver":
		return cfg.Store.Driver, true
	case "store.dsn":
		return cfg.Store.RedactedDSN(), true
	case "simulation.workers":
		return cfg.Simulation.Workers, true
	default:
		return nil, false
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.AbmConfig, key, value string) error {
	switch key {
	case "logging.level":
		cfg.Logging.Level = value
	case "logging.run_log":
		cfg.Logging.RunLog = value
	case "output.format":
		cfg.Output.Format = value
	case "output.ordered":
		cfg.Output.Ordered = value == "true" || value == "1"
	case "store.enabled":
		cfg.Store.Enabled = value == "true" || value == "1"
	case "store.driver":
		cfg.Store.Driver = value
	case "store.dsn":
		cfg.Store.DSN = value
	case "simulation.workers":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid worker count: %s", value)
		}
		cfg.Simulation.Workers = n
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}

// configPath returns ~/.abm/config.yaml.
func configPath() (string, error) {
	home, err := config.HomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, "config.yaml"), nil
}

// loadFileConfig reads the config file without env overrides or ${VAR}
// expansion, so saving it back does not bake them in.
func loadFileConfig() (*config.AbmConfig, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	cfg := config.Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// saveConfig writes the configuration to ~/.abm/config.yaml.
func saveConfig(cfg *config.AbmConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create .abm directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// valueOrDefault returns the value if non-empty, otherwise the default.
func valueOrDefault(value, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}

func workersLabel(n int) string {
	if n == 0 {
		return "0 (one per CPU)"
	}
	return strconv.Itoa(n)
}
