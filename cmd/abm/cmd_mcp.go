package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/abm/internal/config"
	"github.com/nvandessel/abm/internal/logging"
	"github.com/nvandessel/abm/internal/mcp"
	"github.com/nvandessel/abm/internal/store"
)

func newMCPServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp-server",
		Short: "Run an MCP server over stdio",
		Long: `Start a Model Context Protocol server on stdin/stdout exposing the
abm_simulate, abm_validate, abm_presets and abm_runs tools.

Logs go to stderr. Tool calls are audited to ~/.abm/audit.jsonl.

Examples:
  abm mcp-server                   # Simulation tools only
  abm mcp-server --store           # Also allow persisting runs`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			maxWork, _ := cmd.Flags().GetInt64("max-work")
			persist := cfg.Store.Enabled
			if cmd.Flags().Changed("store") {
				persist, _ = cmd.Flags().GetBool("store")
			}

			logger := newLogger(cmd, cfg)
			runLog := logging.NewRunLogger(cfg.Logging.RunLog, cfg.Logging.Level)
			defer runLog.Close()

			var st *store.Store
			if persist {
				st, err = store.Open(cmd.Context(), cfg.Store.Driver, cfg.Store.DSN)
				if err != nil {
					return fmt.Errorf("failed to open store: %w", err)
				}
				defer st.Close()
			}

			auditDir, _ := config.HomeDir()
			server, err := mcp.NewServer(&mcp.Config{
				Name:     "abm",
				Version:  version,
				Workers:  cfg.Simulation.Workers,
				MaxWork:  maxWork,
				Store:    st,
				AuditDir: auditDir,
				Logger:   logger,
				RunLog:   runLog,
			})
			if err != nil {
				return fmt.Errorf("failed to create MCP server: %w", err)
			}
			defer server.Close()

			return server.Run(cmd.Context())
		},
	}
	cmd.Flags().Bool("store", false, "Enable persistence and the abm_runs tool (default from config)")
	cmd.Flags().Int64("max-work", mcp.DefaultMaxWork, "Largest agents x replicates x iterations one call may run")
	return cmd
}
