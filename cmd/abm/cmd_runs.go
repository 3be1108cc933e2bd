package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nvandessel/abm/internal/models"
	"github.com/nvandessel/abm/internal/store"
	"github.com/nvandessel/abm/internal/telemetry"
)

// addStoreFlags registers the flags that select a store other than the
// configured one.
func addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().String("store-driver", "", "Store driver: sqlite, postgres, pgx (default from config)")
	cmd.Flags().String("store-dsn", "", "Store data source name (default from config)")
}

// openStore opens the store selected by config and the store flags.
func openStore(cmd *cobra.Command) (*store.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	driver, dsn := cfg.Store.Driver, cfg.Store.DSN
	if cmd.Flags().Changed("store-driver") {
		driver, _ = cmd.Flags().GetString("store-driver")
	}
	if cmd.Flags().Changed("store-dsn") {
		dsn, _ = cmd.Flags().GetString("store-dsn")
	}
	st, err := store.Open(cmd.Context(), driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return st, nil
}

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List persisted simulation runs",
		Long: `List runs recorded with 'abm run --store', newest first.

Examples:
  abm runs                # All runs in ~/.abm/abm.db
  abm runs --limit 5      # The five most recent
  abm runs --json         # Machine-readable`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			limit, _ := cmd.Flags().GetInt("limit")
			out := cmd.OutOrStdout()

			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.ListRuns(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list runs: %w", err)
			}
			if limit > 0 && len(runs) > limit {
				runs = runs[:limit]
			}

			if jsonOut {
				return json.NewEncoder(out).Encode(map[string]interface{}{
					"runs":  runs,
					"count": len(runs),
				})
			}

			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs found.")
				return nil
			}
			fmt.Fprintf(out, "%-36s  %-20s  %-8s  %10s  %8s  %-20s  %s\n",
				"RUN ID", "NAME", "STATUS", "REPLICATES", "AGENTS", "SEED", "CREATED")
			for _, r := range runs {
				fmt.Fprintf(out, "%-36s  %-20s  %-8s  %10d  %8d  %-20s  %s\n",
					r.ID, truncate(r.Name, 20), r.Status, r.Replicates, r.Agents,
					strconv.FormatUint(r.Seed, 10), r.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 0, "Show at most this many runs (0 = all)")
	addStoreFlags(cmd)
	return cmd
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <run-id>",
		Short: "Replay a persisted run's telemetry to stdout",
		Long: `Write a persisted run's records in the same format 'abm run' produces,
ordered by replicate and iteration.

Examples:
  abm export 4b1d...             # CSV
  abm export 4b1d... --format jsonl`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatName, _ := cmd.Flags().GetString("format")
			format, err := telemetry.ParseFormat(formatName)
			if err != nil {
				return err
			}

			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			if _, err := st.GetRun(cmd.Context(), args[0]); err != nil {
				return err
			}
			return st.Export(cmd.Context(), args[0], telemetry.NewLineSink(cmd.OutOrStdout(), format))
		},
	}
	cmd.Flags().String("format", "csv", "Output format: csv or jsonl")
	addStoreFlags(cmd)
	return cmd
}

func newSummaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary <run-id>",
		Short: "Summarize a persisted run across replicates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			out := cmd.OutOrStdout()
			ctx := cmd.Context()

			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			run, err := st.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			tallies, err := st.Tallies(ctx, run.ID)
			if err != nil {
				return err
			}
			totals, err := st.Totals(ctx, run.ID)
			if err != nil {
				return err
			}
			sum := telemetry.Summarize(tallies, totals)

			if jsonOut {
				final := make(map[string]telemetry.Moments, models.NumStates)
				for _, s := range models.AllStates() {
					final[s.Column()] = sum.Final[s]
				}
				return json.NewEncoder(out).Encode(map[string]interface{}{
					"run":          run,
					"final":        final,
					"infections":   sum.Infections,
					"vaccinations": sum.Vaccinations,
				})
			}

			fmt.Fprintf(out, "Run %s (%s, %s)\n", run.ID, run.Name, run.Status)
			fmt.Fprintf(out, "  %d replicates of %d agents, iterations %d..%d, seed %d\n\n",
				len(sum.Replicates), run.Agents, run.Begin, run.End, run.Seed)
			fmt.Fprintf(out, "  %-6s %10s %10s %8s %8s\n", "STATE", "MEAN", "STD", "MIN", "MAX")
			for _, s := range models.AllStates() {
				m := sum.Final[s]
				fmt.Fprintf(out, "  %-6s %10.2f %10.2f %8.0f %8.0f\n", s.Column(), m.Mean, m.StdDev, m.Min, m.Max)
			}
			fmt.Fprintf(out, "\n  infections:   mean %.2f, std %.2f\n", sum.Infections.Mean, sum.Infections.StdDev)
			fmt.Fprintf(out, "  vaccinations: mean %.2f, std %.2f\n", sum.Vaccinations.Mean, sum.Vaccinations.StdDev)
			return nil
		},
	}
	addStoreFlags(cmd)
	return cmd
}

// truncate shortens s to n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
