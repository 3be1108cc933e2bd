package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"sync"

	"github.com/spf13/cobra"

	"github.com/nvandessel/abm/internal/config"
	"github.com/nvandessel/abm/internal/logging"
	"github.com/nvandessel/abm/internal/params"
	"github.com/nvandessel/abm/internal/simulation"
	"github.com/nvandessel/abm/internal/store"
	"github.com/nvandessel/abm/internal/telemetry"
)

// setFlags are the flags that describe a single parameter set. They cannot be
// combined with --scenario.
var setFlags = []string{"name", "agents", "replicates", "param", "transition", "model", "begin", "end", "seed"}

func newRunCmd() *cobra.Command {
	defaults := params.Default()

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation group and stream telemetry to stdout",
		Long: `Run replicated simulations of one or more parameter sets.

Each parameter set runs as one group of independent replicates. Records are
written to stdout as CSV (A = state tallies, B = running totals) or JSONL.

Examples:
  abm run -a 1000 -n 20                         # 20 replicates of 1000 agents
  abm run -p beta:0.5 -p contacts:20            # random-contacts exposure
  abm run -t SD:0.5 -t YV:0.2 --seed 42         # reproducible, custom risks
  abm run --scenario scenarios.yaml --ordered   # several named sets
  abm run --store                               # also persist to ~/.abm/abm.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			opts, err := runOptionsFromFlags(cmd, cfg)
			if err != nil {
				return err
			}
			sets, err := parameterSets(cmd)
			if err != nil {
				return err
			}

			logger := newLogger(cmd, cfg)
			runLog := logging.NewRunLogger(cfg.Logging.RunLog, cfg.Logging.Level)
			defer runLog.Close()

			var st *store.Store
			if opts.persist {
				st, err = store.Open(cmd.Context(), opts.driver, opts.dsn)
				if err != nil {
					return fmt.Errorf("failed to open store: %w", err)
				}
				defer st.Close()
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			sigChan := make(chan os.Signal, 1)
			notifySignals(sigChan)
			defer signal.Stop(sigChan)
			go func() {
				select {
				case <-sigChan:
					logger.Warn("interrupted; replicates not yet started will be skipped")
					cancel()
				case <-ctx.Done():
				}
			}()

			out := &headerOnce{Sink: telemetry.NewLineSink(cmd.OutOrStdout(), opts.format)}
			r := &runner{opts: opts, store: st, out: out, logger: logger, runLog: runLog}
			for _, p := range sets {
				if err := r.runSet(ctx, p); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringP("name", "s", defaults.Name, "Name written to every record")
	cmd.Flags().IntP("agents", "a", defaults.Agents, "Population size")
	cmd.Flags().IntP("replicates", "n", defaults.Replicates, "Number of independent replicates")
	cmd.Flags().StringArrayP("param", "p", nil, "Parameter override <name:value> (beta, contacts, isolation); repeatable")
	cmd.Flags().StringArrayP("transition", "t", nil, "Risk override <XY:value>, e.g. SD:0.5; repeatable")
	cmd.Flags().StringP("model", "m", "", "Risk preset (default covid)")
	cmd.Flags().Int("begin", defaults.BeginIteration, "First during-event iteration")
	cmd.Flags().Int("end", defaults.EndIteration, "Last during-event iteration")
	cmd.Flags().Uint64("seed", 0, "Seed for reproducible runs (default random, logged)")
	cmd.Flags().Int("workers", 0, "Worker pool size (default from config, 0 = one per CPU)")
	cmd.Flags().Bool("ordered", false, "Write replicates in index order instead of interleaved")
	cmd.Flags().String("format", "", "Output format: csv or jsonl (default from config)")
	cmd.Flags().String("scenario", "", "YAML file of named parameter sets")
	cmd.Flags().Bool("store", false, "Persist telemetry to the configured store")
	cmd.Flags().String("store-driver", "", "Store driver: sqlite, postgres, pgx (implies --store)")
	cmd.Flags().String("store-dsn", "", "Store data source name (implies --store)")

	return cmd
}

// runOptions are the execution settings shared by every parameter set.
type runOptions struct {
	format  telemetry.Format
	ordered bool
	workers int
	persist bool
	driver  string
	dsn     string
}

func runOptionsFromFlags(cmd *cobra.Command, cfg *config.AbmConfig) (runOptions, error) {
	opts := runOptions{
		ordered: cfg.Output.Ordered,
		workers: cfg.Simulation.Workers,
		persist: cfg.Store.Enabled,
		driver:  cfg.Store.Driver,
		dsn:     cfg.Store.DSN,
	}

	format := cfg.Output.Format
	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		format = string(telemetry.FormatJSONL)
	}
	if cmd.Flags().Changed("format") {
		format, _ = cmd.Flags().GetString("format")
	}
	var err error
	if opts.format, err = telemetry.ParseFormat(format); err != nil {
		return runOptions{}, err
	}

	if cmd.Flags().Changed("ordered") {
		opts.ordered, _ = cmd.Flags().GetBool("ordered")
	}
	if cmd.Flags().Changed("workers") {
		opts.workers, _ = cmd.Flags().GetInt("workers")
		if opts.workers < 0 {
			return runOptions{}, fmt.Errorf("--workers must not be negative, got %d", opts.workers)
		}
	}
	if cmd.Flags().Changed("store") {
		opts.persist, _ = cmd.Flags().GetBool("store")
	}
	if cmd.Flags().Changed("store-driver") {
		opts.driver, _ = cmd.Flags().GetString("store-driver")
		opts.persist = true
	}
	if cmd.Flags().Changed("store-dsn") {
		opts.dsn, _ = cmd.Flags().GetString("store-dsn")
		opts.persist = true
	}
	return opts, nil
}

// parameterSets returns the sets to run: every scenario in --scenario, or
// the single set described by the flags.
func parameterSets(cmd *cobra.Command) ([]params.Parameters, error) {
	if path, _ := cmd.Flags().GetString("scenario"); path != "" {
		for _, name := range setFlags {
			if cmd.Flags().Changed(name) {
				return nil, fmt.Errorf("--%s cannot be combined with --scenario", name)
			}
		}
		return params.LoadScenarios(path)
	}

	base := params.Default()
	base.Risks = nil
	base.Name, _ = cmd.Flags().GetString("name")
	base.Agents, _ = cmd.Flags().GetInt("agents")
	base.Replicates, _ = cmd.Flags().GetInt("replicates")
	base.BeginIteration, _ = cmd.Flags().GetInt("begin")
	base.EndIteration, _ = cmd.Flags().GetInt("end")
	if cmd.Flags().Changed("seed") {
		seed, _ := cmd.Flags().GetUint64("seed")
		base.Seed = &seed
	}

	sc := params.Scenario{Parameters: base}
	sc.Model, _ = cmd.Flags().GetString("model")
	sc.Transitions, _ = cmd.Flags().GetStringArray("transition")
	sc.Overrides, _ = cmd.Flags().GetStringArray("param")
	p, err := sc.Resolve()
	if err != nil {
		return nil, err
	}
	return []params.Parameters{p}, nil
}

// runner executes parameter sets one group at a time.
type runner struct {
	opts   runOptions
	store  *store.Store
	out    telemetry.Sink
	logger *slog.Logger
	runLog *logging.RunLogger
}

func (r *runner) runSet(ctx context.Context, p params.Parameters) error {
	sink := r.out
	var runSink *store.RunSink
	if r.store != nil {
		// Persisted runs record their seed, so fix it before the group does.
		if p.Seed == nil {
			seed := rand.Uint64()
			p.Seed = &seed
		}
		var err error
		if runSink, err = r.store.BeginRun(ctx, p, *p.Seed); err != nil {
			return fmt.Errorf("failed to record run %q: %w", p.Name, err)
		}
		sink = telemetry.Multi(r.out, runSink)
	}

	group := simulation.NewGroup(simulation.GroupConfig{
		Workers: r.opts.workers,
		Ordered: r.opts.ordered,
		Sink:    sink,
		Logger:  r.logger,
		RunLog:  r.runLog,
	})
	err := group.CreateSimulations(simulation.New(p))
	if err == nil {
		err = group.Run(ctx)
	}
	if runSink != nil {
		err = errors.Join(err, runSink.Finish(err))
		r.logger.Info("run persisted", "run_id", runSink.RunID(), "driver", r.store.Driver())
	}
	if err != nil {
		return fmt.Errorf("run %q: %w", p.Name, err)
	}
	return nil
}

// headerOnce forwards to Sink but writes the header pair only once, so
// sequential groups share one CSV stream.
type headerOnce struct {
	telemetry.Sink
	once sync.Once
	err  error
}

func (h *headerOnce) WriteHeader() error {
	h.once.Do(func() { h.err = h.Sink.WriteHeader() })
	return h.err
}
