package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nvandessel/abm/internal/logging"
	"github.com/nvandessel/abm/internal/telemetry"
)

// ErrNoSimulations is returned when Run is called before CreateSimulations.
var ErrNoSimulations = errors.New("no simulations to run")

// GroupConfig configures a simulation group.
type GroupConfig struct {
	// Workers bounds the worker pool. Zero means runtime.NumCPU().
	Workers int

	// Ordered buffers each replicate's telemetry and flushes the buffers in
	// replicate order. Otherwise replicates write straight to Sink and their
	// lines interleave.
	Ordered bool

	// Sink receives the header pair and every replicate's records. Nil
	// discards telemetry.
	Sink telemetry.Sink

	Logger *slog.Logger
	RunLog *logging.RunLogger
}

// Group runs independent replicates of one configuration on a bounded pool
// of workers.
type Group struct {
	cfg         GroupConfig
	simulations []*Simulation
	seed        uint64
}

// NewGroup creates an empty group.
func NewGroup(cfg GroupConfig) *Group {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Sink == nil {
		cfg.Sink = telemetry.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return &Group{cfg: cfg}
}

// CreateSimulations validates the template's parameters and clones it once
// per configured replicate. Replicate i draws from PCG(seed, i), where seed
// is the template's configured seed or a freshly drawn one.
func (g *Group) CreateSimulations(template *Simulation) error {
	if err := template.Params.Validate(); err != nil {
		return fmt.Errorf("invalid configuration %q: %w", template.Params.Name, err)
	}

	if template.Params.Seed != nil {
		g.seed = *template.Params.Seed
	} else {
		g.seed = rand.Uint64()
	}

	n := template.Params.Replicates
	g.simulations = make([]*Simulation, 0, n)
	for i := 0; i < n; i++ {
		sim := template.Clone(i)
		sim.SetRand(NewRand(g.seed, uint64(i)))
		sim.SetLogger(g.cfg.Logger)
		g.simulations = append(g.simulations, sim)
	}
	return nil
}

// Simulations returns the replicates, indexed by replicate id.
func (g *Group) Simulations() []*Simulation {
	return g.simulations
}

// Seed returns the seed the replicate streams were derived from.
func (g *Group) Seed() uint64 {
	return g.seed
}

// Workers returns the pool size.
func (g *Group) Workers() int {
	return g.cfg.Workers
}

// Run writes the header pair, submits every replicate to the pool and blocks
// until all of them have finished. A replicate always runs to completion
// once started; cancelling ctx only stops replicates that have not started.
func (g *Group) Run(ctx context.Context) error {
	n := len(g.simulations)
	if n == 0 {
		return ErrNoSimulations
	}
	name := g.simulations[0].Params.Name
	workers := min(g.cfg.Workers, n)
	start := time.Now()

	g.cfg.Logger.Info("starting simulation group",
		"name", name, "replicates", n, "workers", workers, "seed", g.seed, "ordered", g.cfg.Ordered)
	g.cfg.RunLog.Log(map[string]any{
		"event": "group_start", "name": name, "replicates": n, "workers": workers, "seed": g.seed,
	})

	if err := g.cfg.Sink.WriteHeader(); err != nil {
		return fmt.Errorf("writing telemetry header: %w", err)
	}

	var buffers []*telemetry.Buffer
	var done []chan struct{}
	if g.cfg.Ordered {
		buffers = make([]*telemetry.Buffer, n)
		done = make([]chan struct{}, n)
	}
	for i, sim := range g.simulations {
		if g.cfg.Ordered {
			buffers[i] = telemetry.NewBuffer()
			done[i] = make(chan struct{})
			sim.SetSink(buffers[i])
		} else {
			sim.SetSink(g.cfg.Sink)
		}
	}

	queue := make(chan int, n)
	for i := range g.simulations {
		queue <- i
	}
	close(queue)

	var eg errgroup.Group
	for w := 0; w < workers; w++ {
		eg.Go(func() error {
			var firstErr error
			for i := range queue {
				err := g.runReplicate(ctx, i)
				if done != nil {
					close(done[i])
				}
				if err != nil && firstErr == nil {
					firstErr = err
				}
			}
			return firstErr
		})
	}

	var flushErr error
	for i := range done {
		<-done[i]
		if err := buffers[i].ReplayTo(g.cfg.Sink); err != nil && flushErr == nil {
			flushErr = fmt.Errorf("flushing replicate %d: %w", i, err)
		}
	}

	err := errors.Join(eg.Wait(), flushErr)

	g.cfg.Logger.Info("simulation group finished",
		"name", name, "replicates", n, "duration", time.Since(start).Round(time.Millisecond), "error", err)
	g.cfg.RunLog.Log(map[string]any{
		"event": "group_finish", "name": name, "duration_ms": time.Since(start).Milliseconds(), "ok": err == nil,
	})
	return err
}

// runReplicate runs one replicate unless ctx was cancelled before it started.
func (g *Group) runReplicate(ctx context.Context, i int) error {
	sim := g.simulations[i]
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("replicate %d not started: %w", i, err)
	}

	start := time.Now()
	g.cfg.RunLog.Log(map[string]any{
		"event": "replicate_start", "name": sim.Params.Name, "replicate": i, "seed": g.seed, "stream": i,
	})

	err := sim.Run()

	g.cfg.RunLog.Log(map[string]any{
		"event":        "replicate_finish",
		"name":         sim.Params.Name,
		"replicate":    i,
		"duration_ms":  time.Since(start).Milliseconds(),
		"infections":   sim.TotalInfections,
		"vaccinations": sim.TotalVaccinations,
	})
	if err != nil {
		return fmt.Errorf("replicate %d: %w", i, err)
	}
	return nil
}
