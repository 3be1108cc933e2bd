package mcp

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/abm/internal/models"
	"github.com/nvandessel/abm/internal/params"
	"github.com/nvandessel/abm/internal/simulation"
	"github.com/nvandessel/abm/internal/store"
	"github.com/nvandessel/abm/internal/telemetry"
)

const defaultRunsLimit = 20

var (
	// ErrTooMuchWork is returned when a simulate call exceeds the server's
	// agent-iteration budget.
	ErrTooMuchWork = errors.New("simulation too large")

	// ErrNoStore is returned by tools that need persistence when none is configured.
	ErrNoStore = errors.New("persistence is not configured; start the server with a store")
)

// registerTools registers all abm MCP tools with the server.
func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "abm_simulate",
		Description: "Run an agent-based epidemic simulation and return per-replicate outcomes with cross-replicate means",
	}, s.handleSimulate)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "abm_validate",
		Description: "Resolve and validate a simulation configuration without running it",
	}, s.handleValidate)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "abm_presets",
		Description: "List transition-risk presets, or print one preset's matrix",
	}, s.handlePresets)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "abm_runs",
		Description: "List simulation runs persisted in the telemetry database, newest first",
	}, s.handleRuns)
}

// resolveInput builds validated parameters from a tool call. Zero fields keep
// their defaults.
func resolveInput(in SimulateInput) (params.Parameters, error) {
	base := params.Default()
	base.Risks = nil
	if in.Name != "" {
		base.Name = in.Name
	}
	if in.Agents != 0 {
		base.Agents = in.Agents
	}
	if in.Replicates != 0 {
		base.Replicates = in.Replicates
	}
	base.BeginIteration = in.Begin
	base.EndIteration = in.Begin + params.DefaultIterations
	if in.End != nil {
		base.EndIteration = *in.End
	}
	if in.Seed != nil {
		seed := *in.Seed
		base.Seed = &seed
	}

	sc := params.Scenario{
		Parameters:  base,
		Model:       in.Model,
		Transitions: in.Transitions,
		Overrides:   in.Params,
	}
	return sc.Resolve()
}

// work is the number of agent-iterations a configuration costs.
func work(p params.Parameters) int64 {
	return int64(p.Agents) * int64(p.Replicates) * int64(p.Iterations()+1)
}

func (in SimulateInput) auditParams() map[string]string {
	end := ""
	if in.End != nil {
		end = strconv.Itoa(*in.End)
	}
	return sanitizeToolParams(map[string]any{
		"name": in.Name, "agents": in.Agents, "replicates": in.Replicates,
		"begin": in.Begin, "end": end, "model": in.Model,
		"params": in.Params, "transitions": in.Transitions, "seed": in.Seed,
		"workers": in.Workers, "persist": in.Persist,
	})
}

// handleSimulate implements the abm_simulate tool.
func (s *Server) handleSimulate(ctx context.Context, req *sdk.CallToolRequest, in SimulateInput) (_ *sdk.CallToolResult, _ SimulateOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("abm_simulate", start, retErr, in.auditParams())
	}()

	if err := s.toolLimiters.CheckLimit("abm_simulate"); err != nil {
		return nil, SimulateOutput{}, err
	}

	p, err := resolveInput(in)
	if err != nil {
		return nil, SimulateOutput{}, err
	}
	if w := work(p); w > s.maxWork {
		return nil, SimulateOutput{}, fmt.Errorf("%w: %d agent-iterations exceeds the limit of %d", ErrTooMuchWork, w, s.maxWork)
	}
	if err := s.toolLimiters.CheckWork("abm_simulate", work(p)); err != nil {
		return nil, SimulateOutput{}, err
	}
	if in.Persist && s.store == nil {
		return nil, SimulateOutput{}, ErrNoStore
	}

	// Fix the seed up front so a persisted run records it.
	if p.Seed == nil {
		seed := rand.Uint64()
		p.Seed = &seed
	}

	buf := telemetry.NewBuffer()
	var sink telemetry.Sink = buf
	var runSink *store.RunSink
	if in.Persist {
		runSink, err = s.store.BeginRun(ctx, p, *p.Seed)
		if err != nil {
			return nil, SimulateOutput{}, err
		}
		sink = telemetry.Multi(buf, runSink)
	}

	workers := in.Workers
	if workers <= 0 {
		workers = s.workers
	}
	group := simulation.NewGroup(simulation.GroupConfig{
		Workers: workers,
		Sink:    sink,
		Logger:  s.logger,
		RunLog:  s.runLog,
	})
	if err := group.CreateSimulations(simulation.New(p)); err != nil {
		if runSink != nil {
			_ = runSink.Finish(err)
		}
		return nil, SimulateOutput{}, err
	}

	runErr := group.Run(ctx)
	if runSink != nil {
		runErr = errors.Join(runErr, runSink.Finish(runErr))
	}
	if runErr != nil {
		return nil, SimulateOutput{}, fmt.Errorf("simulation failed: %w", runErr)
	}

	out := buildSimulateOutput(p, group.Seed(), telemetry.Summarize(buf.Tallies(), buf.Totals()))
	if runSink != nil {
		out.RunID = runSink.RunID()
	}
	return nil, out, nil
}

func buildSimulateOutput(p params.Parameters, seed uint64, sum telemetry.Summary) SimulateOutput {
	out := SimulateOutput{
		Name:       p.Name,
		Seed:       strconv.FormatUint(seed, 10),
		Replicates: make([]ReplicateSummary, 0, len(sum.Replicates)),
		MeanFinal:  make(map[string]float64, models.NumStates),
		StdFinal:   make(map[string]float64, models.NumStates),
		Infections: sum.Infections,
		Vaccinated: sum.Vaccinations,
	}
	for _, rs := range sum.Replicates {
		final := make(map[string]int, models.NumStates)
		for _, st := range models.AllStates() {
			final[st.Column()] = rs.Final[st]
		}
		out.Replicates = append(out.Replicates, ReplicateSummary{
			Replicate:     rs.Replicate,
			Final:         final,
			Infections:    rs.Infections,
			Vaccinations:  rs.Vaccinations,
			PeakInfected:  rs.PeakInfectious,
			PeakIteration: rs.PeakIteration,
		})
	}
	for _, st := range models.AllStates() {
		out.MeanFinal[st.Column()] = sum.Final[st].Mean
		out.StdFinal[st.Column()] = sum.Final[st].StdDev
	}
	out.Message = fmt.Sprintf("%d replicates of %d agents over iterations %d..%d: mean %.1f infections, %.1f deaths",
		len(out.Replicates), p.Agents, p.BeginIteration, p.EndIteration,
		sum.Infections.Mean, sum.Final[models.Dead].Mean)
	return out
}

// handleValidate implements the abm_validate tool. A rejected configuration
// is a successful call with Valid=false.
func (s *Server) handleValidate(ctx context.Context, req *sdk.CallToolRequest, in SimulateInput) (_ *sdk.CallToolResult, _ ValidateOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("abm_validate", start, retErr, in.auditParams())
	}()

	if err := s.toolLimiters.CheckLimit("abm_validate"); err != nil {
		return nil, ValidateOutput{}, err
	}

	p, err := resolveInput(in)
	if err != nil {
		return nil, ValidateOutput{Valid: false, Error: err.Error()}, nil
	}
	out := ValidateOutput{
		Valid:      true,
		Exposure:   string(p.Exposure),
		Iterations: p.Iterations(),
		Work:       work(p),
	}
	if out.Work > s.maxWork {
		out.Valid = false
		out.Error = fmt.Sprintf("%v: %d agent-iterations exceeds the limit of %d", ErrTooMuchWork, out.Work, s.maxWork)
	}
	return nil, out, nil
}

// handlePresets implements the abm_presets tool.
func (s *Server) handlePresets(ctx context.Context, req *sdk.CallToolRequest, in PresetsInput) (_ *sdk.CallToolResult, _ PresetsOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("abm_presets", start, retErr, sanitizeToolParams(map[string]any{"model": in.Name}))
	}()

	if err := s.toolLimiters.CheckLimit("abm_presets"); err != nil {
		return nil, PresetsOutput{}, err
	}

	out := PresetsOutput{Presets: models.Presets()}
	if in.Name == "" {
		return nil, out, nil
	}

	risks, ok := models.Preset(in.Name)
	if !ok {
		return nil, PresetsOutput{}, fmt.Errorf("%w: %q", params.ErrUnknownModel, in.Name)
	}
	out.Matrix = make(map[string][]float64, models.NumStates)
	for _, st := range models.AllStates() {
		out.States = append(out.States, st.Column())
		out.Matrix[st.Column()] = append([]float64(nil), risks.Row(st)...)
	}
	return nil, out, nil
}

// handleRuns implements the abm_runs tool.
func (s *Server) handleRuns(ctx context.Context, req *sdk.CallToolRequest, in RunsInput) (_ *sdk.CallToolResult, _ RunsOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("abm_runs", start, retErr, sanitizeToolParams(map[string]any{"limit": in.Limit}))
	}()

	if err := s.toolLimiters.CheckLimit("abm_runs"); err != nil {
		return nil, RunsOutput{}, err
	}
	if s.store == nil {
		return nil, RunsOutput{}, ErrNoStore
	}

	runs, err := s.store.ListRuns(ctx)
	if err != nil {
		return nil, RunsOutput{}, err
	}
	limit := in.Limit
	if limit <= 0 {
		limit = defaultRunsLimit
	}
	if len(runs) > limit {
		runs = runs[:limit]
	}

	out := RunsOutput{Runs: make([]RunListItem, 0, len(runs))}
	for _, r := range runs {
		out.Runs = append(out.Runs, RunListItem{
			ID:         r.ID,
			Name:       r.Name,
			Status:     r.Status,
			CreatedAt:  r.CreatedAt,
			Replicates: r.Replicates,
			Agents:     r.Agents,
			Seed:       strconv.FormatUint(r.Seed, 10),
		})
	}
	out.Count = len(out.Runs)
	return nil, out, nil
}
