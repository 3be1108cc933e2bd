package simulation

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/nvandessel/abm/internal/logging"
	"github.com/nvandessel/abm/internal/models"
	"github.com/nvandessel/abm/internal/params"
	"github.com/nvandessel/abm/internal/telemetry"
)

// propensityShape parameterises the Beta distribution agent propensities are
// drawn from; Beta(2,2) equals x/(x+y) with x, y ~ Gamma(2,1).
const propensityShape = 2.0

// Simulation is one replicate. It owns its parameters, its population and
// its random source, and is not safe for concurrent use.
type Simulation struct {
	Index     int
	Iteration int
	Params    params.Parameters
	Agents    []models.Agent

	// Counts is the most recent tally, indexed by models.State.
	Counts [models.NumStates]int

	TotalInfections   int
	TotalVaccinations int

	rng    *rand.Rand
	sink   telemetry.Sink
	logger *slog.Logger
	err    error
}

// New creates a replicate template from p. It draws from a PCG source seeded
// with p.Seed when set, otherwise from an entropy-seeded one.
func New(p params.Parameters) *Simulation {
	var rng *rand.Rand
	if p.Seed != nil {
		rng = NewRand(*p.Seed, 0)
	} else {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Simulation{
		Params: p.Clone(),
		rng:    rng,
		sink:   telemetry.Discard,
		logger: logging.Discard(),
	}
}

// NewRand returns the random source for one replicate stream.
func NewRand(seed, stream uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, stream))
}

// Clone returns a fresh replicate with its own copy of the parameters. The
// clone shares the sink and logger; callers give it its own random source.
func (s *Simulation) Clone(index int) *Simulation {
	return &Simulation{
		Index:  index,
		Params: s.Params.Clone(),
		rng:    s.rng,
		sink:   s.sink,
		logger: s.logger,
	}
}

// SetRand replaces the random source.
func (s *Simulation) SetRand(rng *rand.Rand) { s.rng = rng }

// SetSink replaces the telemetry sink.
func (s *Simulation) SetSink(sink telemetry.Sink) { s.sink = sink }

// SetLogger replaces the logger.
func (s *Simulation) SetLogger(logger *slog.Logger) { s.logger = logger }

// Err returns the first telemetry error seen by the replicate.
func (s *Simulation) Err() error { return s.err }

// Run executes the whole replicate: before-events at the begin iteration,
// during-events for every following iteration up to and including the end
// iteration, then after-events. It returns the first telemetry error; the
// simulation itself always runs to completion.
func (s *Simulation) Run() error {
	s.Iteration = s.Params.BeginIteration
	s.BeforeEvents()
	for s.Iteration = s.Params.BeginIteration + 1; s.Iteration <= s.Params.EndIteration; s.Iteration++ {
		s.DuringEvents()
	}
	s.Iteration = s.Params.EndIteration
	s.AfterEvents()
	return s.err
}

// BeforeEvents builds and seeds the population.
func (s *Simulation) BeforeEvents() {
	s.createAgents(s.Params.Agents)
	s.shuffleAgents()
	s.initAgentStates()
	s.shuffleAgents()
	s.tallyStates()
	s.reportTallies()
	s.reportTotals()
}

// DuringEvents advances the population by one iteration.
func (s *Simulation) DuringEvents() {
	s.tallyStates()
	s.exposeSusceptible()
	s.transitions()
	s.isolate()
	s.deisolate()
	s.tallyStates()
	s.reportTallies()
	s.reportTotals()

	if ctx := context.Background(); s.logger.Enabled(ctx, logging.LevelTrace) {
		s.logger.Log(ctx, logging.LevelTrace, "iteration complete",
			"name", s.Params.Name, "replicate", s.Index, "iteration", s.Iteration,
			"infectious", s.infectiousCount(), "infections", s.TotalInfections)
	}
}

// AfterEvents emits no telemetry. It logs the end-of-run summary.
func (s *Simulation) AfterEvents() {
	s.logger.Debug("replicate finished",
		"name", s.Params.Name,
		"replicate", s.Index,
		"iteration", s.Iteration,
		"counts", s.Counts,
		"infections", s.TotalInfections,
		"vaccinations", s.TotalVaccinations,
	)
}

// Tallies returns the latest tally as a telemetry record.
func (s *Simulation) Tallies() telemetry.Tallies {
	return telemetry.Tallies{
		Name:      s.Params.Name,
		Replicate: s.Index,
		Iteration: s.Iteration,
		Counts:    s.Counts,
	}
}

// Totals returns the running counters as a telemetry record.
func (s *Simulation) Totals() telemetry.Totals {
	return telemetry.Totals{
		Name:         s.Params.Name,
		Replicate:    s.Index,
		Iteration:    s.Iteration,
		Infections:   s.TotalInfections,
		Vaccinations: s.TotalVaccinations,
	}
}

// SortAgents restores id order.
func (s *Simulation) SortAgents() {
	slices.SortFunc(s.Agents, func(a, b models.Agent) int { return a.ID - b.ID })
}

func (s *Simulation) createAgents(n int) {
	s.Agents = make([]models.Agent, n)
	trackHistory := !s.Params.DisableHistory

	var propensity distuv.Beta
	if s.Params.IsRandomContacts() {
		propensity = distuv.Beta{Alpha: propensityShape, Beta: propensityShape, Src: s.rng}
	}
	for i := range s.Agents {
		s.Agents[i] = models.NewAgent(i, trackHistory)
		if s.Params.IsRandomContacts() {
			s.Agents[i].Infectiousness = propensity.Rand()
			s.Agents[i].Infectable = propensity.Rand()
		}
	}
}

// shuffleAgents permutes agent order (Fisher-Yates).
func (s *Simulation) shuffleAgents() {
	s.rng.Shuffle(len(s.Agents), func(i, j int) {
		s.Agents[i], s.Agents[j] = s.Agents[j], s.Agents[i]
	})
}

// initAgentStates assigns contiguous ranges of the (shuffled) population to
// each proportion entry in order.
func (s *Simulation) initAgentStates() {
	i := 0
	for k, n := range s.Params.InitialCounts() {
		state := s.Params.Proportions[k].State
		for end := i + n; i < end && i < len(s.Agents); i++ {
			s.Agents[i].SetState(state, s.Iteration, s.Params.AllowSameIterationChange)
		}
	}
}

func (s *Simulation) tallyStates() {
	s.Counts = [models.NumStates]int{}
	for i := range s.Agents {
		s.Counts[s.Agents[i].State]++
	}
}

// infectiousCount reads the latest tally.
func (s *Simulation) infectiousCount() int {
	return s.Counts[models.InfectiousAsymptomatic] +
		s.Counts[models.InfectiousSymptomatic] +
		s.Counts[models.InfectiousHospitalized] +
		s.Counts[models.InfectiousICU]
}

func (s *Simulation) exposeSusceptible() {
	switch s.Params.Exposure {
	case params.RandomContacts:
		s.exposeRandomContacts()
	default:
		s.exposeHomogeneous()
	}
}

// exposeHomogeneous gives every susceptible agent the same chance,
// beta times the infectious count, of becoming exposed.
func (s *Simulation) exposeHomogeneous() {
	force := s.Params.Beta * float64(s.infectiousCount())
	for i := range s.Agents {
		a := &s.Agents[i]
		if a.State != models.Susceptible {
			continue
		}
		if s.rng.Float64() < force && a.SetState(models.Exposed, s.Iteration, s.Params.AllowSameIterationChange) {
			s.TotalInfections++
		}
	}
}

// exposeRandomContacts lets each infectious, non-isolated agent meet
// ContactsPerIteration agents drawn uniformly with replacement.
func (s *Simulation) exposeRandomContacts() {
	n := len(s.Agents)
	if n == 0 {
		return
	}
	for i := range s.Agents {
		src := &s.Agents[i]
		if !src.State.IsInfectious() || src.Isolated {
			continue
		}
		for c := 0; c < s.Params.ContactsPerIteration; c++ {
			target := &s.Agents[s.rng.IntN(n)]
			if target.State != models.Susceptible {
				continue
			}
			if target.Infect(src, s.Iteration, s.Params.AllowSameIterationChange, s.rng) {
				s.TotalInfections++
			}
		}
	}
}

// transitions scans destinations in ascending state order and applies the
// first one whose draw succeeds. Earlier states win ties.
func (s *Simulation) transitions() {
	for i := range s.Agents {
		a := &s.Agents[i]
		for to, risk := range s.Params.Risks.Row(a.State) {
			if risk <= 0 {
				continue
			}
			if s.rng.Float64() < risk {
				dest := models.State(to)
				if a.SetState(dest, s.Iteration, s.Params.AllowSameIterationChange) && dest == models.Vaccinated {
					s.TotalVaccinations++
				}
				break
			}
		}
	}
}

// isolate isolates agents that became symptomatic this iteration.
func (s *Simulation) isolate() {
	if s.Params.IsolationProb <= 0 {
		return
	}
	for i := range s.Agents {
		a := &s.Agents[i]
		if a.State == models.InfectiousSymptomatic && a.IterationChanged == s.Iteration {
			a.Isolated = true
		}
	}
}

// deisolate releases each isolated agent with probability IsolationProb.
func (s *Simulation) deisolate() {
	if s.Params.IsolationProb <= 0 {
		return
	}
	for i := range s.Agents {
		a := &s.Agents[i]
		if a.Isolated && s.rng.Float64() < s.Params.IsolationProb {
			a.Isolated = false
		}
	}
}

func (s *Simulation) reportTallies() {
	s.recordErr(s.sink.WriteTallies(s.Tallies()))
}

func (s *Simulation) reportTotals() {
	s.recordErr(s.sink.WriteTotals(s.Totals()))
}

func (s *Simulation) recordErr(err error) {
	if err != nil && s.err == nil {
		s.err = err
	}
}
