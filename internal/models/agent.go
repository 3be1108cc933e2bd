package models

import (
	"math"
	"math/rand/v2"
)

// neverChanged marks an agent that has not transitioned yet, so the
// same-iteration gate cannot block its first transition.
const neverChanged = math.MinInt

// Agent is a single individual in a simulated population.
type Agent struct {
	// ID is assigned at population creation and survives shuffling.
	ID int

	State            State
	IterationChanged int
	Isolated         bool

	// Infectiousness and Infectable are only drawn for the random-contacts
	// exposure model.
	Infectiousness float64
	Infectable     float64

	// History maps an iteration to the state entered during it. Nil when
	// history tracking is disabled.
	History map[int]State
}

// NewAgent returns a susceptible agent with the given id.
func NewAgent(id int, trackHistory bool) Agent {
	a := Agent{
		ID:               id,
		State:            Susceptible,
		IterationChanged: neverChanged,
	}
	if trackHistory {
		a.History = make(map[int]State)
	}
	return a
}

// HasChanged reports whether the agent has ever transitioned.
func (a *Agent) HasChanged() bool {
	return a.IterationChanged != neverChanged
}

// SetState is the single gate every transition passes through. It is a
// no-op when newState equals the current state, or when the agent already
// changed during iteration and allowSameIteration is false. It reports
// whether the state actually changed.
func (a *Agent) SetState(newState State, iteration int, allowSameIteration bool) bool {
	if newState == a.State {
		return false
	}
	if a.IterationChanged == iteration && !allowSameIteration {
		return false
	}
	a.State = newState
	a.IterationChanged = iteration
	if a.History != nil {
		a.History[iteration] = newState
	}
	return true
}

// InfectionRisk is the per-contact exposure probability when source meets a.
func (a *Agent) InfectionRisk(source *Agent) float64 {
	return (source.Infectiousness + a.Infectable) / 2.0
}

// Infect draws once against the contact risk and moves the agent to Exposed
// on success. It reports whether the agent became exposed.
func (a *Agent) Infect(source *Agent, iteration int, allowSameIteration bool, rng *rand.Rand) bool {
	if rng.Float64() < a.InfectionRisk(source) {
		return a.SetState(Exposed, iteration, allowSameIteration)
	}
	return false
}
