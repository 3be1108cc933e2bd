// Package params holds the configuration of a simulation run: population
// size, iteration window, exposure strategy and the transition-risk matrix.
package params

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/nvandessel/abm/internal/models"
)

// Exposure selects how susceptible agents become exposed.
type Exposure string

const (
	// Homogeneous applies one population-wide force of infection.
	Homogeneous Exposure = "homogeneous"
	// RandomContacts has each infectious agent sample contacts uniformly.
	RandomContacts Exposure = "random_contacts"
)

var (
	ErrUnknownParameter    = errors.New("unknown parameter")
	ErrMalformedParameter  = errors.New("parameters must be of the form <parameter_name:real>")
	ErrMalformedTransition = errors.New("transitions must be of the form <state_from><state_to>:<real>")
	ErrUnknownModel        = errors.New("unknown model")
	ErrInvalidParameters   = errors.New("invalid parameters")
)

// proportionTolerance absorbs floating point error when fractions sum to 1.
const proportionTolerance = 1e-9

// DefaultIterations is the length of the default iteration window.
const DefaultIterations = 365

// MaxContacts bounds contacts per infectious agent and iteration.
const MaxContacts = 1 << 20

// Proportion is the fraction of the initial population placed in a state.
type Proportion struct {
	State    models.State `json:"state" yaml:"state"`
	Fraction float64      `json:"fraction" yaml:"fraction"`
}

// Parameters configures one simulation group. Replicates each receive their
// own Clone.
type Parameters struct {
	Name           string `json:"name" yaml:"name"`
	BeginIteration int    `json:"begin_iteration" yaml:"begin_iteration"`
	EndIteration   int    `json:"end_iteration" yaml:"end_iteration"`
	Agents         int    `json:"agents" yaml:"agents"`
	Replicates     int    `json:"replicates" yaml:"replicates"`

	Exposure             Exposure `json:"exposure" yaml:"exposure"`
	Beta                 float64  `json:"beta" yaml:"beta"`
	ContactsPerIteration int      `json:"contacts" yaml:"contacts"`
	IsolationProb        float64  `json:"isolation" yaml:"isolation"`

	Proportions []Proportion      `json:"proportions" yaml:"proportions"`
	Risks       models.RiskMatrix `json:"risks" yaml:"risks"`

	// AllowSameIterationChange lets an agent transition more than once per
	// iteration.
	AllowSameIterationChange bool `json:"allow_same_iteration_change" yaml:"allow_same_iteration_change"`

	// Seed makes a run reproducible. When nil the group draws one and logs it.
	Seed *uint64 `json:"seed,omitempty" yaml:"seed,omitempty"`

	// DisableHistory skips per-agent transition history to bound memory.
	DisableHistory bool `json:"disable_history,omitempty" yaml:"disable_history,omitempty"`
}

// Default returns the baseline configuration: 100 agents, 10 replicates,
// 365 iterations, homogeneous mixing under the covid preset.
func Default() Parameters {
	risks, _ := models.Preset(models.DefaultPreset)
	return Parameters{
		Name:           "unnamed",
		BeginIteration: 0,
		EndIteration:   DefaultIterations,
		Agents:         100,
		Replicates:     10,
		Exposure:       Homogeneous,
		Beta:           0.004,
		Proportions: []Proportion{
			{State: models.Susceptible, Fraction: 0.99},
			{State: models.Exposed, Fraction: 0.01},
		},
		Risks: risks,
	}
}

// Clone returns a deep copy so replicates never share mutable state.
func (p Parameters) Clone() Parameters {
	out := p
	out.Proportions = append([]Proportion(nil), p.Proportions...)
	out.Risks = p.Risks.Clone()
	if p.Seed != nil {
		seed := *p.Seed
		out.Seed = &seed
	}
	return out
}

// SetParameter applies a named override of the form "name:value".
// Supported names are beta, contacts and isolation. A positive contacts value
// switches the exposure strategy to random contacts.
func (p *Parameters) SetParameter(arg string) error {
	n := strings.Index(arg, ":")
	if n < 1 {
		return fmt.Errorf("%w: argument is %q", ErrMalformedParameter, arg)
	}
	name := arg[:n]
	value, err := strconv.ParseFloat(strings.TrimSpace(arg[n+1:]), 64)
	if err != nil {
		return fmt.Errorf("%w: argument is %q: %v", ErrMalformedParameter, arg, err)
	}

	switch name {
	case "beta":
		p.Beta = value
	case "contacts":
		if value < 0 || value > MaxContacts || value != math.Trunc(value) {
			return fmt.Errorf("%w: contacts must be an integer between 0 and %d, got %q", ErrMalformedParameter, MaxContacts, arg[n+1:])
		}
		p.ContactsPerIteration = int(value)
		if p.ContactsPerIteration > 0 {
			p.Exposure = RandomContacts
		}
	case "isolation":
		p.IsolationProb = value
	default:
		return fmt.Errorf("%w: %s", ErrUnknownParameter, name)
	}
	return nil
}

// SetTransition applies a risk override of the form "XY:value", where X and
// Y are state abbreviations, e.g. "SD:0.5" sets risk[SUSCEPTIBLE][DEAD].
func (p *Parameters) SetTransition(arg string) error {
	n := strings.Index(arg, ":")
	if n < 0 {
		return fmt.Errorf("%w: argument is %q", ErrMalformedTransition, arg)
	}
	pair := arg[:n]
	if len(pair) != 2 {
		return fmt.Errorf("%w: transition must be exactly two characters, got %q", ErrMalformedTransition, pair)
	}
	from, err := models.StateFromAbbr(pair[0])
	if err != nil {
		return fmt.Errorf("transition %q: %w", pair, err)
	}
	to, err := models.StateFromAbbr(pair[1])
	if err != nil {
		return fmt.Errorf("transition %q: %w", pair, err)
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(arg[n+1:]), 64)
	if err != nil {
		return fmt.Errorf("%w: argument is %q: %v", ErrMalformedTransition, arg, err)
	}
	if err := p.Risks.Validate(); err != nil {
		return err
	}
	p.Risks.Set(from, to, value)
	return nil
}

// SetModel replaces the risk matrix with a named preset.
func (p *Parameters) SetModel(name string) error {
	risks, ok := models.Preset(name)
	if !ok {
		return fmt.Errorf("%w: %q (available: %s)", ErrUnknownModel, name, strings.Join(models.Presets(), ", "))
	}
	p.Risks = risks
	return nil
}

// IsRandomContacts reports whether the random-contacts strategy is active.
func (p *Parameters) IsRandomContacts() bool {
	return p.Exposure == RandomContacts
}

// Iterations is the number of during-event iterations a replicate runs.
func (p *Parameters) Iterations() int {
	return p.EndIteration - p.BeginIteration
}

// Validate rejects configurations that cannot be simulated. It runs before
// any replicate starts.
func (p *Parameters) Validate() error {
	if strings.ContainsAny(p.Name, ",\r\n") {
		return fmt.Errorf("%w: name %q must not contain commas or line breaks", ErrInvalidParameters, p.Name)
	}
	if p.Agents <= 0 {
		return fmt.Errorf("%w: agents must be positive, got %d", ErrInvalidParameters, p.Agents)
	}
	if p.Replicates <= 0 {
		return fmt.Errorf("%w: replicates must be positive, got %d", ErrInvalidParameters, p.Replicates)
	}
	if p.EndIteration < p.BeginIteration {
		return fmt.Errorf("%w: end iteration %d before begin iteration %d", ErrInvalidParameters, p.EndIteration, p.BeginIteration)
	}
	if p.Beta < 0 || math.IsNaN(p.Beta) {
		return fmt.Errorf("%w: beta must be non-negative, got %v", ErrInvalidParameters, p.Beta)
	}
	if p.IsolationProb < 0 || p.IsolationProb > 1 || math.IsNaN(p.IsolationProb) {
		return fmt.Errorf("%w: isolation must be between 0 and 1, got %v", ErrInvalidParameters, p.IsolationProb)
	}
	if p.ContactsPerIteration < 0 || p.ContactsPerIteration > MaxContacts {
		return fmt.Errorf("%w: contacts must be between 0 and %d, got %d", ErrInvalidParameters, MaxContacts, p.ContactsPerIteration)
	}
	switch p.Exposure {
	case Homogeneous:
		if p.ContactsPerIteration > 0 {
			return fmt.Errorf("%w: homogeneous exposure ignores contacts, got %d", ErrInvalidParameters, p.ContactsPerIteration)
		}
	case RandomContacts:
		if p.ContactsPerIteration <= 0 {
			return fmt.Errorf("%w: random contacts requires contacts > 0, got %d", ErrInvalidParameters, p.ContactsPerIteration)
		}
	default:
		return fmt.Errorf("%w: exposure %q (valid: %s, %s)", ErrInvalidParameters, p.Exposure, Homogeneous, RandomContacts)
	}

	var total float64
	for _, prop := range p.Proportions {
		if !prop.State.Valid() {
			return fmt.Errorf("%w: proportion state %d", models.ErrUnknownState, int(prop.State))
		}
		if prop.Fraction < 0 || prop.Fraction > 1 || math.IsNaN(prop.Fraction) {
			return fmt.Errorf("%w: fraction for %s must be between 0 and 1, got %v", ErrInvalidParameters, prop.State, prop.Fraction)
		}
		total += prop.Fraction
	}
	if total > 1+proportionTolerance {
		return fmt.Errorf("%w: proportions sum to %v, more than 1", ErrInvalidParameters, total)
	}

	if err := p.Risks.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidParameters, err)
	}
	return nil
}

// InitialCounts returns how many agents start in each proportion entry.
// Each entry receives floor(fraction * agents + 1e-9), so a product such as
// 0.29 * 100 that lands just below an integer in floating point still counts
// as 29 rather than 28. When the fractions sum to 1 the last entry absorbs
// the rounding remainder.
func (p *Parameters) InitialCounts() []int {
	counts := make([]int, len(p.Proportions))
	var assigned int
	var total float64
	for i, prop := range p.Proportions {
		n := int(math.Floor(prop.Fraction*float64(p.Agents) + proportionTolerance))
		if assigned+n > p.Agents {
			n = p.Agents - assigned
		}
		counts[i] = n
		assigned += n
		total += prop.Fraction
	}
	if len(counts) > 0 && math.Abs(total-1) <= proportionTolerance {
		counts[len(counts)-1] += p.Agents - assigned
	}
	return counts
}
