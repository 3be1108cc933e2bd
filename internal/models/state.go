package models

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// State is an agent's health state. The declaration order is significant:
// the transition pass checks destinations in ascending State order.
type State int

const (
	Susceptible State = iota
	Exposed
	InfectiousAsymptomatic
	InfectiousSymptomatic
	InfectiousHospitalized
	InfectiousICU
	Vaccinated
	Recovered
	Dead
)

// NumStates is the number of health states.
const NumStates = int(Dead) + 1

// ErrUnknownState is returned when a state name or abbreviation is not recognised.
var ErrUnknownState = errors.New("unknown state")

type stateEntry struct {
	full   string
	abbr   byte
	column string // telemetry header label
}

var stateTable = [NumStates]stateEntry{
	{"SUSCEPTIBLE", 'S', "S"},
	{"EXPOSED", 'E', "E"},
	{"INFECTIOUS_ASYMPTOMATIC", 'A', "I_A"},
	{"INFECTIOUS_SYMPTOMATIC", 'Y', "I_S"},
	{"INFECTIOUS_HOSPITALIZED", 'H', "I_H"},
	{"INFECTIOUS_ICU", 'I', "I_I"},
	{"VACCINATED", 'V', "V"},
	{"RECOVERED", 'R', "R"},
	{"DEAD", 'D', "D"},
}

// AllStates returns every state in enumeration order.
func AllStates() []State {
	states := make([]State, NumStates)
	for i := range states {
		states[i] = State(i)
	}
	return states
}

// Valid reports whether s is one of the nine defined states.
func (s State) Valid() bool {
	return s >= Susceptible && s <= Dead
}

// String returns the full upper-case state name.
func (s State) String() string {
	if !s.Valid() {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateTable[s].full
}

// Abbr returns the single-character abbreviation used in transition overrides.
func (s State) Abbr() byte {
	if !s.Valid() {
		return '?'
	}
	return stateTable[s].abbr
}

// Column returns the telemetry header label for the state.
func (s State) Column() string {
	if !s.Valid() {
		return "?"
	}
	return stateTable[s].column
}

// IsInfectious reports whether agents in this state can expose others.
func (s State) IsInfectious() bool {
	return s >= InfectiousAsymptomatic && s <= InfectiousICU
}

// StateFromAbbr looks up a state by its one-character abbreviation.
func StateFromAbbr(c byte) (State, error) {
	for i, e := range stateTable {
		if e.abbr == c {
			return State(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownState, string(c))
}

// ParseState accepts either an abbreviation ("Y") or a full name
// ("infectious_symptomatic"), case-insensitively for full names.
func ParseState(s string) (State, error) {
	s = strings.TrimSpace(s)
	if len(s) == 1 {
		return StateFromAbbr(s[0])
	}
	for i, e := range stateTable {
		if strings.EqualFold(e.full, s) {
			return State(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownState, s)
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownState, int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MarshalYAML writes the state as its full name.
func (s State) MarshalYAML() (interface{}, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownState, int(s))
	}
	return s.String(), nil
}

// UnmarshalYAML accepts an abbreviation or a full name.
func (s *State) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("decoding state: %w", err)
	}
	return s.UnmarshalText([]byte(raw))
}
