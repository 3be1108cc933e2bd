package models

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// RiskMatrixSize is the number of cells in a from-state x to-state matrix.
const RiskMatrixSize = NumStates * NumStates

var (
	// ErrMatrixSize is returned when a risk matrix is not NumStates x NumStates.
	ErrMatrixSize = errors.New("risk matrix size mismatch")

	// ErrRiskRange is returned when a risk cell lies outside [0,1].
	ErrRiskRange = errors.New("risk out of range")
)

// RiskMatrix holds per-iteration transition probabilities, row-major by
// origin state: risk[from*NumStates+to]. Rows need not sum to 1.
type RiskMatrix []float64

// Index returns the flat index for a (from, to) pair.
func Index(from, to State) int {
	return int(from)*NumStates + int(to)
}

// NewRiskMatrix returns an all-zero matrix.
func NewRiskMatrix() RiskMatrix {
	return make(RiskMatrix, RiskMatrixSize)
}

// At returns risk[from][to].
func (m RiskMatrix) At(from, to State) float64 {
	return m[Index(from, to)]
}

// Set assigns risk[from][to].
func (m RiskMatrix) Set(from, to State, risk float64) {
	m[Index(from, to)] = risk
}

// Row returns the outgoing risks for one origin state.
func (m RiskMatrix) Row(from State) []float64 {
	start := int(from) * NumStates
	return m[start : start+NumStates]
}

// Clone returns an independent copy.
func (m RiskMatrix) Clone() RiskMatrix {
	if m == nil {
		return nil
	}
	out := make(RiskMatrix, len(m))
	copy(out, m)
	return out
}

// Validate checks the matrix shape and that every cell is a probability.
func (m RiskMatrix) Validate() error {
	if len(m) != RiskMatrixSize {
		return fmt.Errorf("%w: have %d cells, want %d", ErrMatrixSize, len(m), RiskMatrixSize)
	}
	for i, r := range m {
		if r < 0 || r > 1 || math.IsNaN(r) {
			from, to := State(i/NumStates), State(i%NumStates)
			return fmt.Errorf("%w: %c%c=%v", ErrRiskRange, from.Abbr(), to.Abbr(), r)
		}
	}
	return nil
}

// covidRisks is the default daily-step model.
var covidRisks = RiskMatrix{
	// S, E, I_A, I_S, I_H, I_I, V, R, D
	0, 0, 0, 0, 0, 0, 0.00136986301369863, 0, 0.0000273973, // S
	0, 0, 0.2, 0, 0, 0, 0.00136986301369863, 0.001, 0.0000273973, // E
	0, 0, 0, 0.2, 0, 0, 0.00136986301369863, 0.2, 0.0000273973, // I_A
	0, 0, 0, 0, 0.1, 0, 0, 0.1, 0.0000547945, // I_S
	0, 0, 0, 0, 0, 0.1, 0, 0.1, 0.0001369863, // I_H
	0, 0, 0, 0, 0, 0, 0, 0.0002739726, 0.0002739726, // I_I
	0.001, 0, 0, 0, 0, 0, 0, 0, 0.0000273973, // V
	0.001, 0, 0, 0, 0, 0, 0.00136986301369863, 0, 0.0000273973, // R
	0, 0, 0, 0, 0, 0, 0, 0, 0, // D
}

var presets = map[string]RiskMatrix{
	"covid": covidRisks,
}

// DefaultPreset is the model used when none is named.
const DefaultPreset = "covid"

// Preset returns a copy of the named risk matrix.
func Preset(name string) (RiskMatrix, bool) {
	m, ok := presets[name]
	if !ok {
		return nil, false
	}
	return m.Clone(), true
}

// Presets lists the available preset names in sorted order.
func Presets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
