// Package telemetry defines the per-iteration records a simulation emits and
// the sinks that receive them.
//
// Two record kinds exist. Tallies ("A") carry the count of agents in each
// health state; Totals ("B") carry the cumulative infection and vaccination
// counters. In CSV form they look like:
//
//	A,Desc,Sim,Iter,S,E,I_A,I_S,I_H,I_I,V,R,D
//	B,Desc,Sim,Iter,Infections,Vaccinations
//	A,baseline,0,1,98,1,1,0,0,0,0,0,0
//	B,baseline,0,1,0,0
package telemetry

import (
	"errors"

	"github.com/nvandessel/abm/internal/models"
)

const (
	// TalliesTag prefixes tallies records.
	TalliesTag = "A"
	// TotalsTag prefixes totals records.
	TotalsTag = "B"
)

// Tallies is the state census of one replicate at one iteration.
type Tallies struct {
	Name      string                `json:"name"`
	Replicate int                   `json:"replicate"`
	Iteration int                   `json:"iteration"`
	Counts    [models.NumStates]int `json:"counts"`
}

// Total returns the population size covered by the census.
func (t Tallies) Total() int {
	var n int
	for _, c := range t.Counts {
		n += c
	}
	return n
}

// Totals holds the running counters of one replicate at one iteration.
type Totals struct {
	Name         string `json:"name"`
	Replicate    int    `json:"replicate"`
	Iteration    int    `json:"iteration"`
	Infections   int    `json:"infections"`
	Vaccinations int    `json:"vaccinations"`
}

// Sink receives telemetry. Implementations shared between replicates must be
// safe for concurrent use.
type Sink interface {
	WriteHeader() error
	WriteTallies(Tallies) error
	WriteTotals(Totals) error
}

// Discard drops every record.
var Discard Sink = discard{}

type discard struct{}

func (discard) WriteHeader() error         { return nil }
func (discard) WriteTallies(Tallies) error { return nil }
func (discard) WriteTotals(Totals) error   { return nil }

// Multi fans records out to several sinks. Every sink receives every record;
// errors are joined.
func Multi(sinks ...Sink) Sink {
	return multi(sinks)
}

type multi []Sink

func (m multi) WriteHeader() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.WriteHeader())
	}
	return errors.Join(errs...)
}

func (m multi) WriteTallies(t Tallies) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.WriteTallies(t))
	}
	return errors.Join(errs...)
}

func (m multi) WriteTotals(t Totals) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.WriteTotals(t))
	}
	return errors.Join(errs...)
}
