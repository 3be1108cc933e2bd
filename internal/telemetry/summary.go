package telemetry

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/nvandessel/abm/internal/models"
)

// Moments summarises one quantity across replicates.
type Moments struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// ReplicateSummary is the outcome of one replicate.
type ReplicateSummary struct {
	Replicate int
	// Final is the tally at the replicate's last reported iteration.
	Final          [models.NumStates]int
	LastIteration  int
	Infections     int
	Vaccinations   int
	PeakInfectious int
	PeakIteration  int
}

// Summary aggregates a group's telemetry.
type Summary struct {
	Replicates   []ReplicateSummary
	Final        [models.NumStates]Moments
	Infections   Moments
	Vaccinations Moments
}

// Summarize folds records of any interleaving into per-replicate outcomes
// and cross-replicate moments. Replicates are returned in id order.
func Summarize(tallies []Tallies, totals []Totals) Summary {
	byReplicate := map[int]*ReplicateSummary{}
	get := func(r int) *ReplicateSummary {
		rs, ok := byReplicate[r]
		if !ok {
			rs = &ReplicateSummary{Replicate: r, LastIteration: math.MinInt, PeakIteration: math.MinInt}
			byReplicate[r] = rs
		}
		return rs
	}

	lastTotals := map[int]int{}
	for _, t := range tallies {
		rs := get(t.Replicate)
		if t.Iteration >= rs.LastIteration {
			rs.LastIteration = t.Iteration
			rs.Final = t.Counts
		}
		infectious := t.Counts[models.InfectiousAsymptomatic] + t.Counts[models.InfectiousSymptomatic] +
			t.Counts[models.InfectiousHospitalized] + t.Counts[models.InfectiousICU]
		if rs.PeakIteration == math.MinInt || infectious > rs.PeakInfectious {
			rs.PeakInfectious = infectious
			rs.PeakIteration = t.Iteration
		}
	}
	for _, t := range totals {
		rs := get(t.Replicate)
		if last, ok := lastTotals[t.Replicate]; ok && t.Iteration < last {
			continue
		}
		lastTotals[t.Replicate] = t.Iteration
		rs.Infections = t.Infections
		rs.Vaccinations = t.Vaccinations
	}

	var out Summary
	for _, rs := range byReplicate {
		out.Replicates = append(out.Replicates, *rs)
	}
	slices.SortFunc(out.Replicates, func(a, b ReplicateSummary) int { return a.Replicate - b.Replicate })
	if len(out.Replicates) == 0 {
		return out
	}

	sample := make([]float64, len(out.Replicates))
	for _, st := range models.AllStates() {
		for i, rs := range out.Replicates {
			sample[i] = float64(rs.Final[st])
		}
		out.Final[st] = moments(sample)
	}
	for i, rs := range out.Replicates {
		sample[i] = float64(rs.Infections)
	}
	out.Infections = moments(sample)
	for i, rs := range out.Replicates {
		sample[i] = float64(rs.Vaccinations)
	}
	out.Vaccinations = moments(sample)
	return out
}

func moments(x []float64) Moments {
	m := Moments{Min: floats.Min(x), Max: floats.Max(x)}
	if len(x) < 2 {
		m.Mean = x[0]
		return m
	}
	m.Mean, m.StdDev = stat.MeanStdDev(x, nil)
	return m
}
