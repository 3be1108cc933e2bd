package telemetry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvandessel/abm/internal/models"
)

func tally(replicate, iteration int, counts [models.NumStates]int) Tallies {
	return Tallies{Name: "sum", Replicate: replicate, Iteration: iteration, Counts: counts}
}

func TestSummarize(t *testing.T) {
	// replicate 1 arrives before replicate 0 and out of iteration order
	tallies := []Tallies{
		tally(1, 1, [9]int{6, 1, 2, 1, 0, 0, 0, 0, 0}),
		tally(0, 0, [9]int{9, 1, 0, 0, 0, 0, 0, 0, 0}),
		tally(1, 0, [9]int{9, 1, 0, 0, 0, 0, 0, 0, 0}),
		tally(0, 1, [9]int{7, 1, 1, 0, 0, 0, 0, 1, 0}),
		tally(1, 2, [9]int{5, 0, 1, 0, 0, 0, 0, 3, 1}),
		tally(0, 2, [9]int{7, 0, 0, 0, 0, 0, 1, 2, 0}),
	}
	totals := []Totals{
		{Name: "sum", Replicate: 0, Iteration: 2, Infections: 3, Vaccinations: 1},
		{Name: "sum", Replicate: 0, Iteration: 1, Infections: 2, Vaccinations: 0},
		{Name: "sum", Replicate: 1, Iteration: 2, Infections: 5, Vaccinations: 0},
	}

	sum := Summarize(tallies, totals)
	require.Len(t, sum.Replicates, 2)

	r0, r1 := sum.Replicates[0], sum.Replicates[1]
	assert.Equal(t, 0, r0.Replicate)
	assert.Equal(t, 2, r0.LastIteration)
	assert.Equal(t, [9]int{7, 0, 0, 0, 0, 0, 1, 2, 0}, r0.Final)
	assert.Equal(t, 3, r0.Infections, "earlier totals must not overwrite later ones")
	assert.Equal(t, 1, r0.Vaccinations)
	assert.Equal(t, 1, r0.PeakInfectious)
	assert.Equal(t, 1, r0.PeakIteration)

	assert.Equal(t, 1, r1.Replicate)
	assert.Equal(t, 3, r1.PeakInfectious)
	assert.Equal(t, 1, r1.PeakIteration)

	assert.InDelta(t, 6.0, sum.Final[models.Susceptible].Mean, 1e-12)
	assert.InDelta(t, math.Sqrt2, sum.Final[models.Susceptible].StdDev, 1e-12)
	assert.Equal(t, 5.0, sum.Final[models.Susceptible].Min)
	assert.Equal(t, 7.0, sum.Final[models.Susceptible].Max)
	assert.InDelta(t, 4.0, sum.Infections.Mean, 1e-12)
	assert.InDelta(t, 0.5, sum.Vaccinations.Mean, 1e-12)
}

func TestSummarize_SingleReplicate(t *testing.T) {
	sum := Summarize([]Tallies{tally(0, 0, [9]int{10})}, nil)
	require.Len(t, sum.Replicates, 1)
	assert.Equal(t, 10.0, sum.Final[models.Susceptible].Mean)
	assert.Zero(t, sum.Final[models.Susceptible].StdDev)
	assert.False(t, math.IsNaN(sum.Infections.StdDev))
}

func TestSummarize_Empty(t *testing.T) {
	sum := Summarize(nil, nil)
	assert.Empty(t, sum.Replicates)
	assert.Zero(t, sum.Infections)
}
