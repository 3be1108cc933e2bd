package simulation

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvandessel/abm/internal/params"
	"github.com/nvandessel/abm/internal/telemetry"
)

func groupParams(seed uint64, replicates int) params.Parameters {
	p := testParams(seed)
	p.Replicates = replicates
	p.EndIteration = 30
	return p
}

func runGroup(t *testing.T, p params.Parameters, cfg GroupConfig) (*bytes.Buffer, *Group) {
	t.Helper()
	var out bytes.Buffer
	cfg.Sink = telemetry.NewLineSink(&out, telemetry.FormatCSV)
	g := NewGroup(cfg)
	require.NoError(t, g.CreateSimulations(New(p)))
	require.NoError(t, g.Run(context.Background()))
	return &out, g
}

func TestGroup_CompleteReplicates(t *testing.T) {
	p := groupParams(1, 8)
	out, g := runGroup(t, p, GroupConfig{Workers: 3})

	require.Len(t, g.Simulations(), 8)
	assert.Equal(t, uint64(1), g.Seed())
	assert.Equal(t, 3, g.Workers())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Equal(t, telemetry.TalliesHeader(), lines[0])
	assert.Equal(t, telemetry.TotalsHeader(), lines[1])

	tallies, totals, err := telemetry.Decode(strings.NewReader(out.String()))
	require.NoError(t, err)
	require.Len(t, tallies, 8*31)
	require.Len(t, totals, 8*31)

	// interleaved across replicates, but in iteration order within each
	next := map[int]int{}
	for _, tl := range tallies {
		assert.Equal(t, next[tl.Replicate], tl.Iteration, "replicate %d", tl.Replicate)
		next[tl.Replicate]++
		assert.Equal(t, 100, tl.Total())
	}
	assert.Len(t, next, 8)
	for r, n := range next {
		assert.Equal(t, 31, n, "replicate %d", r)
	}
}

func TestGroup_Ordered(t *testing.T) {
	p := groupParams(2, 6)
	out, _ := runGroup(t, p, GroupConfig{Workers: 4, Ordered: true})

	tallies, totals, err := telemetry.Decode(strings.NewReader(out.String()))
	require.NoError(t, err)
	require.Len(t, tallies, 6*31)

	for i, tl := range tallies {
		assert.Equal(t, i/31, tl.Replicate)
		assert.Equal(t, i%31, tl.Iteration)
		assert.Equal(t, tl.Replicate, totals[i].Replicate)
		assert.Equal(t, tl.Iteration, totals[i].Iteration)
	}
}

func TestGroup_SeedReproducible(t *testing.T) {
	p := groupParams(99, 5)
	require.NoError(t, p.SetParameter("contacts:3"))

	first, _ := runGroup(t, p, GroupConfig{Workers: 5, Ordered: true})
	second, _ := runGroup(t, p, GroupConfig{Workers: 2, Ordered: true})
	assert.Equal(t, first.String(), second.String())

	// distinct streams per replicate
	tallies, _, err := telemetry.Decode(strings.NewReader(first.String()))
	require.NoError(t, err)
	finals := map[[9]int]bool{}
	for _, tl := range tallies {
		if tl.Iteration == 30 {
			finals[tl.Counts] = true
		}
	}
	assert.Greater(t, len(finals), 1)
}

func TestGroup_UnseededDrawsSeed(t *testing.T) {
	p := groupParams(0, 2)
	p.Seed = nil
	g := NewGroup(GroupConfig{})
	require.NoError(t, g.CreateSimulations(New(p)))
	assert.Len(t, g.Simulations(), 2)
	assert.Positive(t, g.Workers())
}

func TestGroup_InvalidParameters(t *testing.T) {
	p := groupParams(3, 2)
	p.Agents = 0

	g := NewGroup(GroupConfig{})
	err := g.CreateSimulations(New(p))
	require.Error(t, err)
	assert.ErrorIs(t, err, params.ErrInvalidParameters)
	assert.Empty(t, g.Simulations())

	assert.ErrorIs(t, g.Run(context.Background()), ErrNoSimulations)
}

func TestGroup_CancelledBeforeStart(t *testing.T) {
	p := groupParams(4, 3)
	buf := telemetry.NewBuffer()
	g := NewGroup(GroupConfig{Sink: buf, Workers: 1})
	require.NoError(t, g.CreateSimulations(New(p)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := g.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, buf.HeaderWritten())
	assert.Zero(t, buf.Len())
}

type countingSink struct {
	telemetry.Sink
	failAfter int64
	n         atomic.Int64
}

var errSinkFull = errors.New("sink full")

func (s *countingSink) WriteTallies(t telemetry.Tallies) error {
	if s.n.Add(1) > s.failAfter {
		return errSinkFull
	}
	return nil
}

func TestGroup_SinkErrorReported(t *testing.T) {
	p := groupParams(5, 4)
	sink := &countingSink{Sink: telemetry.Discard, failAfter: 10}
	g := NewGroup(GroupConfig{Sink: sink, Workers: 2})
	require.NoError(t, g.CreateSimulations(New(p)))

	err := g.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errSinkFull)

	// every replicate still ran to the end
	for _, sim := range g.Simulations() {
		assert.Equal(t, 30, sim.Iteration)
	}
}
