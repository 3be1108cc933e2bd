package mcp

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvandessel/abm/internal/params"
	"github.com/nvandessel/abm/internal/ratelimit"
	"github.com/nvandessel/abm/internal/store"
)

func setupTestServer(t *testing.T, withStore bool) *Server {
	t.Helper()
	cfg := &Config{Name: "abm-test", Version: "v0.0.0", Workers: 2}
	if withStore {
		st, err := store.Open(context.Background(), store.DriverSQLite, filepath.Join(t.TempDir(), "abm.db"))
		require.NoError(t, err)
		t.Cleanup(func() { st.Close() })
		cfg.Store = st
	}
	server, err := NewServer(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { server.Close() })
	// Tests call handlers back to back.
	server.toolLimiters = nil
	return server
}

func seedPtr(v uint64) *uint64 { return &v }

func intPtr(v int) *int { return &v }

func TestHandleSimulate(t *testing.T) {
	server := setupTestServer(t, false)

	in := SimulateInput{
		Name:       "mcp",
		Agents:     200,
		Replicates: 4,
		End:        intPtr(40),
		Seed:       seedPtr(11),
	}
	result, out, err := server.handleSimulate(context.Background(), nil, in)
	require.NoError(t, err)
	assert.Nil(t, result, "SDK populates the result from the output")

	assert.Equal(t, "mcp", out.Name)
	assert.Equal(t, "11", out.Seed)
	assert.Empty(t, out.RunID)
	require.Len(t, out.Replicates, 4)
	for i, rs := range out.Replicates {
		assert.Equal(t, i, rs.Replicate)
		total := 0
		for _, n := range rs.Final {
			total += n
		}
		assert.Equal(t, 200, total)
		assert.Len(t, rs.Final, 9)
	}

	var meanTotal float64
	for _, m := range out.MeanFinal {
		meanTotal += m
	}
	assert.InDelta(t, 200.0, meanTotal, 1e-9)
	assert.Contains(t, out.Message, "4 replicates of 200 agents")

	// same seed, same outcome
	_, again, err := server.handleSimulate(context.Background(), nil, in)
	require.NoError(t, err)
	assert.Equal(t, out.Replicates, again.Replicates)
}

func TestHandleSimulate_Overrides(t *testing.T) {
	server := setupTestServer(t, false)

	_, out, err := server.handleSimulate(context.Background(), nil, SimulateInput{
		Replicates:  2,
		End:         intPtr(5),
		Params:      []string{"contacts:20"},
		Transitions: []string{"SD:0.5"},
		Seed:        seedPtr(3),
	})
	require.NoError(t, err)
	// half of the remaining susceptible agents die each iteration
	assert.Greater(t, out.MeanFinal["D"], 80.0)
}

func TestHandleSimulate_Rejected(t *testing.T) {
	server := setupTestServer(t, false)

	tests := []struct {
		name string
		in   SimulateInput
		want error
	}{
		{"negative agents", SimulateInput{Agents: -5}, params.ErrInvalidParameters},
		{"unknown model", SimulateInput{Model: "flu"}, params.ErrUnknownModel},
		{"bad parameter", SimulateInput{Params: []string{"gamma:1"}}, params.ErrUnknownParameter},
		{"bad transition", SimulateInput{Transitions: []string{"SDX:1"}}, params.ErrMalformedTransition},
		{"too large", SimulateInput{Agents: 1_000_000, Replicates: 100}, ErrTooMuchWork},
		{"persist without store", SimulateInput{Persist: true}, ErrNoStore},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := server.handleSimulate(context.Background(), nil, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestHandleSimulate_Persist(t *testing.T) {
	server := setupTestServer(t, true)
	ctx := context.Background()

	_, out, err := server.handleSimulate(ctx, nil, SimulateInput{
		Name: "persisted", Replicates: 2, End: intPtr(10), Persist: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, out.RunID)

	run, err := server.store.GetRun(ctx, out.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusComplete, run.Status)
	assert.Equal(t, out.Seed, strconv.FormatUint(run.Seed, 10))

	tallies, err := server.store.Tallies(ctx, out.RunID)
	require.NoError(t, err)
	assert.Len(t, tallies, 2*11)

	_, runs, err := server.handleRuns(ctx, nil, RunsInput{})
	require.NoError(t, err)
	require.Equal(t, 1, runs.Count)
	assert.Equal(t, out.RunID, runs.Runs[0].ID)
	assert.Equal(t, "persisted", runs.Runs[0].Name)
}

func TestHandleRuns_NoStore(t *testing.T) {
	server := setupTestServer(t, false)
	_, _, err := server.handleRuns(context.Background(), nil, RunsInput{})
	assert.ErrorIs(t, err, ErrNoStore)
}

func TestHandleRuns_Limit(t *testing.T) {
	server := setupTestServer(t, true)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _, err := server.handleSimulate(ctx, nil, SimulateInput{Replicates: 1, End: intPtr(2), Persist: true})
		require.NoError(t, err)
	}

	_, out, err := server.handleRuns(ctx, nil, RunsInput{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Count)
}

func TestHandleValidate(t *testing.T) {
	server := setupTestServer(t, false)

	_, out, err := server.handleValidate(context.Background(), nil, SimulateInput{Agents: 50, Replicates: 2, End: intPtr(9)})
	require.NoError(t, err)
	assert.True(t, out.Valid)
	assert.Equal(t, string(params.Homogeneous), out.Exposure)
	assert.Equal(t, 9, out.Iterations)
	assert.Equal(t, int64(50*2*10), out.Work)

	_, out, err = server.handleValidate(context.Background(), nil, SimulateInput{Params: []string{"contacts:4"}})
	require.NoError(t, err)
	assert.Equal(t, string(params.RandomContacts), out.Exposure)

	_, out, err = server.handleValidate(context.Background(), nil, SimulateInput{Begin: 10, End: intPtr(5)})
	require.NoError(t, err)
	assert.False(t, out.Valid)
	assert.NotEmpty(t, out.Error)
}

func TestHandleValidate_EndIteration(t *testing.T) {
	server := setupTestServer(t, false)

	tests := []struct {
		name       string
		in         SimulateInput
		iterations int
	}{
		{"default window", SimulateInput{}, 365},
		{"explicit zero end", SimulateInput{End: intPtr(0)}, 0},
		{"late begin keeps default length", SimulateInput{Begin: 400}, 365},
		{"explicit end", SimulateInput{Begin: 400, End: intPtr(410)}, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, out, err := server.handleValidate(context.Background(), nil, tt.in)
			require.NoError(t, err)
			assert.True(t, out.Valid, out.Error)
			assert.Equal(t, tt.iterations, out.Iterations)
		})
	}
}

func TestHandlePresets(t *testing.T) {
	server := setupTestServer(t, false)

	_, out, err := server.handlePresets(context.Background(), nil, PresetsInput{})
	require.NoError(t, err)
	assert.Contains(t, out.Presets, "covid")
	assert.Nil(t, out.Matrix)

	_, out, err = server.handlePresets(context.Background(), nil, PresetsInput{Name: "covid"})
	require.NoError(t, err)
	require.Len(t, out.States, 9)
	require.Len(t, out.Matrix, 9)
	assert.InDelta(t, 0.2, out.Matrix["E"][2], 1e-12)

	_, _, err = server.handlePresets(context.Background(), nil, PresetsInput{Name: "flu"})
	assert.ErrorIs(t, err, params.ErrUnknownModel)
}

func TestHandlers_RateLimited(t *testing.T) {
	server := setupTestServer(t, false)
	server.toolLimiters = ratelimit.NewToolLimiters(server.maxWork)

	in := SimulateInput{Replicates: 1, End: intPtr(1), Seed: seedPtr(1)}
	for i := 0; i < 2; i++ {
		_, _, err := server.handleSimulate(context.Background(), nil, in)
		require.NoError(t, err)
	}
	_, _, err := server.handleSimulate(context.Background(), nil, in)
	assert.ErrorIs(t, err, ratelimit.ErrRateLimited)
}
