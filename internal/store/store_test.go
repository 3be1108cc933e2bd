package store

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvandessel/abm/internal/models"
	"github.com/nvandessel/abm/internal/params"
	"github.com/nvandessel/abm/internal/simulation"
	"github.com/nvandessel/abm/internal/telemetry"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "abm.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testParams() params.Parameters {
	p := params.Default()
	p.Name = "stored"
	p.Replicates = 3
	p.EndIteration = 20
	seed := uint64(7)
	p.Seed = &seed
	return p
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "x")
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

func TestOpen_PostgresRequiresDSN(t *testing.T) {
	for _, driver := range []string{DriverPostgres, DriverPGX} {
		_, err := Open(context.Background(), driver, "")
		assert.Error(t, err, driver)
	}
}

func TestOpen_DefaultPathUnderHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	s, err := Open(context.Background(), "", "")
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, DriverSQLite, s.Driver())
	assert.FileExists(t, filepath.Join(home, ".abm", DefaultFileName))
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "abm.db")
	ctx := context.Background()

	s, err := Open(ctx, DriverSQLite, path)
	require.NoError(t, err)
	rs, err := s.BeginRun(ctx, testParams(), 7)
	require.NoError(t, err)
	require.NoError(t, rs.Finish(nil))
	require.NoError(t, s.Close())

	s, err = Open(ctx, DriverSQLite, path)
	require.NoError(t, err)
	defer s.Close()

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestRunSink_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	p := testParams()

	rs, err := s.BeginRun(ctx, p, *p.Seed)
	require.NoError(t, err)
	rs.SetBatchSize(7)

	var csv bytes.Buffer
	g := simulation.NewGroup(simulation.GroupConfig{
		Workers: 2,
		Ordered: true,
		Sink:    telemetry.Multi(rs, telemetry.NewLineSink(&csv, telemetry.FormatCSV)),
	})
	require.NoError(t, g.CreateSimulations(simulation.New(p)))
	require.NoError(t, g.Run(ctx))
	require.NoError(t, rs.Finish(nil))

	run, err := s.GetRun(ctx, rs.RunID())
	require.NoError(t, err)
	assert.Equal(t, "stored", run.Name)
	assert.Equal(t, StatusComplete, run.Status)
	assert.Equal(t, uint64(7), run.Seed)
	assert.Equal(t, 3, run.Replicates)
	assert.Equal(t, 100, run.Agents)
	assert.Equal(t, p.Risks, run.Parameters.Risks)
	assert.Equal(t, p.Proportions, run.Parameters.Proportions)

	tallies, err := s.Tallies(ctx, rs.RunID())
	require.NoError(t, err)
	totals, err := s.Totals(ctx, rs.RunID())
	require.NoError(t, err)
	require.Len(t, tallies, 3*21)
	require.Len(t, totals, 3*21)

	wantTallies, wantTotals, err := telemetry.Decode(strings.NewReader(csv.String()))
	require.NoError(t, err)
	assert.Equal(t, wantTallies, tallies)
	assert.Equal(t, wantTotals, totals)

	// export reproduces the ordered stream byte for byte
	var exported bytes.Buffer
	require.NoError(t, s.Export(ctx, rs.RunID(), telemetry.NewLineSink(&exported, telemetry.FormatCSV)))
	assert.Equal(t, csv.String(), exported.String())
}

func TestRunSink_FinishFailed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rs, err := s.BeginRun(ctx, testParams(), 1)
	require.NoError(t, err)
	require.NoError(t, rs.WriteTallies(telemetry.Tallies{Replicate: 0, Iteration: 0, Counts: [models.NumStates]int{99, 1}}))
	require.NoError(t, rs.Finish(errors.New("boom")))
	require.NoError(t, rs.Finish(nil))

	run, err := s.GetRun(ctx, rs.RunID())
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, run.Status)

	tallies, err := s.Tallies(ctx, rs.RunID())
	require.NoError(t, err)
	require.Len(t, tallies, 1)
	assert.Equal(t, 99, tallies[0].Counts[models.Susceptible])
	assert.Equal(t, "stored", tallies[0].Name)
}

func TestRunSink_DuplicateKeyFails(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rs, err := s.BeginRun(ctx, testParams(), 1)
	require.NoError(t, err)
	rs.SetBatchSize(1)

	rec := telemetry.Totals{Replicate: 0, Iteration: 3}
	require.NoError(t, rs.WriteTotals(rec))
	assert.Error(t, rs.WriteTotals(rec))
}

func TestListRuns_NewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var ids []string
	for _, name := range []string{"first", "second", "third"} {
		p := testParams()
		p.Name = name
		rs, err := s.BeginRun(ctx, p, 1)
		require.NoError(t, err)
		require.NoError(t, rs.Finish(nil))
		ids = append(ids, rs.RunID())
	}

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[0], runs[2].ID)
	assert.Equal(t, "third", runs[0].Name)
}

func TestGetRun_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	err = s.Export(context.Background(), "missing", telemetry.Discard)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestValidateIntegrity(t *testing.T) {
	s := openTestStore(t)
	assert.NoError(t, s.ValidateIntegrity(context.Background()))
}
