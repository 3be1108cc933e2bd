package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/nvandessel/abm/internal/models"
	"github.com/nvandessel/abm/internal/params"
	"github.com/nvandessel/abm/internal/telemetry"
)

// Run statuses.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// timeLayout is fixed width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Run describes one persisted simulation group.
type Run struct {
	ID         string            `json:"run_id"`
	Name       string            `json:"name"`
	CreatedAt  time.Time         `json:"created_at"`
	Status     string            `json:"status"`
	Replicates int               `json:"replicates"`
	Agents     int               `json:"agents"`
	Begin      int               `json:"begin_iteration"`
	End        int               `json:"end_iteration"`
	Seed       uint64            `json:"seed"`
	Parameters params.Parameters `json:"parameters"`
}

type runRow struct {
	ID         string `db:"run_id"`
	Name       string `db:"name"`
	CreatedAt  string `db:"created_at"`
	Status     string `db:"status"`
	Replicates int    `db:"replicates"`
	Agents     int    `db:"agents"`
	Begin      int    `db:"begin_iteration"`
	End        int    `db:"end_iteration"`
	Seed       string `db:"seed"`
	Parameters string `db:"parameters"`
}

var runColumns = []any{
	"run_id", "name", "created_at", "status", "replicates",
	"agents", "begin_iteration", "end_iteration", "seed", "parameters",
}

type talliesRow struct {
	RunID     string `db:"run_id"`
	Replicate int    `db:"replicate"`
	Iteration int    `db:"iteration"`
	S         int    `db:"s"`
	E         int    `db:"e"`
	A         int    `db:"a"`
	Y         int    `db:"y"`
	H         int    `db:"h"`
	I         int    `db:"i"`
	V         int    `db:"v"`
	R         int    `db:"r"`
	D         int    `db:"d"`
}

var talliesColumns = []any{"run_id", "replicate", "iteration", "s", "e", "a", "y", "h", "i", "v", "r", "d"}

type totalsRow struct {
	RunID        string `db:"run_id"`
	Replicate    int    `db:"replicate"`
	Iteration    int    `db:"iteration"`
	Infections   int    `db:"infections"`
	Vaccinations int    `db:"vaccinations"`
}

var totalsColumns = []any{"run_id", "replicate", "iteration", "infections", "vaccinations"}

func newTalliesRow(runID string, t telemetry.Tallies) talliesRow {
	c := t.Counts
	return talliesRow{
		RunID:     runID,
		Replicate: t.Replicate,
		Iteration: t.Iteration,
		S:         c[models.Susceptible],
		E:         c[models.Exposed],
		A:         c[models.InfectiousAsymptomatic],
		Y:         c[models.InfectiousSymptomatic],
		H:         c[models.InfectiousHospitalized],
		I:         c[models.InfectiousICU],
		V:         c[models.Vaccinated],
		R:         c[models.Recovered],
		D:         c[models.Dead],
	}
}

func (r talliesRow) record(name string) telemetry.Tallies {
	t := telemetry.Tallies{Name: name, Replicate: r.Replicate, Iteration: r.Iteration}
	t.Counts[models.Susceptible] = r.S
	t.Counts[models.Exposed] = r.E
	t.Counts[models.InfectiousAsymptomatic] = r.A
	t.Counts[models.InfectiousSymptomatic] = r.Y
	t.Counts[models.InfectiousHospitalized] = r.H
	t.Counts[models.InfectiousICU] = r.I
	t.Counts[models.Vaccinated] = r.V
	t.Counts[models.Recovered] = r.R
	t.Counts[models.Dead] = r.D
	return t
}

func (r totalsRow) record(name string) telemetry.Totals {
	return telemetry.Totals{
		Name:         name,
		Replicate:    r.Replicate,
		Iteration:    r.Iteration,
		Infections:   r.Infections,
		Vaccinations: r.Vaccinations,
	}
}

func (r runRow) run() (Run, error) {
	run := Run{
		ID:         r.ID,
		Name:       r.Name,
		Status:     r.Status,
		Replicates: r.Replicates,
		Agents:     r.Agents,
		Begin:      r.Begin,
		End:        r.End,
	}
	var err error
	if run.CreatedAt, err = time.Parse(timeLayout, r.CreatedAt); err != nil {
		return Run{}, fmt.Errorf("run %s: bad created_at: %w", r.ID, err)
	}
	if run.Seed, err = strconv.ParseUint(r.Seed, 10, 64); err != nil {
		return Run{}, fmt.Errorf("run %s: bad seed: %w", r.ID, err)
	}
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(r.Parameters, &run.Parameters); err != nil {
		return Run{}, fmt.Errorf("run %s: bad parameters: %w", r.ID, err)
	}
	return run, nil
}

// BeginRun records a new run for p and returns a sink that persists its
// telemetry. The caller must Finish the sink.
func (s *Store) BeginRun(ctx context.Context, p params.Parameters, seed uint64) (*RunSink, error) {
	paramsJSON, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalToString(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode parameters: %w", err)
	}

	row := runRow{
		ID:         uuid.NewString(),
		Name:       p.Name,
		CreatedAt:  time.Now().UTC().Format(timeLayout),
		Status:     StatusRunning,
		Replicates: p.Replicates,
		Agents:     p.Agents,
		Begin:      p.BeginIteration,
		End:        p.EndIteration,
		Seed:       strconv.FormatUint(seed, 10),
		Parameters: paramsJSON,
	}
	query, args, err := s.dialect.Insert(tableRuns).Rows(row).Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build run insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}
	return newRunSink(ctx, s, row.ID), nil
}

func (s *Store) setStatus(ctx context.Context, runID, status string) error {
	query, args, err := s.dialect.Update(tableRuns).
		Set(goqu.Record{"status": status}).
		Where(goqu.C("run_id").Eq(runID)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build status update: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	return nil
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	query, args, err := s.dialect.From(tableRuns).
		Select(runColumns...).
		Order(goqu.C("created_at").Desc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build run query: %w", err)
	}

	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	runs := make([]Run, 0, len(rows))
	for _, r := range rows {
		run, err := r.run()
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// GetRun returns the run with the given id, or ErrRunNotFound.
func (s *Store) GetRun(ctx context.Context, runID string) (Run, error) {
	query, args, err := s.dialect.From(tableRuns).
		Select(runColumns...).
		Where(goqu.C("run_id").Eq(runID)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return Run{}, fmt.Errorf("failed to build run query: %w", err)
	}

	var row runRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return row.run()
}

// Tallies returns a run's tallies ordered by replicate then iteration.
func (s *Store) Tallies(ctx context.Context, runID string) ([]telemetry.Tallies, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	query, args, err := s.recordQuery(tableTallies, talliesColumns, runID)
	if err != nil {
		return nil, err
	}

	var rows []talliesRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to read tallies: %w", err)
	}
	out := make([]telemetry.Tallies, len(rows))
	for i, r := range rows {
		out[i] = r.record(run.Name)
	}
	return out, nil
}

// Totals returns a run's totals ordered by replicate then iteration.
func (s *Store) Totals(ctx context.Context, runID string) ([]telemetry.Totals, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	query, args, err := s.recordQuery(tableTotals, totalsColumns, runID)
	if err != nil {
		return nil, err
	}

	var rows []totalsRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to read totals: %w", err)
	}
	out := make([]telemetry.Totals, len(rows))
	for i, r := range rows {
		out[i] = r.record(run.Name)
	}
	return out, nil
}

func (s *Store) recordQuery(table string, columns []any, runID string) (string, []any, error) {
	query, args, err := s.dialect.From(table).
		Select(columns...).
		Where(goqu.C("run_id").Eq(runID)).
		Order(goqu.C("replicate").Asc(), goqu.C("iteration").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("failed to build %s query: %w", table, err)
	}
	return query, args, nil
}

// Export replays a run into sink in replicate order: the header pair, then
// each iteration's tallies followed by its totals.
func (s *Store) Export(ctx context.Context, runID string, sink telemetry.Sink) error {
	tallies, err := s.Tallies(ctx, runID)
	if err != nil {
		return err
	}
	totals, err := s.Totals(ctx, runID)
	if err != nil {
		return err
	}

	if err := sink.WriteHeader(); err != nil {
		return err
	}
	i, j := 0, 0
	for i < len(tallies) || j < len(totals) {
		if j >= len(totals) || (i < len(tallies) && !after(tallies[i].Replicate, tallies[i].Iteration, totals[j].Replicate, totals[j].Iteration)) {
			if err := sink.WriteTallies(tallies[i]); err != nil {
				return err
			}
			i++
			continue
		}
		if err := sink.WriteTotals(totals[j]); err != nil {
			return err
		}
		j++
	}
	return nil
}

// after reports whether key (r1, it1) sorts after (r2, it2).
func after(r1, it1, r2, it2 int) bool {
	if r1 != r2 {
		return r1 > r2
	}
	return it1 > it2
}
