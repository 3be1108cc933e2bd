package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nvandessel/abm/internal/telemetry"
)

// DefaultBatchSize is the number of records buffered per table before a
// RunSink writes them in one transaction.
const DefaultBatchSize = 500

// RunSink is a telemetry.Sink that persists one run's records. Writes are
// batched; Finish flushes the tail and records the run's outcome. It is
// safe for concurrent use.
type RunSink struct {
	ctx   context.Context
	store *Store
	runID string

	mu        sync.Mutex
	batchSize int
	tallies   []talliesRow
	totals    []totalsRow
	finished  bool
}

func newRunSink(ctx context.Context, s *Store, runID string) *RunSink {
	return &RunSink{
		ctx:       ctx,
		store:     s,
		runID:     runID,
		batchSize: DefaultBatchSize,
	}
}

// RunID returns the id of the run being recorded.
func (rs *RunSink) RunID() string {
	return rs.runID
}

// SetBatchSize changes the flush threshold. Values below 1 flush every record.
func (rs *RunSink) SetBatchSize(n int) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.batchSize = max(n, 1)
}

// WriteHeader is a no-op; the schema carries the columns.
func (rs *RunSink) WriteHeader() error {
	return nil
}

// WriteTallies buffers t and flushes when the batch is full.
func (rs *RunSink) WriteTallies(t telemetry.Tallies) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.tallies = append(rs.tallies, newTalliesRow(rs.runID, t))
	if len(rs.tallies) >= rs.batchSize {
		return rs.flushLocked()
	}
	return nil
}

// WriteTotals buffers t and flushes when the batch is full.
func (rs *RunSink) WriteTotals(t telemetry.Totals) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.totals = append(rs.totals, totalsRow{
		RunID:        rs.runID,
		Replicate:    t.Replicate,
		Iteration:    t.Iteration,
		Infections:   t.Infections,
		Vaccinations: t.Vaccinations,
	})
	if len(rs.totals) >= rs.batchSize {
		return rs.flushLocked()
	}
	return nil
}

// Flush writes any buffered records.
func (rs *RunSink) Flush() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.flushLocked()
}

// Finish flushes buffered records and marks the run complete, or failed when
// runErr is non-nil. Calling it more than once is a no-op.
func (rs *RunSink) Finish(runErr error) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.finished {
		return nil
	}
	rs.finished = true
	// the run context may already be cancelled; the tail and status must still land
	rs.ctx = context.WithoutCancel(rs.ctx)

	flushErr := rs.flushLocked()
	status := StatusComplete
	if runErr != nil || flushErr != nil {
		status = StatusFailed
	}
	statusErr := rs.store.setStatus(rs.ctx, rs.runID, status)
	return errors.Join(flushErr, statusErr)
}

func (rs *RunSink) flushLocked() error {
	if len(rs.tallies) == 0 && len(rs.totals) == 0 {
		return nil
	}

	tx, err := rs.store.db.BeginTxx(rs.ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if len(rs.tallies) > 0 {
		query, args, err := rs.store.dialect.Insert(tableTallies).Rows(rs.tallies).Prepared(true).ToSQL()
		if err != nil {
			return fmt.Errorf("failed to build tallies insert: %w", err)
		}
		if _, err := tx.ExecContext(rs.ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert tallies: %w", err)
		}
	}
	if len(rs.totals) > 0 {
		query, args, err := rs.store.dialect.Insert(tableTotals).Rows(rs.totals).Prepared(true).ToSQL()
		if err != nil {
			return fmt.Errorf("failed to build totals insert: %w", err)
		}
		if _, err := tx.ExecContext(rs.ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert totals: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit telemetry: %w", err)
	}

	rs.tallies = rs.tallies[:0]
	rs.totals = rs.totals[:0]
	return nil
}
