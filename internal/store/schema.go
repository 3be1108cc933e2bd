package store

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
)

// SchemaVersion is the current schema version.
const SchemaVersion = 1

const (
	tableRuns          = "runs"
	tableTallies       = "tallies"
	tableTotals        = "totals"
	tableSchemaVersion = "schema_version"
)

// schemaV1 is portable across sqlite and postgres. Seeds are stored as text
// because a uint64 does not fit a signed BIGINT.
var schemaV1 = []string{
	`CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    created_at TEXT NOT NULL,
    status TEXT NOT NULL,  -- 'running', 'complete', 'failed'
    replicates INTEGER NOT NULL,
    agents INTEGER NOT NULL,
    begin_iteration INTEGER NOT NULL,
    end_iteration INTEGER NOT NULL,
    seed TEXT NOT NULL,
    parameters TEXT NOT NULL  -- JSON
)`,
	`CREATE TABLE IF NOT EXISTS tallies (
    run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
    replicate INTEGER NOT NULL,
    iteration INTEGER NOT NULL,
    s INTEGER NOT NULL,
    e INTEGER NOT NULL,
    a INTEGER NOT NULL,
    y INTEGER NOT NULL,
    h INTEGER NOT NULL,
    i INTEGER NOT NULL,
    v INTEGER NOT NULL,
    r INTEGER NOT NULL,
    d INTEGER NOT NULL,
    PRIMARY KEY (run_id, replicate, iteration)
)`,
	`CREATE TABLE IF NOT EXISTS totals (
    run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
    replicate INTEGER NOT NULL,
    iteration INTEGER NOT NULL,
    infections INTEGER NOT NULL,
    vaccinations INTEGER NOT NULL,
    PRIMARY KEY (run_id, replicate, iteration)
)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at)`,
	`CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
)`,
}

// InitSchema creates all tables on a fresh database and applies migrations
// on an existing one.
func (s *Store) InitSchema(ctx context.Context) error {
	currentVersion, err := s.schemaVersion(ctx)
	if err != nil {
		// Schema version table doesn't exist yet, create fresh schema
		if err := s.createSchema(ctx); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
		return nil
	}

	if s.driver == DriverSQLite {
		if err := s.ValidateIntegrity(ctx); err != nil {
			return fmt.Errorf("database integrity check failed: %w", err)
		}
	}

	if currentVersion < SchemaVersion {
		if err := s.migrateSchema(ctx, currentVersion); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return nil
}

// schemaVersion returns 0 and an error if the schema_version table doesn't
// exist.
func (s *Store) schemaVersion(ctx context.Context) (int, error) {
	query, args, err := s.dialect.From(tableSchemaVersion).
		Select(goqu.COALESCE(goqu.MAX("version"), 0)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return 0, err
	}
	var version int
	if err := s.db.GetContext(ctx, &version, query, args...); err != nil {
		return 0, err
	}
	return version, nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range schemaV1 {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}

	if err := s.recordVersion(ctx, tx, SchemaVersion); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return tx.Commit()
}

func (s *Store) recordVersion(ctx context.Context, tx *sqlx.Tx, version int) error {
	query, args, err := s.dialect.Insert(tableSchemaVersion).
		Rows(schemaVersionRow{Version: version, AppliedAt: time.Now().UTC().Format(time.RFC3339)}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, query, args...)
	return err
}

// migrateSchema applies migrations from currentVersion to SchemaVersion.
// There is only one version so far.
func (s *Store) migrateSchema(ctx context.Context, currentVersion int) error {
	_ = ctx
	_ = currentVersion
	return nil
}

// ValidateIntegrity runs PRAGMA integrity_check on a sqlite database.
func (s *Store) ValidateIntegrity(ctx context.Context) error {
	var results []string
	if err := s.db.SelectContext(ctx, &results, `PRAGMA integrity_check`); err != nil {
		return fmt.Errorf("failed to run integrity_check: %w", err)
	}
	for _, result := range results {
		if result != "ok" {
			return fmt.Errorf("integrity_check failed: %s", result)
		}
	}
	return nil
}

type schemaVersionRow struct {
	Version   int    `db:"version"`
	AppliedAt string `db:"applied_at"`
}
