// Package store persists simulation telemetry in a SQL database.
//
// A run is one simulation group: its parameters, seed and every tallies and
// totals record its replicates emitted. The same schema serves sqlite (the
// default, a file under ~/.abm) and postgres through either lib/pq or pgx.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // dialect registration
	_ "github.com/jackc/pgx/v5/stdlib"                  // pgx driver
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // SQLite driver
)

// Supported driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverPGX      = "pgx"
)

var (
	ErrUnknownDriver = errors.New("unknown store driver")
	ErrRunNotFound   = errors.New("run not found")
)

// dialects maps a database/sql driver name to its goqu dialect.
var dialects = map[string]string{
	DriverSQLite:   "sqlite3",
	DriverPostgres: "postgres",
	DriverPGX:      "postgres",
}

// Drivers lists the supported driver names.
func Drivers() []string {
	return []string{DriverSQLite, DriverPostgres, DriverPGX}
}

// Store is a telemetry database. It is safe for concurrent use.
type Store struct {
	db      *sqlx.DB
	dialect goqu.DialectWrapper
	driver  string
}

// Open connects to the database and initializes the schema. An empty sqlite
// dsn selects ~/.abm/abm.db.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	if driver == "" {
		driver = DriverSQLite
	}
	dialect, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("%w %q (valid: %s)", ErrUnknownDriver, driver, strings.Join(Drivers(), ", "))
	}

	if driver == DriverSQLite {
		if dsn == "" {
			path, err := DefaultSQLitePath()
			if err != nil {
				return nil, err
			}
			dsn = path
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		}
	} else if dsn == "" {
		return nil, fmt.Errorf("store driver %q requires a dsn", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1) // SQLite works best with single writer
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:      db,
		dialect: goqu.Dialect(dialect),
		driver:  driver,
	}
	if err := s.InitSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Driver returns the database/sql driver name.
func (s *Store) Driver() string {
	return s.driver
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
