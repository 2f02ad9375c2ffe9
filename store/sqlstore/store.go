/*
Package sqlstore provides a SQL-backed implementation of ledger.Store.

PURPOSE:
  Implements ledger.Store on top of database/sql through sqlx. The same
  queries run on SQLite (development, single node) and PostgreSQL
  (production); the Dialect only changes placeholders, row locking and
  the audit id column.

DIALECTS:
  sqlite3:   Opened with _txlock=immediate, so every WithTx starts with
             BEGIN IMMEDIATE and holds the database write lock. Lock*
             methods are plain reads; the database is the single writer.
             WAL mode lets snapshot reads proceed during a write.
  postgres:  Lock* methods use SELECT ... FOR UPDATE on the row, which
             serializes writers per key and lets unrelated keys proceed.

ENCODING:
  Decimals, civil dates, months and clock times are stored as TEXT in
  their canonical string form. Timestamps are fixed-width UTC strings so
  lexical order is time order on both databases.

ERRORS:
  sql.ErrNoRows becomes *generic.NotFoundError, unique violations become
  *generic.ConflictError, and every other driver error is wrapped in a
  *generic.StorageError (retryable).

USAGE:
  s, err := sqlstore.Open(ctx, cfg.Database)
  if err != nil {
      log.Fatal(err)
  }
  defer s.Close()

SEE ALSO:
  - ledger/store.go: Interface definition and lock order
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/warp/hr-ledger/config"
	"github.com/warp/hr-ledger/generic"
	"github.com/warp/hr-ledger/ledger"
)

// Dialect selects the SQL flavour.
type Dialect string

const (
	DialectSQLite   Dialect = config.DriverSQLite
	DialectPostgres Dialect = config.DriverPostgres
)

func (d Dialect) bindType() int { return sqlx.BindType(string(d)) }

// forUpdate is the row-lock suffix of a SELECT.
func (d Dialect) forUpdate() string {
	if d == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

// Store implements ledger.Store.
type Store struct {
	queries
	db *sqlx.DB
}

var _ ledger.Store = (*Store)(nil)

// Open connects, tunes the pool and migrates the schema.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	var (
		db  *sqlx.DB
		err error
	)
	switch Dialect(cfg.Driver) {
	case DialectSQLite:
		db, err = sqlx.Open(config.DriverSQLite, sqliteDSN(cfg.SQLitePath))
		if err == nil && isMemoryPath(cfg.SQLitePath) {
			// Every connection to :memory: is a separate database.
			db.SetMaxOpenConns(1)
		}
	case DialectPostgres:
		db, err = sqlx.Open(config.DriverPostgres, cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 && !isMemoryPath(cfg.SQLitePath) {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := NewWithDB(db, Dialect(cfg.Driver))
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// NewWithDB wraps an existing connection without migrating it.
func NewWithDB(db *sqlx.DB, d Dialect) *Store {
	return &Store{queries: queries{q: db, d: d}, db: db}
}

func sqliteDSN(path string) string {
	params := url.Values{}
	params.Set("_txlock", "immediate")
	params.Set("_busy_timeout", "5000")
	params.Set("_foreign_keys", "on")
	if isMemoryPath(path) {
		return "file::memory:?" + params.Encode()
	}
	params.Set("_journal_mode", "WAL")
	return "file:" + path + "?" + params.Encode()
}

func isMemoryPath(path string) bool {
	return path == ":memory:" || strings.HasPrefix(path, "file::memory:")
}

func (s *Store) Close() error { return s.db.Close() }

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return generic.Storage("ping", s.db.PingContext(ctx))
}

// WithTx executes fn within a database transaction.
// If fn returns error, transaction is rolled back.
// If fn returns nil, transaction is committed.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return generic.Storage("begin", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(&sqlTx{queries: queries{q: tx, d: s.d}}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return generic.Storage("commit", err)
	}
	committed = true
	return nil
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pe *pq.Error
	if errors.As(err, &pe) {
		return pe.Code == "23505" // unique_violation
	}
	return false
}
