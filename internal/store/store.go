// Package store persists API keys and notification routing state. It is the
// storage collaborator for the credential and notification subsystems: sqlite
// (modernc, embedded) by default, postgres (pgx) for shared deployments.
// Driver errors never leave this package in their native form; they are
// mapped into the apperr taxonomy at this boundary.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Config selects the backing database.
type Config struct {
	// Driver is "sqlite" or "postgres". Empty means sqlite.
	Driver string
	// DataDir holds the sqlite file; empty means in-memory. Ignored for postgres.
	DataDir string
	// DSN is the postgres connection string. Ignored for sqlite.
	DSN string
}

// Store wraps the database handle. All queries are written with `?`
// placeholders and rebound per driver.
type Store struct {
	db     *sqlx.DB
	driver string
}

// Open connects to the configured database and applies migrations.
func Open(cfg Config) (*Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite"
	}

	var db *sqlx.DB
	var err error
	switch driver {
	case "sqlite":
		dsn := ":memory:?_journal_mode=WAL"
		if cfg.DataDir != "" {
			if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
			dsn = filepath.Join(cfg.DataDir, "kohaku.db") + "?_journal_mode=WAL&_busy_timeout=5000"
		}
		db, err = sqlx.Connect("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	case "postgres":
		db, err = sqlx.Connect("pgx", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the connection is alive, for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind translates `?` placeholders into the driver's native form.
func (s *Store) rebind(query string) string {
	return s.db.Rebind(query)
}

// isUniqueViolation recognizes unique-constraint failures across both
// drivers. sqlite reports "UNIQUE constraint failed"; postgres reports
// SQLSTATE 23505 / "duplicate key value violates unique constraint".
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "sqlstate 23505")
}

// isConnectionFailure recognizes lost or unreachable connections.
func isConnectionFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "database is closed") ||
		strings.Contains(msg, "bad connection") ||
		strings.Contains(msg, "broken pipe")
}
