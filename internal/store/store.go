// Package store implements the Connection Event Log: an ambient,
// purely-additive diagnostics trail of OutboundConnection status
// transitions, backed by sqlite. It is never consulted on the hot
// path — the Client Manager always reads its own in-memory status
// record — so it cannot affect the "Status consistency" testable
// property (spec.md §8).
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	msqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	_ "modernc.org/sqlite"

	"github.com/1mcp-app/agent/internal/errs"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store wraps a migrated sqlite connection for the Connection Event
// Log.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if absent) the sqlite database at dbFile and
// applies pending migrations.
func Open(dbFile string) (*Store, error) {
	if dir := filepath.Dir(dbFile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errs.New(errs.InternalErr, "store.Open", err)
		}
	}

	db, err := sql.Open("sqlite", "file:"+dbFile+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, errs.New(errs.InternalErr, "store.Open", fmt.Errorf("opening database: %w", err))
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	migDriver, err := iofs.New(migrations, "migrations")
	if err != nil {
		return nil, errs.New(errs.InternalErr, "store.Open", err)
	}
	driver, err := msqlite.WithInstance(db, &msqlite.Config{})
	if err != nil {
		return nil, errs.New(errs.InternalErr, "store.Open", err)
	}
	mig, err := migrate.NewWithInstance("iofs", migDriver, "sqlite", driver)
	if err != nil {
		return nil, errs.New(errs.InternalErr, "store.Open", err)
	}
	if err := mig.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, errs.New(errs.InternalErr, "store.Open", fmt.Errorf("running migrations: %w", err))
	}

	return &Store{db: sqlx.NewDb(db, "sqlite")}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// ConnectionEvent is one row of the connection_events table.
type ConnectionEvent struct {
	ID         int64     `db:"id"`
	ServerName string    `db:"server_name"`
	FromStatus string    `db:"from_status"`
	ToStatus   string    `db:"to_status"`
	At         time.Time `db:"at"`
	Detail     string    `db:"detail"`
}

// RecordTransition appends one status transition row. Failures are the
// caller's to log-and-ignore — the event log is diagnostics, not a
// source of truth the Client Manager depends on.
func (s *Store) RecordTransition(ctx context.Context, serverName, fromStatus, toStatus, detail string) error {
	const q = `INSERT INTO connection_events (server_name, from_status, to_status, at, detail) VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.db.ExecContext(ctx, q, serverName, fromStatus, toStatus, time.Now(), detail); err != nil {
		return errs.New(errs.InternalErr, "store.RecordTransition", err)
	}
	return nil
}

// History returns the most recent limit transitions for serverName,
// newest first — the data surfaced at GET /health?history=<n>.
func (s *Store) History(ctx context.Context, serverName string, limit int) ([]ConnectionEvent, error) {
	const q = `SELECT id, server_name, from_status, to_status, at, detail FROM connection_events
	           WHERE server_name = $1 ORDER BY at DESC LIMIT $2`
	var events []ConnectionEvent
	if err := s.db.SelectContext(ctx, &events, q, serverName, limit); err != nil {
		return nil, errs.New(errs.InternalErr, "store.History", err)
	}
	return events, nil
}

// RecentAll returns the most recent limit transitions across every
// upstream, newest first.
func (s *Store) RecentAll(ctx context.Context, limit int) ([]ConnectionEvent, error) {
	const q = `SELECT id, server_name, from_status, to_status, at, detail FROM connection_events
	           ORDER BY at DESC LIMIT $1`
	var events []ConnectionEvent
	if err := s.db.SelectContext(ctx, &events, q, limit); err != nil {
		return nil, errs.New(errs.InternalErr, "store.RecentAll", err)
	}
	return events, nil
}
