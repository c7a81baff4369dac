// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/carts/internal/model"
	"github.com/alfredjeanlab/carts/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Ping checks that the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) InsertEvent(ctx context.Context, event *model.Event) error {
	return queryInsertEvent(ctx, s.db, event)
}

func (s *PostgresStore) InsertSequence(ctx context.Context, seq *model.Sequence) error {
	return queryInsertSequence(ctx, s.db, seq)
}

func (s *PostgresStore) LatestEvent(ctx context.Context, deviceID int64) (*model.Event, error) {
	return queryLatestEvent(ctx, s.db, deviceID)
}

func (s *PostgresStore) LatestEvents(ctx context.Context, deviceID int64, n int) ([]*model.Event, error) {
	return queryLatestEvents(ctx, s.db, deviceID, n)
}

func (s *PostgresStore) ListEventsAfter(ctx context.Context, afterID int64, limit int) ([]*model.Event, error) {
	return queryListEventsAfter(ctx, s.db, afterID, limit)
}

// RunInTransaction begins a database transaction, creates a txStore that
// delegates to it, calls fn, and commits on success or rolls back on error.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txS := &txStore{tx: tx}
	if err := fn(txS); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// txStore implements store.Store using a *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

// Compile-time check that txStore implements store.Store.
var _ store.Store = (*txStore)(nil)

func (s *txStore) InsertEvent(ctx context.Context, event *model.Event) error {
	return queryInsertEvent(ctx, s.tx, event)
}

func (s *txStore) InsertSequence(ctx context.Context, seq *model.Sequence) error {
	return queryInsertSequence(ctx, s.tx, seq)
}

func (s *txStore) LatestEvent(ctx context.Context, deviceID int64) (*model.Event, error) {
	return queryLatestEvent(ctx, s.tx, deviceID)
}

func (s *txStore) LatestEvents(ctx context.Context, deviceID int64, n int) ([]*model.Event, error) {
	return queryLatestEvents(ctx, s.tx, deviceID, n)
}

func (s *txStore) ListEventsAfter(ctx context.Context, afterID int64, limit int) ([]*model.Event, error) {
	return queryListEventsAfter(ctx, s.tx, afterID, limit)
}

// RunInTransaction on a txStore reuses the existing transaction (no nesting).
func (s *txStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

// Close is a no-op for a transaction store; the parent store owns the connection.
func (s *txStore) Close() error {
	return nil
}
