// Package store is the C2 State Store: durable workflows, event log, token
// usage, profiles, and checkpoint snapshots, backed by Postgres through
// pgx/v5 and versioned with golang-migrate.
package store

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the shared connection pool and the root for every repository
// in this package. The core accesses Postgres only through this pool's
// explicit Acquire/Release semantics (via pgxpool, which manages this
// internally) and a numbered-placeholder ($1..$N) SQL convention.
type Store struct {
	Pool *pgxpool.Pool

	Workflows   *WorkflowStore
	Events      *EventStore
	TokenUsage  *TokenUsageStore
	Profiles    *ProfileStore
	Checkpoints *CheckpointStore
	Settings    *SettingsStore
}

// Open connects to Postgres, runs pending migrations, and wires up every
// repository against the shared pool.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if err := migrateUp(databaseURL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	s := &Store{Pool: pool}
	s.Workflows = &WorkflowStore{pool: pool}
	s.Events = &EventStore{pool: pool}
	s.TokenUsage = &TokenUsageStore{pool: pool}
	s.Profiles = &ProfileStore{pool: pool}
	s.Checkpoints = &CheckpointStore{pool: pool}
	s.Settings = &SettingsStore{pool: pool}
	return s, nil
}

// migrateUp applies every ordered migration not yet recorded in
// schema_migrations. The runner is idempotent: a second call is a no-op.
func migrateUp(databaseURL string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrations source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("migrate instance: %w", err)
	}
	defer func() { _, _ = m.Close() }()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.Pool.Close()
}

// Transaction runs fn within a single Postgres transaction, committing on
// success and rolling back if fn returns an error or panics.
func (s *Store) Transaction(ctx context.Context, fn func(ctx context.Context, tx pgxTx) error) (err error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()
	return fn(ctx, tx)
}
