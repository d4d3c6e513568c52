// Package storage provides the PostgreSQL storage layer for ZEUS.
//
// It manages connection pooling via pgxpool, registers pgvector types for the
// long-term memory table, and implements the memory, activity, approval and
// principal stores on top of a single Pool.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
)

// Pool is the subset of *pgxpool.Pool the storage layer uses. It exists so
// unit tests can substitute pgxmock.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// DB wraps a Pool and a clock.
type DB struct {
	pool   Pool
	logger *slog.Logger
	now    func() time.Time
}

// New creates a new DB with a connection pool.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse pool DSN: %w", err)
	}

	// Register pgvector types on each new connection. Best-effort: the
	// extension may not exist until the first migration has run.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if err := pgxvector.RegisterTypes(ctx, conn); err != nil {
			logger.Debug("storage: pgvector types not registered (extension may not exist yet)", "error", err)
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	return NewWithPool(pool, logger), nil
}

// NewWithPool wraps an existing pool. Used by tests with pgxmock.
func NewWithPool(pool Pool, logger *slog.Logger) *DB {
	return &DB{pool: pool, logger: logger, now: time.Now}
}

// WithClock returns a copy of db that reads time from now. TTL tests use it
// to move the clock without sleeping.
func (db *DB) WithClock(now func() time.Time) *DB {
	cp := *db
	cp.now = now
	return &cp
}

// Pool returns the underlying connection pool for use by other packages.
func (db *DB) Pool() Pool {
	return db.pool
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}
