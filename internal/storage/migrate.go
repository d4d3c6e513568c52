package storage

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
)

// migrationLockID is the advisory lock key that serializes migration runs
// across ZEUS replicas starting at the same time.
const migrationLockID int64 = 0x5a455553

// RunMigrations applies the *.sql files at the root of fsys in lexical order.
// Each file runs in its own transaction together with its schema_migrations
// row, so a failed file leaves no partial state and is retried next start.
func (db *DB) RunMigrations(ctx context.Context, fsys fs.FS) error {
	if _, err := db.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("storage: create schema_migrations: %w", err)
	}

	names, err := migrationFiles(fsys)
	if err != nil {
		return err
	}

	var applied int
	for _, name := range names {
		ran, err := db.applyMigration(ctx, fsys, name)
		if err != nil {
			return err
		}
		if ran {
			applied++
		}
	}
	db.logger.Info("storage: migrations up to date", "files", len(names), "applied", applied)
	return nil
}

func (db *DB) applyMigration(ctx context.Context, fsys fs.FS, name string) (bool, error) {
	body, err := fs.ReadFile(fsys, name)
	if err != nil {
		return false, fmt.Errorf("storage: read migration %s: %w", name, err)
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("storage: begin migration %s: %w", name, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
		return false, fmt.Errorf("storage: lock migrations: %w", err)
	}

	var done bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, name,
	).Scan(&done); err != nil {
		return false, fmt.Errorf("storage: check migration %s: %w", name, err)
	}
	if done {
		db.logger.Debug("storage: migration already applied", "file", name)
		return false, nil
	}

	db.logger.Info("storage: applying migration", "file", name)
	if _, err := tx.Exec(ctx, string(body)); err != nil {
		return false, fmt.Errorf("storage: apply migration %s: %w", name, err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, name); err != nil {
		return false, fmt.Errorf("storage: record migration %s: %w", name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("storage: commit migration %s: %w", name, err)
	}
	return true, nil
}

// migrationFiles lists the SQL files at the root of fsys, sorted.
func migrationFiles(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("storage: read migrations dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(path.Ext(e.Name()), ".sql") {
			continue
		}
		names = append(names, e.Name())
	}
	slices.Sort(names)
	return names, nil
}
