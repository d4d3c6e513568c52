// Package testutil starts the throwaway Postgres that storage integration
// tests run against.
//
//	func TestMain(m *testing.M) {
//		tc := testutil.MustStartPostgres()
//		testDB, _ = tc.NewTestDB(context.Background(), testutil.TestLogger())
//		code := m.Run()
//		tc.Terminate()
//		os.Exit(code)
//	}
package testutil

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/zeus-ia/zeus/internal/storage"
	"github.com/zeus-ia/zeus/migrations"
)

const (
	defaultImage   = "pgvector/pgvector:pg16"
	pgUser         = "zeus"
	pgPassword     = "zeus"
	pgDatabase     = "zeus_test"
	startupTimeout = 60 * time.Second
)

// TestContainer is a running Postgres with the vector extension installed.
type TestContainer struct {
	Container testcontainers.Container
	DSN       string
}

// StartPostgres launches the container. ZEUS_TEST_PG_IMAGE overrides the
// image, which must ship pgvector.
func StartPostgres(ctx context.Context) (*TestContainer, error) {
	image := os.Getenv("ZEUS_TEST_PG_IMAGE")
	if image == "" {
		image = defaultImage
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        image,
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     pgUser,
				"POSTGRES_PASSWORD": pgPassword,
				"POSTGRES_DB":       pgDatabase,
			},
			// Postgres logs readiness twice: once for the init run, once for real.
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(startupTimeout),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("testutil: start %s: %w", image, err)
	}
	tc := &TestContainer{Container: container}

	host, err := container.Host(ctx)
	if err != nil {
		tc.Terminate()
		return nil, fmt.Errorf("testutil: container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		tc.Terminate()
		return nil, fmt.Errorf("testutil: container port: %w", err)
	}
	tc.DSN = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", pgUser, pgPassword, host, port.Port(), pgDatabase)

	// The extension must exist before the first pool connects so that
	// AfterConnect can register the vector type.
	if err := createVectorExtension(ctx, tc.DSN); err != nil {
		tc.Terminate()
		return nil, err
	}
	return tc, nil
}

// MustStartPostgres is StartPostgres for TestMain: it exits on failure.
func MustStartPostgres() *TestContainer {
	tc, err := StartPostgres(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return tc
}

func createVectorExtension(ctx context.Context, dsn string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return fmt.Errorf("testutil: bootstrap connection: %w", err)
	}
	_, execErr := conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err := errors.Join(execErr, conn.Close(ctx)); err != nil {
		return fmt.Errorf("testutil: create vector extension: %w", err)
	}
	return nil
}

// NewTestDB opens a storage.DB on the container and applies the embedded
// migrations followed by any extra ones.
func (tc *TestContainer) NewTestDB(ctx context.Context, logger *slog.Logger, extra ...fs.FS) (*storage.DB, error) {
	db, err := storage.New(ctx, tc.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("testutil: open db: %w", err)
	}
	for _, fsys := range append([]fs.FS{migrations.FS}, extra...) {
		if err := db.RunMigrations(ctx, fsys); err != nil {
			db.Close()
			return nil, fmt.Errorf("testutil: migrate: %w", err)
		}
	}
	return db, nil
}

// Terminate stops and removes the container.
func (tc *TestContainer) Terminate() {
	_ = tc.Container.Terminate(context.Background())
}

// TestLogger logs warnings and errors to stderr.
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
