package storage

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"002_approvals.sql": {Data: []byte("SELECT 2")},
		"001_initial.sql":   {Data: []byte("SELECT 1")},
		"README.md":         {Data: []byte("notes")},
		"seed/003_x.sql":    {Data: []byte("SELECT 3")},
	}
	names, err := migrationFiles(fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_initial.sql", "002_approvals.sql"}, names)
}

func TestRunMigrationsSkipsApplied(t *testing.T) {
	db, mock := newMockDB(t)
	fsys := fstest.MapFS{
		"001_initial.sql": {Data: []byte("CREATE TABLE alpha")},
		"002_more.sql":    {Data: []byte("CREATE TABLE beta")},
	}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs(migrationLockID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("001_initial.sql").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs(migrationLockID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("002_more.sql").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("CREATE TABLE beta").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("INSERT INTO schema_migrations").WithArgs("002_more.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, db.RunMigrations(context.Background(), fsys))
	assert.NoError(t, mock.ExpectationsWereMet())
}
