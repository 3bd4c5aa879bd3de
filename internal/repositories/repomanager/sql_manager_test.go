package repomanager

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/crmsync/internal/dbx"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactories_ReturnRepos(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := NewRepositoryManager(dbx.Postgres())
	assert.Equal(t, "postgres", m.Dialect().Name())
	assert.NotNil(t, m.SyncLogs(db))
	assert.NotNil(t, m.Checkpoints(db))
	assert.NotNil(t, m.EditLocks(db))
	assert.NotNil(t, m.FieldHistory(db))
	assert.NotNil(t, m.Conflicts(db))
	assert.NotNil(t, m.AuditLog(db))
	assert.NotNil(t, m.Metadata(db))
	assert.NotNil(t, m.Records(db))
}

func TestRunMigrations_UsesDialectDirectory(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	orig := gooseUpContext
	var gotDir string
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		gotDir = dir
		return nil
	}
	defer func() { gooseUpContext = orig }()

	require.NoError(t, NewRepositoryManager(dbx.Postgres()).RunMigrations(context.Background(), db))
	assert.Equal(t, "postgres", gotDir)
}

func TestRunMigrations_Error(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	orig := gooseUpContext
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return errors.New("boom")
	}
	defer func() { gooseUpContext = orig }()

	err = NewRepositoryManager(dbx.SQLite()).RunMigrations(context.Background(), db)
	require.EqualError(t, err, "boom")
}

func TestRunMigrations_SQLiteEndToEnd(t *testing.T) {
	ctx := context.Background()
	db, d, err := dbx.Open(ctx, "sqlite", "file:"+filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	defer db.Close()

	goose.SetLogger(goose.NopLogger())
	m := NewRepositoryManager(d)
	require.NoError(t, m.RunMigrations(ctx, db))
	// second run is a no-op
	require.NoError(t, m.RunMigrations(ctx, db))

	for _, table := range []string{"sync_logs", "sync_checkpoints", "edit_locks", "field_change_history", "sync_conflicts", "audit_log", "kv_store"} {
		cols, err := d.ListColumns(ctx, db, table)
		require.NoError(t, err)
		assert.NotEmpty(t, cols, table)
	}
}
