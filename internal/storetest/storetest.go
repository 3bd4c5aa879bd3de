// Package storetest opens throwaway SQLite stores with the bookkeeping
// migrations applied, for use in package tests.
package storetest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/dmitrijs2005/crmsync/internal/dbx"
	"github.com/dmitrijs2005/crmsync/internal/migrations"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"
)

// Open returns a migrated SQLite database in t's temp dir. A file is used
// instead of :memory: so every pooled connection sees the same data.
func Open(t testing.TB) (*sql.DB, dbx.Dialect) {
	t.Helper()

	ctx := context.Background()
	db, d, err := dbx.Open(ctx, "sqlite", "file:"+filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrations.Migrations)
	require.NoError(t, goose.SetDialect(d.GooseDialect()))
	require.NoError(t, goose.UpContext(ctx, db, d.Name()))

	return db, d
}
