// Package repomanager provides a concrete RepositoryManager for the supported
// SQL dialects, wiring together repository constructors and database
// migrations (via goose).
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/crmsync/internal/dbx"
	"github.com/dmitrijs2005/crmsync/internal/migrations"
	"github.com/dmitrijs2005/crmsync/internal/repositories/auditlog"
	"github.com/dmitrijs2005/crmsync/internal/repositories/checkpoints"
	"github.com/dmitrijs2005/crmsync/internal/repositories/conflicts"
	"github.com/dmitrijs2005/crmsync/internal/repositories/editlocks"
	"github.com/dmitrijs2005/crmsync/internal/repositories/fieldhistory"
	"github.com/dmitrijs2005/crmsync/internal/repositories/metadata"
	"github.com/dmitrijs2005/crmsync/internal/repositories/records"
	"github.com/dmitrijs2005/crmsync/internal/repositories/synclogs"
	"github.com/pressly/goose/v3"
)

// SQLRepositoryManager vends repositories for one dialect and exposes a
// schema migration hook.
type SQLRepositoryManager struct {
	dialect dbx.Dialect
}

// NewRepositoryManager constructs a RepositoryManager for dialect d.
func NewRepositoryManager(d dbx.Dialect) RepositoryManager {
	return &SQLRepositoryManager{dialect: d}
}

func (m *SQLRepositoryManager) Dialect() dbx.Dialect { return m.dialect }

func (m *SQLRepositoryManager) SyncLogs(db dbx.DBTX) synclogs.Repository {
	return synclogs.NewSQLRepository(db, m.dialect)
}

func (m *SQLRepositoryManager) Checkpoints(db dbx.DBTX) checkpoints.Repository {
	return checkpoints.NewSQLRepository(db, m.dialect)
}

func (m *SQLRepositoryManager) EditLocks(db dbx.DBTX) editlocks.Repository {
	return editlocks.NewSQLRepository(db, m.dialect)
}

func (m *SQLRepositoryManager) FieldHistory(db dbx.DBTX) fieldhistory.Repository {
	return fieldhistory.NewSQLRepository(db, m.dialect)
}

func (m *SQLRepositoryManager) Conflicts(db dbx.DBTX) conflicts.Repository {
	return conflicts.NewSQLRepository(db, m.dialect)
}

func (m *SQLRepositoryManager) AuditLog(db dbx.DBTX) auditlog.Repository {
	return auditlog.NewSQLRepository(db, m.dialect)
}

func (m *SQLRepositoryManager) Metadata(db dbx.DBTX) metadata.Repository {
	return metadata.NewSQLRepository(db, m.dialect)
}

func (m *SQLRepositoryManager) Records(db dbx.DBTX) records.Repository {
	return records.NewSQLRepository(db, m.dialect)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations of the dialect and
// runs them against the provided database connection.
func (m *SQLRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect(m.dialect.GooseDialect()); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, db, m.dialect.Name()); err != nil {
		return err
	}
	return nil
}
