package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/crmsync/internal/dbx"
	"github.com/dmitrijs2005/crmsync/internal/repositories/auditlog"
	"github.com/dmitrijs2005/crmsync/internal/repositories/checkpoints"
	"github.com/dmitrijs2005/crmsync/internal/repositories/conflicts"
	"github.com/dmitrijs2005/crmsync/internal/repositories/editlocks"
	"github.com/dmitrijs2005/crmsync/internal/repositories/fieldhistory"
	"github.com/dmitrijs2005/crmsync/internal/repositories/metadata"
	"github.com/dmitrijs2005/crmsync/internal/repositories/records"
	"github.com/dmitrijs2005/crmsync/internal/repositories/synclogs"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Dialect() dbx.Dialect
	SyncLogs(db dbx.DBTX) synclogs.Repository
	Checkpoints(db dbx.DBTX) checkpoints.Repository
	EditLocks(db dbx.DBTX) editlocks.Repository
	FieldHistory(db dbx.DBTX) fieldhistory.Repository
	Conflicts(db dbx.DBTX) conflicts.Repository
	AuditLog(db dbx.DBTX) auditlog.Repository
	Metadata(db dbx.DBTX) metadata.Repository
	Records(db dbx.DBTX) records.Repository
}
