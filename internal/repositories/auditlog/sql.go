package auditlog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/crmsync/internal/dbx"
	"github.com/dmitrijs2005/crmsync/internal/models"
)

type SQLRepository struct {
	db      dbx.DBTX
	dialect dbx.Dialect
}

func NewSQLRepository(db dbx.DBTX, d dbx.Dialect) *SQLRepository {
	return &SQLRepository{db: db, dialect: d}
}

func (r *SQLRepository) Append(ctx context.Context, e *models.AuditEntry) error {
	query := r.dialect.Rebind(`
		INSERT INTO audit_log (id, object_type, record_id, action, actor, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := r.db.ExecContext(ctx, query, e.ID, e.ObjectType, e.RecordID, e.Action, e.Actor, e.Details, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (r *SQLRepository) ListForRecord(ctx context.Context, objectType, recordID string) ([]*models.AuditEntry, error) {
	query := r.dialect.Rebind(`
		SELECT id, object_type, record_id, action, actor, details, created_at
		FROM audit_log WHERE object_type = ? AND record_id = ?
		ORDER BY created_at, id
	`)
	rows, err := r.db.QueryContext(ctx, query, objectType, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var out []*models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var details sql.NullString
		if err := rows.Scan(&e.ID, &e.ObjectType, &e.RecordID, &e.Action, &e.Actor, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Details = details.String
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}
	return out, nil
}
