package conflicts

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

func (r *SQLRepository) Record(ctx context.Context, c *models.SyncConflict) error {
	query := r.dialect.Rebind(`
		INSERT INTO sync_conflicts (table_name, record_id, field, local_value, remote_value,
			local_time, remote_time, resolution, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := r.db.ExecContext(ctx, query, c.Table, c.RecordID, c.Field, c.LocalValue, c.RemoteValue,
		c.LocalTime, c.RemoteTime, c.Resolution, c.DetectedAt)
	if err != nil {
		return fmt.Errorf("failed to record conflict on %s.%s: %w", c.Table, c.Field, err)
	}
	return nil
}

func (r *SQLRepository) List(ctx context.Context, table string) ([]*models.SyncConflict, error) {
	query := r.dialect.Rebind(`
		SELECT table_name, record_id, field, local_value, remote_value, local_time, remote_time, resolution, detected_at
		FROM sync_conflicts WHERE table_name = ? ORDER BY detected_at, id
	`)
	rows, err := r.db.QueryContext(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	defer rows.Close()

	var out []*models.SyncConflict
	for rows.Next() {
		var c models.SyncConflict
		var local, remote sql.NullString
		if err := rows.Scan(&c.Table, &c.RecordID, &c.Field, &local, &remote,
			&c.LocalTime, &c.RemoteTime, &c.Resolution, &c.DetectedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		c.LocalValue = local.String
		c.RemoteValue = remote.String
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conflicts: %w", err)
	}
	return out, nil
}
