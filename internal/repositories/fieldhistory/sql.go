package fieldhistory

import (
	"context"
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

func (r *SQLRepository) Append(ctx context.Context, changes []models.FieldChange) error {
	query := r.dialect.Rebind(`
		INSERT INTO field_change_history (object_type, table_name, field, change, coarse_type, detail, observed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	for _, c := range changes {
		_, err := r.db.ExecContext(ctx, query, c.ObjectType, c.Table, c.Field, string(c.Change),
			string(c.CoarseType), c.Detail, c.ObservedAt)
		if err != nil {
			return fmt.Errorf("failed to append field change %s.%s: %w", c.Table, c.Field, err)
		}
	}
	return nil
}

func (r *SQLRepository) List(ctx context.Context, objectType string, limit int) ([]models.FieldChange, error) {
	query := r.dialect.Rebind(`
		SELECT object_type, table_name, field, change, coarse_type, detail, observed_at
		FROM field_change_history WHERE object_type = ?
		ORDER BY observed_at DESC, id DESC LIMIT ?
	`)
	rows, err := r.db.QueryContext(ctx, query, objectType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list field changes: %w", err)
	}
	defer rows.Close()

	var out []models.FieldChange
	for rows.Next() {
		var c models.FieldChange
		var change, coarse string
		if err := rows.Scan(&c.ObjectType, &c.Table, &c.Field, &change, &coarse, &c.Detail, &c.ObservedAt); err != nil {
			return nil, fmt.Errorf("failed to scan field change: %w", err)
		}
		c.Change = models.FieldChangeKind(change)
		c.CoarseType = models.CoarseType(coarse)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate field changes: %w", err)
	}
	return out, nil
}
