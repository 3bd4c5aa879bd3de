package checkpoints

import (
	"context"
	"database/sql"
	"errors"
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

func (r *SQLRepository) Get(ctx context.Context, objectType string) (*models.SyncCheckpoint, error) {
	cp := &models.SyncCheckpoint{ObjectType: objectType}
	err := r.db.QueryRowContext(ctx,
		r.dialect.Rebind(`SELECT next_offset, updated_at FROM sync_checkpoints WHERE object_type = ?`),
		objectType,
	).Scan(&cp.Offset, &cp.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint for %s: %w", objectType, err)
	}
	return cp, nil
}

func (r *SQLRepository) Save(ctx context.Context, cp *models.SyncCheckpoint) error {
	_, err := r.db.ExecContext(ctx, r.dialect.Rebind(`
		INSERT INTO sync_checkpoints (object_type, next_offset, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (object_type) DO UPDATE SET next_offset = excluded.next_offset, updated_at = excluded.updated_at
	`), cp.ObjectType, cp.Offset, cp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint for %s: %w", cp.ObjectType, err)
	}
	return nil
}

func (r *SQLRepository) Delete(ctx context.Context, objectType string) error {
	_, err := r.db.ExecContext(ctx, r.dialect.Rebind(`DELETE FROM sync_checkpoints WHERE object_type = ?`), objectType)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint for %s: %w", objectType, err)
	}
	return nil
}
