package editlocks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/crmsync/internal/common"
	"github.com/dmitrijs2005/crmsync/internal/dbx"
	"github.com/dmitrijs2005/crmsync/internal/models"
)

const selectColumns = `lock_id, object_type, record_id, user_id, role, created_at, expires_at, last_activity, status`

type SQLRepository struct {
	db      dbx.DBTX
	dialect dbx.Dialect
}

func NewSQLRepository(db dbx.DBTX, d dbx.Dialect) *SQLRepository {
	return &SQLRepository{db: db, dialect: d}
}

func (r *SQLRepository) FindActive(ctx context.Context, objectType, recordID string) (*models.EditLock, error) {
	query := r.dialect.Rebind(`SELECT ` + selectColumns + ` FROM edit_locks
		WHERE object_type = ? AND record_id = ? AND status = ?`)
	lock, err := scanLock(r.db.QueryRowContext(ctx, query, objectType, recordID, string(models.LockActive)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("failed to find active lock: %w", err)
	}
	return lock, nil
}

func (r *SQLRepository) Insert(ctx context.Context, lock *models.EditLock) error {
	query := r.dialect.Rebind(`
		INSERT INTO edit_locks (lock_id, object_type, record_id, user_id, role, created_at, expires_at, last_activity, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := r.db.ExecContext(ctx, query, lock.LockID, lock.ObjectType, lock.RecordID, lock.UserID,
		lock.Role, lock.CreatedAt, lock.ExpiresAt, lock.LastActivity, string(lock.Status))
	if err != nil {
		return fmt.Errorf("failed to insert lock: %w", err)
	}
	return nil
}

func (r *SQLRepository) Extend(ctx context.Context, lockID string, expiresAt, lastActivity int64) error {
	query := r.dialect.Rebind(`UPDATE edit_locks SET expires_at = ?, last_activity = ?
		WHERE lock_id = ? AND status = ?`)
	return r.execOne(ctx, "extend", query, expiresAt, lastActivity, lockID, string(models.LockActive))
}

func (r *SQLRepository) SetStatus(ctx context.Context, lockID string, status models.LockStatus, at int64) error {
	query := r.dialect.Rebind(`UPDATE edit_locks SET status = ?, last_activity = ?
		WHERE lock_id = ? AND status = ?`)
	return r.execOne(ctx, "update", query, string(status), at, lockID, string(models.LockActive))
}

func (r *SQLRepository) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s lock: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s lock: %w", op, err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *SQLRepository) ExpireBefore(ctx context.Context, now int64) (int64, error) {
	query := r.dialect.Rebind(`UPDATE edit_locks SET status = ? WHERE status = ? AND expires_at <= ?`)
	res, err := r.db.ExecContext(ctx, query, string(models.LockExpired), string(models.LockActive), now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire locks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to expire locks: %w", err)
	}
	return n, nil
}

func (r *SQLRepository) ListActive(ctx context.Context) ([]*models.EditLock, error) {
	query := r.dialect.Rebind(`SELECT ` + selectColumns + ` FROM edit_locks WHERE status = ? ORDER BY created_at`)
	rows, err := r.db.QueryContext(ctx, query, string(models.LockActive))
	if err != nil {
		return nil, fmt.Errorf("failed to list locks: %w", err)
	}
	defer rows.Close()

	var locks []*models.EditLock
	for rows.Next() {
		lock, err := scanLock(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lock: %w", err)
		}
		locks = append(locks, lock)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate locks: %w", err)
	}
	return locks, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLock(s scanner) (*models.EditLock, error) {
	var lock models.EditLock
	var status string
	err := s.Scan(&lock.LockID, &lock.ObjectType, &lock.RecordID, &lock.UserID, &lock.Role,
		&lock.CreatedAt, &lock.ExpiresAt, &lock.LastActivity, &status)
	if err != nil {
		return nil, err
	}
	lock.Status = models.LockStatus(status)
	return &lock, nil
}
