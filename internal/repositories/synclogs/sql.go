package synclogs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/crmsync/internal/common"
	"github.com/dmitrijs2005/crmsync/internal/dbx"
	"github.com/dmitrijs2005/crmsync/internal/models"
)

const selectColumns = `sync_id, object_type, mode, status, records_count, error_count,
	started_at, completed_at, backlog_drained, watermark, details`

// SQLRepository implements Repository over dbx.DBTX for any supported dialect.
type SQLRepository struct {
	db      dbx.DBTX
	dialect dbx.Dialect
}

func NewSQLRepository(db dbx.DBTX, d dbx.Dialect) *SQLRepository {
	return &SQLRepository{db: db, dialect: d}
}

func (r *SQLRepository) Create(ctx context.Context, log *models.SyncLog) error {
	query := r.dialect.Rebind(`
		INSERT INTO sync_logs (sync_id, object_type, mode, status, records_count, error_count,
			started_at, completed_at, backlog_drained, watermark, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := r.db.ExecContext(ctx, query,
		log.SyncID, log.ObjectType, string(log.Mode), string(log.Status),
		log.RecordsCount, log.ErrorCount, log.StartedAt, nullMillis(log.CompletedAt),
		log.BacklogDrained, nullMillis(log.Watermark), log.Details,
	)
	if err != nil {
		return fmt.Errorf("failed to create sync log: %w", err)
	}
	return nil
}

func (r *SQLRepository) Finish(ctx context.Context, log *models.SyncLog) error {
	query := r.dialect.Rebind(`
		UPDATE sync_logs
		SET status = ?, records_count = ?, error_count = ?, completed_at = ?,
			backlog_drained = ?, watermark = ?, details = ?
		WHERE sync_id = ?
	`)
	res, err := r.db.ExecContext(ctx, query,
		string(log.Status), log.RecordsCount, log.ErrorCount, nullMillis(log.CompletedAt),
		log.BacklogDrained, nullMillis(log.Watermark), log.Details, log.SyncID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish sync log: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *SQLRepository) Get(ctx context.Context, syncID string) (*models.SyncLog, error) {
	query := r.dialect.Rebind(`SELECT ` + selectColumns + ` FROM sync_logs WHERE sync_id = ?`)
	log, err := scanLog(r.db.QueryRowContext(ctx, query, syncID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("failed to get sync log: %w", err)
	}
	return log, nil
}

func (r *SQLRepository) Watermark(ctx context.Context, objectType string) (int64, bool, error) {
	query := r.dialect.Rebind(`
		SELECT MAX(watermark) FROM sync_logs
		WHERE object_type = ? AND status = ?
	`)
	var wm sql.NullInt64
	err := r.db.QueryRowContext(ctx, query, objectType, string(models.SyncCompleted)).Scan(&wm)
	if err != nil {
		return 0, false, fmt.Errorf("failed to read watermark: %w", err)
	}
	return wm.Int64, wm.Valid, nil
}

func (r *SQLRepository) DemoteStale(ctx context.Context, cutoff, now int64, reason string) (int64, error) {
	query := r.dialect.Rebind(`
		UPDATE sync_logs
		SET status = ?, completed_at = ?, details = ?
		WHERE status = ? AND started_at < ?
	`)
	res, err := r.db.ExecContext(ctx, query,
		string(models.SyncFailed), now, reason, string(models.SyncInProgress), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to demote stale sync logs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to demote stale sync logs: %w", err)
	}
	return n, nil
}

func (r *SQLRepository) ListRecent(ctx context.Context, objectType string, limit int) ([]*models.SyncLog, error) {
	query := r.dialect.Rebind(`SELECT ` + selectColumns + ` FROM sync_logs
		WHERE object_type = ? ORDER BY started_at DESC LIMIT ?`)
	rows, err := r.db.QueryContext(ctx, query, objectType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.SyncLog
	for rows.Next() {
		log, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync log: %w", err)
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sync logs: %w", err)
	}
	return logs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLog(s scanner) (*models.SyncLog, error) {
	var (
		log       models.SyncLog
		mode      string
		status    string
		completed sql.NullInt64
		watermark sql.NullInt64
		details   sql.NullString
	)
	err := s.Scan(&log.SyncID, &log.ObjectType, &mode, &status, &log.RecordsCount, &log.ErrorCount,
		&log.StartedAt, &completed, &log.BacklogDrained, &watermark, &details)
	if err != nil {
		return nil, err
	}
	log.Mode = models.SyncMode(mode)
	log.Status = models.SyncStatus(status)
	log.CompletedAt = completed.Int64
	log.Watermark = watermark.Int64
	log.Details = details.String
	return &log, nil
}

func nullMillis(ms int64) sql.NullInt64 {
	return sql.NullInt64{Int64: ms, Valid: ms != 0}
}
