// Package locks grants short-lived exclusive editing sessions over single
// records. Expected outcomes such as a conflict or a missing lock are returned
// as Result values; only storage failures are errors.
package locks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/crmsync/internal/common"
	"github.com/dmitrijs2005/crmsync/internal/dbx"
	"github.com/dmitrijs2005/crmsync/internal/logging"
	"github.com/dmitrijs2005/crmsync/internal/models"
	"github.com/dmitrijs2005/crmsync/internal/repositories/repomanager"
	"github.com/google/uuid"
)

const DefaultTTL = 30 * time.Minute

type Outcome string

const (
	OutcomeAcquired      Outcome = "acquired"
	OutcomeRenewed       Outcome = "renewed"
	OutcomeConflict      Outcome = "conflict"
	OutcomeReleased      Outcome = "released"
	OutcomeHeartbeat     Outcome = "heartbeat"
	OutcomeForceReleased Outcome = "force_released"
	OutcomeNotFound      Outcome = "not_found"
)

// Result describes what a lock operation did. On conflict Holder names the
// current owner; otherwise Lock is the caller's lock after the operation.
type Result struct {
	Success bool             `json:"success"`
	Outcome Outcome          `json:"outcome"`
	Lock    *models.EditLock `json:"lock,omitempty"`
	Holder  *models.EditLock `json:"holder,omitempty"`
	Message string           `json:"message,omitempty"`
}

// Permission answers whether a user may write a record right now.
type Permission struct {
	Allowed bool             `json:"allowed"`
	Holder  *models.EditLock `json:"holder,omitempty"`
	Reason  string           `json:"reason,omitempty"`
}

type Manager struct {
	db     *sql.DB
	repos  repomanager.RepositoryManager
	ttl    time.Duration
	logger logging.Logger
	now    func() time.Time
}

func NewManager(db *sql.DB, repos repomanager.RepositoryManager, ttl time.Duration, logger logging.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		db:     db,
		repos:  repos,
		ttl:    ttl,
		logger: logger.With("module", "locks"),
		now:    time.Now,
	}
}

// SetClock replaces the wall clock used for expiry decisions.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Acquire creates a lock, renews the caller's own lock, or reports the holder
// of a conflicting one. Expired locks found on the way are retired first.
func (m *Manager) Acquire(ctx context.Context, objectType, recordID, userID, role string) (*Result, error) {
	if err := checkKey(objectType, recordID, userID); err != nil {
		return nil, err
	}
	res, err := m.acquire(ctx, objectType, recordID, userID, role)
	if err != nil && m.repos.Dialect().IsUniqueViolation(err) {
		// lost the insert race; the winner's lock is visible now
		res, err = m.acquire(ctx, objectType, recordID, userID, role)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	return res, nil
}

func (m *Manager) acquire(ctx context.Context, objectType, recordID, userID, role string) (*Result, error) {
	var res *Result
	err := dbx.WithTx(ctx, m.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := m.repos.EditLocks(tx)
		now := m.now().UnixMilli()

		current, err := m.activeLock(ctx, tx, objectType, recordID, now)
		if err != nil {
			return err
		}

		if current != nil {
			if current.UserID != userID {
				res = &Result{Outcome: OutcomeConflict, Holder: current,
					Message: fmt.Sprintf("record is locked by %s until %s", current.UserID, millis(current.ExpiresAt))}
				return nil
			}
			current.ExpiresAt = now + m.ttl.Milliseconds()
			current.LastActivity = now
			if err := repo.Extend(ctx, current.LockID, current.ExpiresAt, current.LastActivity); err != nil {
				return err
			}
			res = &Result{Success: true, Outcome: OutcomeRenewed, Lock: current}
			return nil
		}

		lock := &models.EditLock{
			LockID:       uuid.NewString(),
			ObjectType:   objectType,
			RecordID:     recordID,
			UserID:       userID,
			Role:         role,
			CreatedAt:    now,
			ExpiresAt:    now + m.ttl.Milliseconds(),
			LastActivity: now,
			Status:       models.LockActive,
		}
		if err := repo.Insert(ctx, lock); err != nil {
			return err
		}
		res = &Result{Success: true, Outcome: OutcomeAcquired, Lock: lock}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res.Success {
		m.logger.Debug(ctx, "lock held", "object_type", objectType, "record_id", recordID,
			"user_id", userID, "outcome", string(res.Outcome))
	}
	return res, nil
}

// Release ends the caller's lock. Releasing a lock the caller does not hold
// reports OutcomeNotFound.
func (m *Manager) Release(ctx context.Context, objectType, recordID, userID string) (*Result, error) {
	if err := checkKey(objectType, recordID, userID); err != nil {
		return nil, err
	}
	res, err := m.end(ctx, objectType, recordID, models.LockReleased, func(l *models.EditLock) bool {
		return l.UserID == userID
	})
	if err != nil {
		return nil, fmt.Errorf("failed to release lock: %w", err)
	}
	return res, nil
}

// ForceRelease ends any active lock on the record and writes an audit entry.
func (m *Manager) ForceRelease(ctx context.Context, objectType, recordID, adminUserID string) (*Result, error) {
	if err := checkKey(objectType, recordID, adminUserID); err != nil {
		return nil, err
	}
	res, err := m.end(ctx, objectType, recordID, models.LockForceReleased, func(*models.EditLock) bool { return true })
	if err != nil {
		return nil, fmt.Errorf("failed to force release lock: %w", err)
	}
	if res.Success {
		m.logger.Warn(ctx, "lock force released", "object_type", objectType, "record_id", recordID,
			"holder", res.Lock.UserID, "admin", adminUserID)
		entry := &models.AuditEntry{
			ID:         uuid.NewString(),
			ObjectType: objectType,
			RecordID:   recordID,
			Action:     "lock_force_released",
			Actor:      adminUserID,
			Details:    fmt.Sprintf("lock %s held by %s", res.Lock.LockID, res.Lock.UserID),
			CreatedAt:  m.now().UnixMilli(),
		}
		if err := m.repos.AuditLog(m.db).Append(ctx, entry); err != nil {
			return res, fmt.Errorf("failed to audit force release: %w", err)
		}
	}
	return res, nil
}

func (m *Manager) end(ctx context.Context, objectType, recordID string, status models.LockStatus,
	allowed func(*models.EditLock) bool) (*Result, error) {
	var res *Result
	err := dbx.WithTx(ctx, m.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		now := m.now().UnixMilli()
		current, err := m.activeLock(ctx, tx, objectType, recordID, now)
		if err != nil {
			return err
		}
		if current == nil || !allowed(current) {
			res = &Result{Outcome: OutcomeNotFound, Message: "no lock found"}
			return nil
		}
		err = m.repos.EditLocks(tx).SetStatus(ctx, current.LockID, status, now)
		if errors.Is(err, common.ErrorNotFound) {
			res = &Result{Outcome: OutcomeNotFound, Message: "no lock found"}
			return nil
		}
		if err != nil {
			return err
		}
		current.Status = status
		current.LastActivity = now
		outcome := OutcomeReleased
		if status == models.LockForceReleased {
			outcome = OutcomeForceReleased
		}
		res = &Result{Success: true, Outcome: outcome, Lock: current}
		return nil
	})
	return res, err
}

// Heartbeat records activity on the caller's lock and pushes its expiry out
// by one TTL.
func (m *Manager) Heartbeat(ctx context.Context, objectType, recordID, userID string) (*Result, error) {
	if err := checkKey(objectType, recordID, userID); err != nil {
		return nil, err
	}
	var res *Result
	err := dbx.WithTx(ctx, m.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		now := m.now().UnixMilli()
		current, err := m.activeLock(ctx, tx, objectType, recordID, now)
		if err != nil {
			return err
		}
		if current == nil || current.UserID != userID {
			res = &Result{Outcome: OutcomeNotFound, Holder: current, Message: "no lock found"}
			return nil
		}
		current.ExpiresAt = now + m.ttl.Milliseconds()
		current.LastActivity = now
		if err := m.repos.EditLocks(tx).Extend(ctx, current.LockID, current.ExpiresAt, now); err != nil {
			return err
		}
		res = &Result{Success: true, Outcome: OutcomeHeartbeat, Lock: current}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to heartbeat lock: %w", err)
	}
	return res, nil
}

// ValidateEditPermission allows a write when the record is unlocked or locked
// by userID.
func (m *Manager) ValidateEditPermission(ctx context.Context, objectType, recordID, userID string) (*Permission, error) {
	if err := checkKey(objectType, recordID, userID); err != nil {
		return nil, err
	}
	lock, err := m.repos.EditLocks(m.db).FindActive(ctx, objectType, recordID)
	if errors.Is(err, common.ErrorNotFound) {
		return &Permission{Allowed: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check edit permission: %w", err)
	}
	if lock.ExpiredAt(m.now().UnixMilli()) || lock.UserID == userID {
		return &Permission{Allowed: true, Holder: lock}, nil
	}
	return &Permission{
		Holder: lock,
		Reason: fmt.Sprintf("record is locked by %s until %s", lock.UserID, millis(lock.ExpiresAt)),
	}, nil
}

// CleanupExpiredLocks marks every elapsed ACTIVE lock EXPIRED.
func (m *Manager) CleanupExpiredLocks(ctx context.Context) (int64, error) {
	n, err := m.repos.EditLocks(m.db).ExpireBefore(ctx, m.now().UnixMilli())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.logger.Info(ctx, "expired locks cleaned up", "count", n)
	}
	return n, nil
}

// ActiveLocks lists the locks currently marked ACTIVE, expired or not.
func (m *Manager) ActiveLocks(ctx context.Context) ([]*models.EditLock, error) {
	return m.repos.EditLocks(m.db).ListActive(ctx)
}

// activeLock returns the live lock on a record, retiring it first if its TTL
// has elapsed.
func (m *Manager) activeLock(ctx context.Context, tx dbx.DBTX, objectType, recordID string, now int64) (*models.EditLock, error) {
	repo := m.repos.EditLocks(tx)
	lock, err := repo.FindActive(ctx, objectType, recordID)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !lock.ExpiredAt(now) {
		return lock, nil
	}
	if err := repo.SetStatus(ctx, lock.LockID, models.LockExpired, now); err != nil && !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}
	return nil, nil
}

func checkKey(objectType, recordID, userID string) error {
	switch {
	case objectType == "":
		return common.NewValidationError("object_type", "must not be empty")
	case recordID == "":
		return common.NewValidationError("record_id", "must not be empty")
	case userID == "":
		return common.NewValidationError("user_id", "must not be empty")
	}
	return nil
}

func millis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
