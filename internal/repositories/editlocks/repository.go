// Package editlocks persists record edit locks. At most one ACTIVE lock may
// exist per (object type, record); the store enforces it with a partial
// unique index.
package editlocks

import (
	"context"

	"github.com/dmitrijs2005/crmsync/internal/models"
)

type Repository interface {
	// FindActive returns common.ErrorNotFound when the record is not locked.
	FindActive(ctx context.Context, objectType, recordID string) (*models.EditLock, error)

	// Insert stores a new lock. A concurrent ACTIVE lock surfaces as a unique
	// violation of the dialect.
	Insert(ctx context.Context, lock *models.EditLock) error

	// Extend moves expiry and activity forward for an ACTIVE lock.
	Extend(ctx context.Context, lockID string, expiresAt, lastActivity int64) error

	// SetStatus moves an ACTIVE lock into a terminal status. It returns
	// common.ErrorNotFound when the lock is no longer ACTIVE.
	SetStatus(ctx context.Context, lockID string, status models.LockStatus, at int64) error

	// ExpireBefore marks every ACTIVE lock with expires_at <= now as EXPIRED.
	ExpireBefore(ctx context.Context, now int64) (int64, error)

	ListActive(ctx context.Context) ([]*models.EditLock, error)
}
