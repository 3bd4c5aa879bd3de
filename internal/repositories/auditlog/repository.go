// Package auditlog is the append-only store behind the audit logger.
package auditlog

import (
	"context"

	"github.com/dmitrijs2005/crmsync/internal/models"
)

type Repository interface {
	Append(ctx context.Context, e *models.AuditEntry) error
	// ListForRecord returns entries oldest first.
	ListForRecord(ctx context.Context, objectType, recordID string) ([]*models.AuditEntry, error)
}
