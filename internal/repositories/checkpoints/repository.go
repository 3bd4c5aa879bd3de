// Package checkpoints persists the resume offset of interrupted full syncs.
package checkpoints

import (
	"context"

	"github.com/dmitrijs2005/crmsync/internal/models"
)

type Repository interface {
	// Get returns nil, nil when no checkpoint exists.
	Get(ctx context.Context, objectType string) (*models.SyncCheckpoint, error)
	Save(ctx context.Context, cp *models.SyncCheckpoint) error
	Delete(ctx context.Context, objectType string) error
}
