// Package conflicts stores divergences the reconciler detected but did not
// resolve automatically.
package conflicts

import (
	"context"

	"github.com/dmitrijs2005/crmsync/internal/models"
)

type Repository interface {
	Record(ctx context.Context, c *models.SyncConflict) error
	List(ctx context.Context, table string) ([]*models.SyncConflict, error)
}
