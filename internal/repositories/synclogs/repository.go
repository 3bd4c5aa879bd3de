// Package synclogs declares the contract for persisting sync run logs.
// Completed runs define the incremental watermark.
package synclogs

import (
	"context"

	"github.com/dmitrijs2005/crmsync/internal/models"
)

type Repository interface {
	// Create inserts a new run, normally IN_PROGRESS.
	Create(ctx context.Context, log *models.SyncLog) error

	// Finish writes the terminal state of a run: status, counts, completion
	// time, drained flag and details.
	Finish(ctx context.Context, log *models.SyncLog) error

	// Get returns common.ErrorNotFound when the run does not exist.
	Get(ctx context.Context, syncID string) (*models.SyncLog, error)

	// Watermark is the highest watermark recorded by a COMPLETED run. ok is
	// false when no such run exists.
	Watermark(ctx context.Context, objectType string) (watermark int64, ok bool, err error)

	// DemoteStale marks IN_PROGRESS runs started before cutoff as FAILED.
	DemoteStale(ctx context.Context, cutoff, now int64, reason string) (int64, error)

	// ListRecent returns up to limit runs for objectType, newest first.
	ListRecent(ctx context.Context, objectType string, limit int) ([]*models.SyncLog, error)
}
