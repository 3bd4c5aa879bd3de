// Package fieldhistory records schema observations (added, missing, extra
// and type-changed fields) per object type.
package fieldhistory

import (
	"context"

	"github.com/dmitrijs2005/crmsync/internal/models"
)

type Repository interface {
	Append(ctx context.Context, changes []models.FieldChange) error
	// List returns the newest limit observations for objectType.
	List(ctx context.Context, objectType string, limit int) ([]models.FieldChange, error)
}
