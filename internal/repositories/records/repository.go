// Package records reads and writes the dynamic per-object-type tables. Table
// and column names come from the remote schema and are validated against
// dbx.ValidIdent before they are interpolated into SQL.
package records

import (
	"context"

	"github.com/dmitrijs2005/crmsync/internal/dbx"
	"github.com/dmitrijs2005/crmsync/internal/models"
	"github.com/dmitrijs2005/crmsync/internal/normalize"
)

type Repository interface {
	// EnsureTable creates the table with the identity and bookkeeping columns
	// if it does not exist yet.
	EnsureTable(ctx context.Context, table string) error

	Columns(ctx context.Context, table string) ([]dbx.Column, error)

	// AddColumn adds one nullable column. added is false when the column
	// already existed (a benign race).
	AddColumn(ctx context.Context, table, column string, t models.CoarseType) (added bool, err error)

	// TypeMatches compares a live column type with the type AddColumn would
	// create for t.
	TypeMatches(live string, t models.CoarseType) bool

	// Upsert applies one generated statement. A missing column surfaces as
	// *common.SchemaDriftError.
	Upsert(ctx context.Context, u *normalize.Upsert, row map[string]any, syncTime int64) error

	// Get returns common.ErrorNotFound when the row does not exist.
	Get(ctx context.Context, table, id string) (*models.LocalRow, error)

	// ListPendingEdits returns rows carrying local edits not yet pushed.
	ListPendingEdits(ctx context.Context, table string) ([]*models.LocalRow, error)

	// SaveLocalEdit writes edited field values together with the pending
	// edit map and the local modification stamp.
	SaveLocalEdit(ctx context.Context, table, id string, fields map[string]any,
		edits map[string]models.PendingEdit, at int64, userID, role string) error

	// ApplyRemote overwrites fields with remote values as a sync write:
	// sync_version is incremented and sync_time stamped.
	ApplyRemote(ctx context.Context, table, id string, fields map[string]any, syncTime int64) error

	// SetPendingEdits replaces the pending edit map; an empty map clears it.
	SetPendingEdits(ctx context.Context, table, id string, edits map[string]models.PendingEdit) error
}
