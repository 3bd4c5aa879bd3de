// Package remote is the adapter to the CRM's REST API: paginated query,
// get-by-id, partial update and best-effort schema introspection.
package remote

import (
	"context"

	"github.com/dmitrijs2005/crmsync/internal/models"
)

// Op is a filter operator understood by the remote query endpoint.
type Op string

const (
	OpEQ  Op = "EQ"
	OpNEQ Op = "N"
	OpGTE Op = "GTE"
)

// Filter restricts a query on one field. Timestamps are epoch milliseconds.
type Filter struct {
	Field string
	Op    Op
	Value any
}

type OrderBy struct {
	Field     string
	Ascending bool
}

type Page struct {
	Records []*models.Record
	Total   int
}

// Client is the contract the sync engine, the schema evolver and the
// reconciler consume.
type Client interface {
	QueryPage(ctx context.Context, objectType string, filters []Filter, orderBy OrderBy, offset, limit int) (*Page, error)

	// DescribeSchema returns common.ErrSchemaUnsupported when the remote
	// cannot describe objectType.
	DescribeSchema(ctx context.Context, objectType string) ([]models.FieldDefinition, error)

	// GetRecord returns common.ErrorNotFound when the record does not exist.
	GetRecord(ctx context.Context, objectType, id string) (*models.Record, error)

	// UpdateRecord applies a partial update. It returns common.ErrorNotFound
	// when the record does not exist.
	UpdateRecord(ctx context.Context, objectType, id string, fields map[string]any) error
}
