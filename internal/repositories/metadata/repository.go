// Package metadata is the durable key-value bookkeeping store: cached
// credentials, last-run markers and the schema cache. Writes overwrite the
// whole value; there is no merge.
package metadata

import (
	"context"
)

type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) (map[string][]byte, error)
}
