// Package migrations embeds the goose migrations of the bookkeeping tables.
// Object-type tables are not migrated here; they are created and evolved at
// runtime from the remote schema.
package migrations

import "embed"

// Migrations holds one directory per dialect: postgres/ and sqlite/.
//
//go:embed postgres/*.sql sqlite/*.sql
var Migrations embed.FS
