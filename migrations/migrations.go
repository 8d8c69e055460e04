// Package migrations embeds the goose SQL migrations for the store's
// fixed tables. Record tables are schema-driven and created by the store
// itself; only the metadata key-value table is migrated here.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
