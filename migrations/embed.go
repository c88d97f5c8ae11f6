// Package migrations embeds the goose migrations for the index cache.
package migrations

import "embed"

// FS holds the migration files.
//
//go:embed *.sql
var FS embed.FS
