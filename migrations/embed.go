// Package migrations embeds the goose SQL migrations for the secondary
// (mirror) store and the sync-state schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
