// Package migrations embeds the goose SQL migration files so the binary can
// migrate its own schema at startup.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
