// Package migrations embeds the journal schema migrations into the binary.
package migrations

import "embed"

// FS holds the NNN_description.{up,down}.sql files at its root.
//
//go:embed *.sql
var FS embed.FS
