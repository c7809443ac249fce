// Package migrations embeds the SQL schema for the local journal.
package migrations

import "embed"

// FS holds the *.up.sql and *.down.sql files, at its root.
//
//go:embed *.sql
var FS embed.FS
