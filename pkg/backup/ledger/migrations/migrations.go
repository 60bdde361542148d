// Package migrations embeds the postgres schema of the view ledger.
package migrations

import "embed"

// FS holds the golang-migrate files.
//
//go:embed *.sql
var FS embed.FS
