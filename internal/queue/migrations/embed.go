package migrations

import "embed"

// FS holds the pending queue schema migrations.
//
//go:embed *.sql
var FS embed.FS
