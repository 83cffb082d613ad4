// Package migrations holds the engine's SQL schema migrations, embedded so the
// binary can migrate a database without shipping the files alongside it.
package migrations

import "embed"

// FS contains every *.sql migration in this directory.
//
//go:embed *.sql
var FS embed.FS
