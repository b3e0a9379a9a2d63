package migrations

import "embed"

// FS embeds the PostgreSQL schema files.
//
//go:embed *.sql
var FS embed.FS
