// Package migrations embeds SQL migration files.
package migrations

import "embed"

// FS contiene las migraciones de la tabla de usuarios.
//
//go:embed *.sql
var FS embed.FS

// Dir is the directory within FS where migrations live.
const Dir = "."
