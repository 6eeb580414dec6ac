// Package migrations embeds SQL migration files for the Postgres corpus store.
//
// The {{DIMENSION}} placeholder is replaced with the corpus dimension before a
// migration runs.
package migrations

import "embed"

// FS contains all SQL migration files embedded at compile time.
//
//go:embed *.sql
var FS embed.FS
