// Package migrations embeds SQL migration files per SQL dialect.
package migrations

import "embed"

// FS contains the postgres/ and sqlite/ migration directories.
//
//go:embed postgres/*.sql sqlite/*.sql
var FS embed.FS
