// Package postgres embeds the goose migrations for the Postgres metadata store.
package postgres

import "embed"

//go:embed *.sql
var Migrations embed.FS
