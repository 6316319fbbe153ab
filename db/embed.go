// Package db carries the Postgres schema migrations so binaries and tests can migrate without a
// checkout of the repository.
package db

import "embed"

//go:embed pg/*.sql
var Migrations embed.FS

// MigrationsRoot is the directory inside Migrations that holds the .sql files.
const MigrationsRoot = "pg"
