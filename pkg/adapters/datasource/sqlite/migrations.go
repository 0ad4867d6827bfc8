package sqlite

import "embed"

// migrationsTable keeps golang-migrate bookkeeping inside the reserved catalog namespace.
const migrationsTable = "_catalog_migrations"

//go:embed migrations/*.sql
var migrationFiles embed.FS
