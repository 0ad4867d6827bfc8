//go:build cgo_sqlite

// CGO SQLite driver using mattn/go-sqlite3.
//
// Build with: go build -tags cgo_sqlite
// Requires: CGO_ENABLED=1
package sqlite

import (
	"database/sql"
	"fmt"
	"net/url"

	"github.com/golang-migrate/migrate/v4/database"
	migratesqlite3 "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/mattn/go-sqlite3" // CGO SQLite driver
)

const (
	driverName  = "sqlite3"
	driverType  = "cgo"
	migrateName = "sqlite3"
)

// buildDSN appends mattn connection parameters to the file path.
func buildDSN(cfg *Config) string {
	q := url.Values{}
	q.Set("_busy_timeout", fmt.Sprintf("%d", cfg.BusyTimeoutMs))
	q.Set("_foreign_keys", "on")
	q.Set("_txlock", "immediate")
	return "file:" + cfg.Path + "?" + q.Encode()
}

func newMigrationDriver(db *sql.DB) (database.Driver, error) {
	return migratesqlite3.WithInstance(db, &migratesqlite3.Config{MigrationsTable: migrationsTable})
}
