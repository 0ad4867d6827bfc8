//go:build !cgo_sqlite

package sqlite

import (
	"database/sql"
	"fmt"
	"net/url"

	"github.com/golang-migrate/migrate/v4/database"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const (
	driverName  = "sqlite"
	driverType  = "purego"
	migrateName = "sqlite"
)

// buildDSN appends modernc pragma parameters to the file path.
func buildDSN(cfg *Config) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeoutMs))
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_txlock", "immediate")
	return "file:" + cfg.Path + "?" + q.Encode()
}

func newMigrationDriver(db *sql.DB) (database.Driver, error) {
	return migratesqlite.WithInstance(db, &migratesqlite.Config{MigrationsTable: migrationsTable})
}
