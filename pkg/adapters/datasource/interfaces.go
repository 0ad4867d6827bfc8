package datasource

import (
	"context"

	"github.com/ekaya-inc/ekaya-tables/pkg/models"
)

// Session is the operation set shared by an adapter (autocommit) and an open
// transaction. Statements use $1..$n placeholders; adapters rebind them to the
// engine's native style. Values are always bound, never interpolated.
type Session interface {
	// Query runs a read-only statement and returns all rows.
	Query(ctx context.Context, statement string, params ...any) (*QueryResult, error)

	// Execute runs a mutating statement and returns the affected-row count.
	Execute(ctx context.Context, statement string, params ...any) (int64, error)

	// TableExists reports whether a physical table named name exists.
	TableExists(ctx context.Context, name string) (bool, error)

	// GetTableSchema introspects the live columns of a table in ordinal order.
	GetTableSchema(ctx context.Context, name string) ([]ColumnDescriptor, error)

	// CreateTable creates a physical table with the system columns plus one column per field.
	CreateTable(ctx context.Context, name string, fields []models.FieldDefinition) error

	DropTable(ctx context.Context, name string) error

	// AddColumn adds one column. Callers enforce that required fields carry a default.
	AddColumn(ctx context.Context, table string, field models.FieldDefinition) error

	// DropColumn removes a column and its data. Irreversible.
	DropColumn(ctx context.Context, table, column string) error

	// RenameColumn renames a column, keeping its data and constraints.
	RenameColumn(ctx context.Context, table, oldName, newName string) error

	// RemoveConstraint strips kind from column. allFields is the authoritative
	// field set, used when the engine has to rebuild the table.
	RemoveConstraint(ctx context.Context, table, column string, kind models.ConstraintKind, allFields []models.FieldDefinition) error
}

// Transaction is a Session bound to one open transaction.
// It is only valid until it is passed to Commit or Rollback.
type Transaction interface {
	Session

	// ID identifies the transaction in logs.
	ID() string
}

// TypeMapper converts semantic field types and values into engine terms.
type TypeMapper interface {
	// ColumnType returns the native column type for a field.
	ColumnType(field models.FieldDefinition) string

	// DefaultLiteral renders a default value as an engine-safe SQL literal.
	DefaultLiteral(value *models.DefaultValue) (string, error)

	// EncodeBool returns the native representation of b for binding.
	EncodeBool(b bool) any

	// DecodeBool converts a scanned native value back to bool.
	DecodeBool(v any) (bool, error)
}

// StorageAdapter is the engine-agnostic contract the schema service drives.
// One adapter owns one logical connection and at most one open transaction.
type StorageAdapter interface {
	Session
	TypeMapper

	// Connect opens the connection and ensures the catalog relations exist. Idempotent.
	Connect(ctx context.Context) error

	// Disconnect releases the connection. Any open transaction is rolled back.
	Disconnect() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error

	// Info describes the engine and the adapter's current state.
	Info() EngineInfo

	// BeginTransaction opens a transaction. Fails with ErrTransactionState if one is already open.
	BeginTransaction(ctx context.Context) (Transaction, error)

	// Commit commits tx. tx must be the adapter's currently open transaction.
	Commit(ctx context.Context, tx Transaction) error

	// Rollback rolls tx back. Rolling back a transaction the driver already
	// aborted (e.g. on context cancellation) succeeds and frees the slot.
	Rollback(ctx context.Context, tx Transaction) error
}

// QueryResult contains the rows returned by Query.
type QueryResult struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}
