package mssql

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-tables/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-tables/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-tables/pkg/models"
)

// newMockAdapter returns an adapter wired to sqlmock, skipping Connect and
// the catalog migrations.
func newMockAdapter(t *testing.T) (*Adapter, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	a := NewAdapter(&Config{Host: "localhost", Port: DefaultPort(), Database: "tables", User: "sa"}, zap.NewNop())
	a.db = db
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return a, mock
}

var columnHeaders = []string{
	"column_name", "data_type", "max_length", "precision", "scale",
	"is_nullable", "ordinal_position", "is_primary_key", "is_unique", "default_value",
}

func ordersColumns() *sqlmock.Rows {
	return sqlmock.NewRows(columnHeaders).
		AddRow("id", "bigint", 8, 19, 0, 0, 1, 1, 0, nil).
		AddRow("total", "float", 8, 53, 0, 0, 2, 0, 0, nil).
		AddRow("code", "nvarchar", 900, 0, 0, 0, 3, 0, 1, nil).
		AddRow("note", "nvarchar", -1, 0, 0, 1, 4, 0, 0, "(N'none')").
		AddRow("created_at", "datetimeoffset", 10, 34, 7, 0, 5, 0, 0, "(sysdatetimeoffset())").
		AddRow("updated_at", "datetimeoffset", 10, 34, 7, 0, 6, 0, 0, "(sysdatetimeoffset())")
}

func ordersFields() []models.FieldDefinition {
	return []models.FieldDefinition{
		{Name: "total", Type: models.FieldTypeNumber, Required: true},
		{Name: "code", Type: models.FieldTypeText, Required: true, Unique: true},
		{Name: "note", Type: models.FieldTypeText, DefaultValue: models.TextDefault("none")},
	}
}

// expectOrdersTable expects the table lookup and column introspection that
// every ALTER path starts with.
func expectOrdersTable(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(`FROM sys\.tables`).WithArgs("orders").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("orders"))
	mock.ExpectQuery(`FROM sys\.columns c`).WithArgs("orders").
		WillReturnRows(ordersColumns())
}

var (
	uqCode      = datasource.UniqueIndexName("orders", "code")
	uqNote      = datasource.UniqueIndexName("orders", "note")
	uqReference = datasource.UniqueIndexName("orders", "reference")
	dfNote      = defaultConstraintName("orders", "note")
	dfStatus    = defaultConstraintName("orders", "status")
	dfState     = defaultConstraintName("orders", "state")
)

func exec(stmt string) string {
	return "^" + regexp.QuoteMeta(stmt) + "$"
}

func TestSession_CreateTable(t *testing.T) {
	a, mock := newMockAdapter(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM sys\.tables`).WithArgs("orders").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE [orders] (\n  [id] BIGINT IDENTITY(1,1) NOT NULL PRIMARY KEY,\n  [total] FLOAT NOT NULL,")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(exec("CREATE UNIQUE INDEX [" + uqCode + "] ON [orders] ([code]) WHERE [code] IS NOT NULL")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, a.CreateTable(context.Background(), "orders", ordersFields()))
}

func TestSession_CreateTableAlreadyExists(t *testing.T) {
	a, mock := newMockAdapter(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM sys\.tables`).WithArgs("orders").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Orders"))
	mock.ExpectRollback()

	err := a.CreateTable(context.Background(), "orders", ordersFields())
	assert.ErrorIs(t, err, apperrors.ErrSchemaConflict)
}

func TestSession_AddColumnFillsExistingRows(t *testing.T) {
	a, mock := newMockAdapter(t)

	mock.ExpectBegin()
	expectOrdersTable(mock)
	mock.ExpectExec(exec("ALTER TABLE [orders] ADD [status] NVARCHAR(MAX) NOT NULL CONSTRAINT [" + dfStatus + "] DEFAULT N'new' WITH VALUES")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := a.AddColumn(context.Background(), "orders", models.FieldDefinition{
		Name: "status", Type: models.FieldTypeText, Required: true, DefaultValue: models.TextDefault("new"),
	})
	require.NoError(t, err)
}

func TestSession_AddColumnRequiresDefault(t *testing.T) {
	a, _ := newMockAdapter(t)

	err := a.AddColumn(context.Background(), "orders", models.FieldDefinition{
		Name: "status", Type: models.FieldTypeText, Required: true,
	})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestSession_AddExistingColumnConflicts(t *testing.T) {
	a, mock := newMockAdapter(t)

	mock.ExpectBegin()
	expectOrdersTable(mock)
	mock.ExpectRollback()

	err := a.AddColumn(context.Background(), "orders", models.FieldDefinition{Name: "NOTE", Type: models.FieldTypeText})
	assert.ErrorIs(t, err, apperrors.ErrSchemaConflict)
}

func TestSession_DropColumnRemovesIndexesAndDefault(t *testing.T) {
	a, mock := newMockAdapter(t)

	mock.ExpectBegin()
	expectOrdersTable(mock)
	mock.ExpectQuery(`FROM sys\.indexes i`).WithArgs("orders", "note").
		WillReturnRows(sqlmock.NewRows([]string{"name", "is_constraint"}).AddRow(uqNote, 0))
	mock.ExpectExec(exec("DROP INDEX [" + uqNote + "] ON [orders]")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM sys\.default_constraints dc`).WithArgs("orders", "note").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow(dfNote))
	mock.ExpectExec(exec("ALTER TABLE [orders] DROP CONSTRAINT [" + dfNote + "]")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(exec("ALTER TABLE [orders] DROP COLUMN [note]")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, a.DropColumn(context.Background(), "orders", "note"))
}

func TestSession_DropSystemColumn(t *testing.T) {
	a, _ := newMockAdapter(t)

	err := a.DropColumn(context.Background(), "orders", "created_at")
	assert.ErrorIs(t, err, apperrors.ErrSchemaConflict)
}

func TestSession_RenameColumnRenamesIndex(t *testing.T) {
	a, mock := newMockAdapter(t)

	mock.ExpectBegin()
	expectOrdersTable(mock)
	mock.ExpectExec(`EXEC sp_rename`).WithArgs("[orders].[code]", "reference", "COLUMN").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM sys\.indexes i`).WithArgs("orders", "reference").
		WillReturnRows(sqlmock.NewRows([]string{"name", "is_constraint"}).AddRow(uqCode, 0))
	mock.ExpectExec(`EXEC sp_rename`).WithArgs("[orders].["+uqCode+"]", uqReference, "INDEX").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM sys\.default_constraints dc`).WithArgs("orders", "reference").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectCommit()

	require.NoError(t, a.RenameColumn(context.Background(), "orders", "code", "reference"))
}

func TestSession_RenameColumnFreesDefaultConstraintName(t *testing.T) {
	a, mock := newMockAdapter(t)
	withStatus := sqlmock.NewRows(columnHeaders).
		AddRow("id", "bigint", 8, 19, 0, 0, 1, 1, 0, nil).
		AddRow("status", "nvarchar", -1, 0, 0, 1, 2, 0, 0, "(N'new')").
		AddRow("created_at", "datetimeoffset", 10, 34, 7, 0, 3, 0, 0, "(sysdatetimeoffset())").
		AddRow("updated_at", "datetimeoffset", 10, 34, 7, 0, 4, 0, 0, "(sysdatetimeoffset())")
	withState := sqlmock.NewRows(columnHeaders).
		AddRow("id", "bigint", 8, 19, 0, 0, 1, 1, 0, nil).
		AddRow("state", "nvarchar", -1, 0, 0, 1, 2, 0, 0, "(N'new')").
		AddRow("created_at", "datetimeoffset", 10, 34, 7, 0, 3, 0, 0, "(sysdatetimeoffset())").
		AddRow("updated_at", "datetimeoffset", 10, 34, 7, 0, 4, 0, 0, "(sysdatetimeoffset())")

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM sys\.tables`).WithArgs("orders").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("orders"))
	mock.ExpectQuery(`FROM sys\.columns c`).WithArgs("orders").WillReturnRows(withStatus)
	mock.ExpectExec(`EXEC sp_rename`).WithArgs("[orders].[status]", "state", "COLUMN").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM sys\.indexes i`).WithArgs("orders", "state").
		WillReturnRows(sqlmock.NewRows([]string{"name", "is_constraint"}))
	mock.ExpectQuery(`FROM sys\.default_constraints dc`).WithArgs("orders", "state").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow(dfStatus))
	mock.ExpectExec(`EXEC sp_rename`).WithArgs("["+dfStatus+"]", dfState, "OBJECT").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, a.RenameColumn(context.Background(), "orders", "status", "state"))

	// The old column name can carry a default again.
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM sys\.tables`).WithArgs("orders").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("orders"))
	mock.ExpectQuery(`FROM sys\.columns c`).WithArgs("orders").WillReturnRows(withState)
	mock.ExpectExec(exec("ALTER TABLE [orders] ADD [status] NVARCHAR(MAX) NULL CONSTRAINT [" + dfStatus + "] DEFAULT N'open' WITH VALUES")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := a.AddColumn(context.Background(), "orders", models.FieldDefinition{
		Name: "status", Type: models.FieldTypeText, DefaultValue: models.TextDefault("open"),
	})
	require.NoError(t, err)
}

func TestSession_RenameColumnCaseOnlyKeepsNames(t *testing.T) {
	a, mock := newMockAdapter(t)

	mock.ExpectBegin()
	expectOrdersTable(mock)
	mock.ExpectExec(`EXEC sp_rename`).WithArgs("[orders].[note]", "Note", "COLUMN").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, a.RenameColumn(context.Background(), "orders", "note", "Note"))
}

func TestSession_RenameColumnCollision(t *testing.T) {
	a, mock := newMockAdapter(t)

	mock.ExpectBegin()
	expectOrdersTable(mock)
	mock.ExpectRollback()

	err := a.RenameColumn(context.Background(), "orders", "code", "Note")
	assert.ErrorIs(t, err, apperrors.ErrSchemaConflict)
}

func TestSession_RemoveRequiredRecreatesUniqueIndex(t *testing.T) {
	a, mock := newMockAdapter(t)

	mock.ExpectBegin()
	expectOrdersTable(mock)
	mock.ExpectQuery(`FROM sys\.indexes i`).WithArgs("orders", "code").
		WillReturnRows(sqlmock.NewRows([]string{"name", "is_constraint"}).AddRow(uqCode, 0))
	mock.ExpectExec(exec("DROP INDEX [" + uqCode + "] ON [orders]")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(exec("ALTER TABLE [orders] ALTER COLUMN [code] NVARCHAR(450) NULL")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(exec("CREATE UNIQUE INDEX [" + uqCode + "] ON [orders] ([code]) WHERE [code] IS NOT NULL")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := a.RemoveConstraint(context.Background(), "orders", "code", models.ConstraintRequired, ordersFields())
	require.NoError(t, err)
}

func TestSession_RemoveRequiredOnNullableColumnIsNoop(t *testing.T) {
	a, mock := newMockAdapter(t)

	mock.ExpectBegin()
	expectOrdersTable(mock)
	mock.ExpectCommit()

	err := a.RemoveConstraint(context.Background(), "orders", "note", models.ConstraintRequired, ordersFields())
	require.NoError(t, err)
}

func TestSession_RemoveUniqueDropsConstraint(t *testing.T) {
	a, mock := newMockAdapter(t)

	mock.ExpectBegin()
	expectOrdersTable(mock)
	mock.ExpectQuery(`FROM sys\.indexes i`).WithArgs("orders", "code").
		WillReturnRows(sqlmock.NewRows([]string{"name", "is_constraint"}).AddRow("UQ__orders__357D4CF9", 1))
	mock.ExpectExec(exec("ALTER TABLE [orders] DROP CONSTRAINT [UQ__orders__357D4CF9]")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := a.RemoveConstraint(context.Background(), "orders", "code", models.ConstraintUnique, ordersFields())
	require.NoError(t, err)
}

func TestSession_FailedDDLRollsBack(t *testing.T) {
	a, mock := newMockAdapter(t)
	driverErr := errors.New("mssql: Cannot drop the table")

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM sys\.tables`).WithArgs("orders").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("orders"))
	mock.ExpectExec(exec("DROP TABLE [orders]")).WillReturnError(driverErr)
	mock.ExpectRollback()

	err := a.DropTable(context.Background(), "orders")
	assert.ErrorIs(t, err, apperrors.ErrStorage)
	assert.ErrorIs(t, err, driverErr, "driver error stays reachable")
}

func TestSession_GetTableSchema(t *testing.T) {
	a, mock := newMockAdapter(t)
	expectOrdersTable(mock)

	cols, err := a.GetTableSchema(context.Background(), "orders")
	require.NoError(t, err)
	require.Len(t, cols, 6)

	assert.True(t, cols[0].IsPrimaryKey)
	assert.True(t, cols[0].IsUnique)
	assert.Equal(t, "FLOAT", cols[1].DataType)
	assert.Equal(t, "NVARCHAR(450)", cols[2].DataType)
	assert.True(t, cols[2].IsUnique)
	assert.False(t, cols[2].IsNullable)
	assert.Equal(t, "NVARCHAR(MAX)", cols[3].DataType)
	require.NotNil(t, cols[3].DefaultValue)
	assert.Equal(t, "(N'none')", *cols[3].DefaultValue)
	assert.Equal(t, "DATETIMEOFFSET(7)", cols[4].DataType)
}

func TestSession_GetTableSchemaMissingTable(t *testing.T) {
	a, mock := newMockAdapter(t)
	mock.ExpectQuery(`FROM sys\.tables`).WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))

	_, err := a.GetTableSchema(context.Background(), "ghost")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestSession_QueryRebindsPlaceholders(t *testing.T) {
	a, mock := newMockAdapter(t)

	mock.ExpectQuery(exec("SELECT note FROM orders WHERE total > @p1 AND code = @p2")).
		WithArgs(10.0, "A-1").
		WillReturnRows(sqlmock.NewRows([]string{"note"}).AddRow([]byte("first")))

	result, err := a.Query(context.Background(), "SELECT note FROM orders WHERE total > $1 AND code = $2", 10.0, "A-1")
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, "first", result.Rows[0]["note"])

	_, err = a.Query(context.Background(), "SELECT 1; DROP TABLE orders")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestAdapter_Transaction(t *testing.T) {
	a, mock := newMockAdapter(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(exec("INSERT INTO orders (note) VALUES (@p1)")).WithArgs("x").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tx, err := a.BeginTransaction(ctx)
	require.NoError(t, err)
	assert.True(t, a.Info().TransactionOpen)

	_, err = a.Execute(ctx, "DELETE FROM orders")
	assert.ErrorIs(t, err, apperrors.ErrTransactionBusy)

	_, err = a.BeginTransaction(ctx)
	assert.ErrorIs(t, err, apperrors.ErrTransactionState)

	n, err := tx.Execute(ctx, "INSERT INTO orders (note) VALUES ($1)", "x")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, a.Commit(ctx, tx))
	assert.False(t, a.Info().TransactionOpen)
	assert.ErrorIs(t, a.Rollback(ctx, tx), apperrors.ErrTransactionState)
}

func TestAdapter_FailedCommitFreesSlot(t *testing.T) {
	a, mock := newMockAdapter(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("commit failed"))
	mock.ExpectBegin()
	mock.ExpectRollback()

	tx, err := a.BeginTransaction(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, a.Commit(ctx, tx), apperrors.ErrStorage)

	tx, err = a.BeginTransaction(ctx)
	require.NoError(t, err, "slot is free after a failed commit")
	require.NoError(t, a.Rollback(ctx, tx))
}

func TestAdapter_NotConnected(t *testing.T) {
	a := NewAdapter(&Config{Host: "localhost"}, zap.NewNop())
	ctx := context.Background()

	_, err := a.Query(ctx, "SELECT 1")
	assert.ErrorIs(t, err, apperrors.ErrNotConnected)
	assert.ErrorIs(t, a.Ping(ctx), apperrors.ErrNotConnected)
	_, err = a.BeginTransaction(ctx)
	assert.ErrorIs(t, err, apperrors.ErrNotConnected)
	assert.NoError(t, a.Disconnect())
}
