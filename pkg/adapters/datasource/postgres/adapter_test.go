//go:build integration

package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-tables/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-tables/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-tables/pkg/models"
	"github.com/ekaya-inc/ekaya-tables/pkg/testhelpers"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	testDB := testhelpers.GetTestDB(t)

	cfg, err := FromMap(testDB.AdapterConfig(testDB.CreateDatabase(t)))
	require.NoError(t, err)

	a := NewAdapter(cfg, zap.NewNop())
	require.NoError(t, a.Connect(context.Background()))
	t.Cleanup(func() { _ = a.Disconnect() })
	return a
}

func ordersFields() []models.FieldDefinition {
	return []models.FieldDefinition{
		{Name: "total", Type: models.FieldTypeNumber, Required: true},
		{Name: "code", Type: models.FieldTypeText, Unique: true},
		{Name: "note", Type: models.FieldTypeText},
	}
}

func createOrders(t *testing.T, a *Adapter) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, a.CreateTable(ctx, "orders", ordersFields()))
	_, err := a.Execute(ctx, "INSERT INTO orders (total, code, note) VALUES ($1, $2, $3)", 10.5, "A-1", "first")
	require.NoError(t, err)
	_, err = a.Execute(ctx, "INSERT INTO orders (total, code, note) VALUES ($1, $2, $3)", 20.25, "A-2", "second")
	require.NoError(t, err)
}

func column(t *testing.T, a *Adapter, table, name string) datasource.ColumnDescriptor {
	t.Helper()
	cols, err := a.GetTableSchema(context.Background(), table)
	require.NoError(t, err)
	col, ok := findColumn(cols, name)
	require.True(t, ok, "column %s not found in %v", name, datasource.ColumnNames(cols))
	return col
}

func TestAdapter_ConnectCreatesCatalog(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	for _, table := range []string{"_catalog_tables", "_catalog_fields", "_catalog_migrations"} {
		exists, err := a.TableExists(ctx, table)
		require.NoError(t, err)
		assert.True(t, exists, table)
	}

	// Connect is idempotent.
	require.NoError(t, a.Connect(ctx))
	require.NoError(t, a.Ping(ctx))
	assert.Equal(t, "postgres", a.Info().Type)
	assert.True(t, a.Info().Connected)
}

func TestAdapter_CreateTableAndSchema(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	createOrders(t, a)

	cols, err := a.GetTableSchema(ctx, "ORDERS")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "total", "code", "note", "created_at", "updated_at"}, datasource.ColumnNames(cols))

	assert.True(t, column(t, a, "orders", "id").IsPrimaryKey)
	assert.False(t, column(t, a, "orders", "total").IsNullable)
	assert.True(t, column(t, a, "orders", "code").IsUnique)

	err = a.CreateTable(ctx, "Orders", ordersFields())
	assert.ErrorIs(t, err, apperrors.ErrSchemaConflict)

	_, err = a.GetTableSchema(ctx, "ghost")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestAdapter_AddAndDropColumn(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	createOrders(t, a)

	err := a.AddColumn(ctx, "orders", models.FieldDefinition{Name: "status", Type: models.FieldTypeText, Required: true})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	require.NoError(t, a.AddColumn(ctx, "orders", models.FieldDefinition{
		Name: "status", Type: models.FieldTypeText, Required: true, DefaultValue: models.TextDefault("new"),
	}))
	result, err := a.Query(ctx, "SELECT status FROM orders ORDER BY id")
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, "new", result.Rows[0]["status"])

	err = a.AddColumn(ctx, "orders", models.FieldDefinition{Name: "STATUS", Type: models.FieldTypeText})
	assert.ErrorIs(t, err, apperrors.ErrSchemaConflict)

	require.NoError(t, a.DropColumn(ctx, "orders", "code"))
	cols, err := a.GetTableSchema(ctx, "orders")
	require.NoError(t, err)
	assert.NotContains(t, datasource.ColumnNames(cols), "code")

	assert.ErrorIs(t, a.DropColumn(ctx, "orders", "id"), apperrors.ErrSchemaConflict)
}

func TestAdapter_AddUniqueColumnFailsOnDuplicates(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	createOrders(t, a)

	err := a.AddColumn(ctx, "orders", models.FieldDefinition{
		Name: "region", Type: models.FieldTypeText, Unique: true, DefaultValue: models.TextDefault("eu"),
	})
	assert.ErrorIs(t, err, apperrors.ErrStorage)

	cols, err := a.GetTableSchema(ctx, "orders")
	require.NoError(t, err)
	assert.NotContains(t, datasource.ColumnNames(cols), "region", "failed DDL must leave no column behind")
}

func TestAdapter_RenameColumnKeepsDataAndConstraint(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	createOrders(t, a)

	require.NoError(t, a.RenameColumn(ctx, "orders", "code", "reference"))

	result, err := a.Query(ctx, "SELECT reference FROM orders ORDER BY id")
	require.NoError(t, err)
	assert.Equal(t, "A-1", result.Rows[0]["reference"])
	assert.True(t, column(t, a, "orders", "reference").IsUnique)

	names, err := uniqueConstraints(ctx, a.pool, "orders", "reference")
	require.NoError(t, err)
	assert.Equal(t, []string{datasource.UniqueIndexName("orders", "reference")}, names)

	err = a.RenameColumn(ctx, "orders", "reference", "note")
	assert.ErrorIs(t, err, apperrors.ErrSchemaConflict)
}

func TestAdapter_RemoveConstraint(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	createOrders(t, a)

	require.NoError(t, a.RemoveConstraint(ctx, "orders", "code", models.ConstraintUnique, ordersFields()))
	assert.False(t, column(t, a, "orders", "code").IsUnique)
	_, err := a.Execute(ctx, "INSERT INTO orders (total, code) VALUES ($1, $2)", 1.0, "A-1")
	assert.NoError(t, err, "duplicates are allowed once the constraint is gone")

	require.NoError(t, a.RemoveConstraint(ctx, "orders", "total", models.ConstraintRequired, ordersFields()))
	assert.True(t, column(t, a, "orders", "total").IsNullable)
	_, err = a.Execute(ctx, "INSERT INTO orders (note) VALUES ($1)", "no total")
	assert.NoError(t, err)
}

func TestAdapter_TransactionCommitAndRollback(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	tx, err := a.BeginTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.CreateTable(ctx, "scratch", []models.FieldDefinition{{Name: "v", Type: models.FieldTypeText}}))
	require.NoError(t, a.Rollback(ctx, tx))

	exists, err := a.TableExists(ctx, "scratch")
	require.NoError(t, err)
	assert.False(t, exists, "rolled back DDL must not persist")

	tx, err = a.BeginTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.CreateTable(ctx, "scratch", []models.FieldDefinition{{Name: "v", Type: models.FieldTypeText}}))
	_, err = tx.Execute(ctx, "INSERT INTO scratch (v) VALUES ($1)", "kept")
	require.NoError(t, err)
	require.NoError(t, a.Commit(ctx, tx))

	result, err := a.Query(ctx, "SELECT v FROM scratch")
	require.NoError(t, err)
	assert.Len(t, result.Rows, 1)
}

func TestAdapter_TransactionStateErrors(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	tx, err := a.BeginTransaction(ctx)
	require.NoError(t, err)

	_, err = a.BeginTransaction(ctx)
	assert.ErrorIs(t, err, apperrors.ErrTransactionState)

	_, err = a.Query(ctx, "SELECT 1")
	assert.ErrorIs(t, err, apperrors.ErrTransactionBusy)

	require.NoError(t, a.Commit(ctx, tx))
	assert.ErrorIs(t, a.Rollback(ctx, tx), apperrors.ErrTransactionState)

	_, err = tx.Query(ctx, "SELECT 1")
	assert.ErrorIs(t, err, apperrors.ErrTransactionState)
}

func TestAdapter_FailedStatementAbortsTransaction(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	createOrders(t, a)

	tx, err := a.BeginTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.AddColumn(ctx, "orders", models.FieldDefinition{Name: "status", Type: models.FieldTypeText}))
	_, err = tx.Execute(ctx, "INSERT INTO missing_table (v) VALUES ($1)", 1)
	require.Error(t, err)
	require.NoError(t, a.Rollback(ctx, tx))

	cols, err := a.GetTableSchema(ctx, "orders")
	require.NoError(t, err)
	assert.NotContains(t, datasource.ColumnNames(cols), "status")
}
