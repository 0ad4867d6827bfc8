package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-tables/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-tables/pkg/models"
)

const definitionsYAML = `
tables:
  - name: orders
    displayName: Orders
    description: Placed orders
    fields:
      - name: total
        type: number
        required: true
        default: 0
      - name: status
        type: text
        default: new
      - name: meta
        type: json
        default:
          tags: [a, b]
  - name: customers
    fields:
      - {name: email, type: text, unique: true}
`

func TestParseTableDefinitions(t *testing.T) {
	inputs, err := ParseTableDefinitions(strings.NewReader(definitionsYAML))
	require.NoError(t, err)
	require.Len(t, inputs, 2)

	orders := inputs[0]
	assert.Equal(t, "orders", orders.Name)
	assert.Equal(t, "Orders", orders.DisplayName)
	require.NotNil(t, orders.Description)
	assert.Equal(t, "Placed orders", *orders.Description)
	require.Len(t, orders.Fields, 3)
	assert.True(t, orders.Fields[0].Required)
	assert.JSONEq(t, `0`, string(orders.Fields[0].DefaultValue))
	assert.JSONEq(t, `"new"`, string(orders.Fields[1].DefaultValue))
	assert.JSONEq(t, `{"tags":["a","b"]}`, string(orders.Fields[2].DefaultValue))

	customers := inputs[1]
	require.Len(t, customers.Fields, 1)
	assert.True(t, customers.Fields[0].Unique)
	assert.Nil(t, customers.Fields[0].DefaultValue)
}

func TestParseTableDefinitions_Errors(t *testing.T) {
	_, err := ParseTableDefinitions(strings.NewReader("tables:\n  - name: x\n    colour: red\n"))
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	inputs, err := ParseTableDefinitions(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, inputs)
}

func TestLoadTableDefinitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tables.yaml")
	require.NoError(t, os.WriteFile(path, []byte(definitionsYAML), 0o600))

	inputs, err := LoadTableDefinitions(path)
	require.NoError(t, err)
	assert.Len(t, inputs, 2)

	_, err = LoadTableDefinitions(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSchemaService_ApplyDefinitions(t *testing.T) {
	svc, adapter := newTestSchemaService(t)
	ctx := context.Background()

	inputs, err := ParseTableDefinitions(strings.NewReader(definitionsYAML))
	require.NoError(t, err)

	result, err := svc.ApplyDefinitions(ctx, inputs)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "customers"}, result.CreatedTables)
	assert.Empty(t, result.AddedFields)

	orders, err := svc.GetTable(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, []string{"total", "status", "meta"}, orders.FieldNames())
	status, _ := orders.Field("status")
	assert.Equal(t, "new", status.DefaultValue.Text())

	// Second run is a no-op.
	result, err = svc.ApplyDefinitions(ctx, inputs)
	require.NoError(t, err)
	assert.Empty(t, result.CreatedTables)
	assert.Equal(t, []string{"orders", "customers"}, result.Unchanged)

	// New fields are added, fields missing from the file are kept.
	inputs[1].Fields = []models.FieldInput{
		{Name: "name", Type: models.FieldTypeText},
	}
	_, err = adapter.Execute(ctx, "INSERT INTO customers (email) VALUES ($1)", "a@example.com")
	require.NoError(t, err)

	result, err = svc.ApplyDefinitions(ctx, inputs)
	require.NoError(t, err)
	assert.Equal(t, []string{"customers.name"}, result.AddedFields)
	assert.Equal(t, []string{"orders"}, result.Unchanged)

	customers, err := svc.GetTable(ctx, "customers")
	require.NoError(t, err)
	assert.Equal(t, []string{"email", "name"}, customers.FieldNames())
}

func TestSchemaService_ApplyDefinitionsStopsOnError(t *testing.T) {
	svc, _ := newTestSchemaService(t)
	ctx := context.Background()

	inputs := []models.CreateTableInput{
		{Name: "orders", Fields: []models.FieldInput{{Name: "total", Type: models.FieldTypeNumber}}},
		{Name: "bad name", Fields: []models.FieldInput{{Name: "x", Type: models.FieldTypeText}}},
		{Name: "customers", Fields: []models.FieldInput{{Name: "email", Type: models.FieldTypeText}}},
	}

	result, err := svc.ApplyDefinitions(ctx, inputs)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Equal(t, []string{"orders"}, result.CreatedTables)

	_, err = svc.GetTable(ctx, "customers")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
