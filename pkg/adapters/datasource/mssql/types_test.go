package mssql

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-tables/pkg/models"
)

func TestTypeMapper_ColumnType(t *testing.T) {
	m := typeMapper{}
	assert.Equal(t, "NVARCHAR(MAX)", m.ColumnType(models.FieldDefinition{Type: models.FieldTypeText}))
	assert.Equal(t, "NVARCHAR(450)", m.ColumnType(models.FieldDefinition{Type: models.FieldTypeText, Unique: true}))
	assert.Equal(t, "FLOAT", m.ColumnType(models.FieldDefinition{Type: models.FieldTypeNumber}))
	assert.Equal(t, "BIT", m.ColumnType(models.FieldDefinition{Type: models.FieldTypeBoolean}))
	assert.Equal(t, "DATETIMEOFFSET(7)", m.ColumnType(models.FieldDefinition{Type: models.FieldTypeTimestamp}))
	assert.Equal(t, "NVARCHAR(MAX)", m.ColumnType(models.FieldDefinition{Type: models.FieldTypeJSON}))
}

func TestTypeMapper_DefaultLiteral(t *testing.T) {
	doc, err := models.JSONDefault(json.RawMessage(`{"a": "it's"}`))
	require.NoError(t, err)

	tests := []struct {
		name  string
		value *models.DefaultValue
		want  string
	}{
		{"nil", nil, "NULL"},
		{"text with quote", models.TextDefault("O'Brien"), "N'O''Brien'"},
		{"number", models.NumberDefault(-3), "-3"},
		{"true", models.BoolDefault(true), "1"},
		{"false", models.BoolDefault(false), "0"},
		{"timestamp", models.TimestampDefault(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)), "N'2024-01-02T03:04:05Z'"},
		{"json", doc, `N'{"a":"it''s"}'`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := typeMapper{}.DefaultLiteral(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTypeMapper_Bool(t *testing.T) {
	m := typeMapper{}
	assert.Equal(t, false, m.EncodeBool(false))

	for _, v := range []any{true, int64(1), "true"} {
		got, err := m.DecodeBool(v)
		require.NoError(t, err)
		assert.True(t, got, "%v", v)
	}
	_, err := m.DecodeBool(1.5)
	assert.Error(t, err)
}

func TestColumnDefinition(t *testing.T) {
	def, err := columnDefinition(typeMapper{}, "orders", models.FieldDefinition{
		Name: "paid", Type: models.FieldTypeBoolean, Required: true, DefaultValue: models.BoolDefault(false),
	})
	require.NoError(t, err)
	assert.Equal(t, "[paid] BIT NOT NULL CONSTRAINT ["+defaultConstraintName("orders", "paid")+"] DEFAULT 0", def)

	def, err = columnDefinition(typeMapper{}, "orders", models.FieldDefinition{Name: "note", Type: models.FieldTypeText})
	require.NoError(t, err)
	assert.Equal(t, "[note] NVARCHAR(MAX) NULL", def)
}

func TestCreateTableStatement(t *testing.T) {
	stmt, err := createTableStatement(typeMapper{}, "orders", ordersFields())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(stmt, "CREATE TABLE [orders] ("))
	assert.Contains(t, stmt, "[code] NVARCHAR(450) NOT NULL")
	assert.Contains(t, stmt, "[created_at] DATETIMEOFFSET(7) NOT NULL DEFAULT SYSDATETIMEOFFSET()")
	assert.NotContains(t, stmt, "UNIQUE", "unique fields get filtered indexes instead of constraints")
}

func TestQuoteName(t *testing.T) {
	assert.Equal(t, "[orders]", quoteName("orders"))
	assert.Equal(t, "[a]]b]", quoteName("a]b"))
	assert.Equal(t, "[orders].[code]", buildQualifiedName("orders", "code"))
}

func TestRenderSQLType(t *testing.T) {
	tests := []struct {
		typeName                    string
		maxLength, precision, scale int
		want                        string
	}{
		{"nvarchar", -1, 0, 0, "NVARCHAR(MAX)"},
		{"nvarchar", 900, 0, 0, "NVARCHAR(450)"},
		{"varchar", 50, 0, 0, "VARCHAR(50)"},
		{"decimal", 9, 18, 4, "DECIMAL(18, 4)"},
		{"datetimeoffset", 10, 34, 7, "DATETIMEOFFSET(7)"},
		{"bit", 1, 1, 0, "BIT"},
		{"float", 8, 53, 0, "FLOAT"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, renderSQLType(tt.typeName, tt.maxLength, tt.precision, tt.scale))
	}
}
