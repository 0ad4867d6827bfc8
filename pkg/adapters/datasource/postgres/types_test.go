package postgres

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-tables/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-tables/pkg/models"
)

func TestTypeMapper_ColumnType(t *testing.T) {
	m := typeMapper{}
	assert.Equal(t, "TEXT", m.ColumnType(models.FieldDefinition{Type: models.FieldTypeText}))
	assert.Equal(t, "DOUBLE PRECISION", m.ColumnType(models.FieldDefinition{Type: models.FieldTypeNumber}))
	assert.Equal(t, "BOOLEAN", m.ColumnType(models.FieldDefinition{Type: models.FieldTypeBoolean}))
	assert.Equal(t, "TIMESTAMPTZ", m.ColumnType(models.FieldDefinition{Type: models.FieldTypeTimestamp}))
	assert.Equal(t, "JSONB", m.ColumnType(models.FieldDefinition{Type: models.FieldTypeJSON}))
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
		{"text with quote", models.TextDefault("O'Brien"), "'O''Brien'"},
		{"number", models.NumberDefault(2.5), "2.5"},
		{"true", models.BoolDefault(true), "TRUE"},
		{"false", models.BoolDefault(false), "FALSE"},
		{"timestamp", models.TimestampDefault(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)), "'2024-01-02T03:04:05Z'::timestamptz"},
		{"json", doc, `'{"a":"it''s"}'::jsonb`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := typeMapper{}.DefaultLiteral(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err = typeMapper{}.DefaultLiteral(models.NumberDefault(math.Inf(1)))
	assert.Error(t, err)
}

func TestTypeMapper_Bool(t *testing.T) {
	m := typeMapper{}
	assert.Equal(t, true, m.EncodeBool(true))

	got, err := m.DecodeBool(true)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = m.DecodeBool("f")
	require.NoError(t, err)
	assert.False(t, got)

	_, err = m.DecodeBool(3.5)
	assert.Error(t, err)
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"orders"`, quoteIdent("orders"))
	assert.Equal(t, `"Order ""Items"""`, quoteIdent(`Order "Items"`))
}

func TestCreateTableStatement(t *testing.T) {
	stmt, err := createTableStatement(typeMapper{}, "orders", []models.FieldDefinition{
		{Name: "total", Type: models.FieldTypeNumber, Required: true, DefaultValue: models.NumberDefault(0)},
		{Name: "code", Type: models.FieldTypeText, Unique: true},
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(stmt, `CREATE TABLE "orders" (`))
	assert.Contains(t, stmt, `"id" BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY`)
	assert.Contains(t, stmt, `"total" DOUBLE PRECISION NOT NULL DEFAULT 0`)
	assert.Contains(t, stmt, `"code" TEXT`)
	assert.Contains(t, stmt, `"created_at" TIMESTAMPTZ NOT NULL DEFAULT now()`)
	assert.Contains(t, stmt, `CONSTRAINT "`+datasource.UniqueIndexName("orders", "code")+`" UNIQUE ("code")`)
}
