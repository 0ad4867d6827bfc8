package postgres

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-tables/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-tables/pkg/models"
)

// typeMapper uses the native PostgreSQL types.
type typeMapper struct{}

func (typeMapper) ColumnType(field models.FieldDefinition) string {
	switch field.Type {
	case models.FieldTypeNumber:
		return "DOUBLE PRECISION"
	case models.FieldTypeBoolean:
		return "BOOLEAN"
	case models.FieldTypeTimestamp:
		return "TIMESTAMPTZ"
	case models.FieldTypeJSON:
		return "JSONB"
	default:
		return "TEXT"
	}
}

func (typeMapper) DefaultLiteral(value *models.DefaultValue) (string, error) {
	if value == nil {
		return "NULL", nil
	}
	switch value.Type() {
	case models.FieldTypeText:
		return quoteLiteral(value.Text()), nil
	case models.FieldTypeNumber:
		n := value.Number()
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return "", fmt.Errorf("number default must be finite")
		}
		return strconv.FormatFloat(n, 'g', -1, 64), nil
	case models.FieldTypeBoolean:
		if value.Bool() {
			return "TRUE", nil
		}
		return "FALSE", nil
	case models.FieldTypeTimestamp:
		return quoteLiteral(value.Timestamp().UTC().Format(time.RFC3339Nano)) + "::timestamptz", nil
	case models.FieldTypeJSON:
		return quoteLiteral(string(value.JSONDocument())) + "::jsonb", nil
	}
	return "", fmt.Errorf("unsupported default type %q", value.Type())
}

func (typeMapper) EncodeBool(b bool) any {
	return b
}

func (typeMapper) DecodeBool(v any) (bool, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		return strconv.ParseBool(val)
	case nil:
		return false, nil
	}
	return false, fmt.Errorf("cannot decode %T as boolean", v)
}

var _ datasource.TypeMapper = typeMapper{}

func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func columnDefinition(m typeMapper, field models.FieldDefinition) (string, error) {
	var b strings.Builder
	b.WriteString(quoteIdent(field.Name))
	b.WriteString(" ")
	b.WriteString(m.ColumnType(field))
	if field.Required {
		b.WriteString(" NOT NULL")
	}
	if field.DefaultValue != nil {
		literal, err := m.DefaultLiteral(field.DefaultValue)
		if err != nil {
			return "", fmt.Errorf("column %q: %w", field.Name, err)
		}
		b.WriteString(" DEFAULT ")
		b.WriteString(literal)
	}
	return b.String(), nil
}

// createTableStatement renders the physical table. Unique fields get named
// table constraints so they can be found and dropped through pg_constraint.
func createTableStatement(m typeMapper, name string, fields []models.FieldDefinition) (string, error) {
	defs := make([]string, 0, len(fields)+4)
	defs = append(defs, quoteIdent(models.ColumnID)+" BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY")
	for _, f := range fields {
		def, err := columnDefinition(m, f)
		if err != nil {
			return "", err
		}
		defs = append(defs, def)
	}
	defs = append(defs,
		quoteIdent(models.ColumnCreatedAt)+" TIMESTAMPTZ NOT NULL DEFAULT now()",
		quoteIdent(models.ColumnUpdatedAt)+" TIMESTAMPTZ NOT NULL DEFAULT now()",
	)
	for _, f := range fields {
		if f.Unique {
			defs = append(defs, uniqueConstraint(name, f.Name))
		}
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", quoteIdent(name), strings.Join(defs, ",\n  ")), nil
}

func uniqueConstraint(table, column string) string {
	return fmt.Sprintf("CONSTRAINT %s UNIQUE (%s)",
		quoteIdent(datasource.UniqueIndexName(table, column)), quoteIdent(column))
}
