package mssql

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ekaya-inc/ekaya-tables/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-tables/pkg/models"
)

// uniqueTextType is the widest NVARCHAR that still fits an index key.
const uniqueTextType = "NVARCHAR(450)"

// typeMapper uses the native SQL Server types.
type typeMapper struct{}

func (typeMapper) ColumnType(field models.FieldDefinition) string {
	switch field.Type {
	case models.FieldTypeNumber:
		return "FLOAT"
	case models.FieldTypeBoolean:
		return "BIT"
	case models.FieldTypeTimestamp:
		return "DATETIMEOFFSET(7)"
	case models.FieldTypeJSON:
		return "NVARCHAR(MAX)"
	default:
		if field.Unique {
			return uniqueTextType
		}
		return "NVARCHAR(MAX)"
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
			return "1", nil
		}
		return "0", nil
	case models.FieldTypeTimestamp:
		return quoteLiteral(value.Timestamp().UTC().Format(time.RFC3339Nano)), nil
	case models.FieldTypeJSON:
		return quoteLiteral(string(value.JSONDocument())), nil
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
	case int64:
		return val != 0, nil
	case string:
		return strconv.ParseBool(val)
	case nil:
		return false, nil
	}
	return false, fmt.Errorf("cannot decode %T as boolean", v)
}

var _ datasource.TypeMapper = typeMapper{}

// defaultConstraintName is the canonical name of a column's DEFAULT constraint.
func defaultConstraintName(table, column string) string {
	return datasource.ConstraintName("df", table, column)
}

// columnDefinition renders a column for CREATE TABLE or ALTER TABLE ADD.
func columnDefinition(m typeMapper, table string, field models.FieldDefinition) (string, error) {
	var b strings.Builder
	b.WriteString(quoteName(field.Name))
	b.WriteString(" ")
	b.WriteString(m.ColumnType(field))
	if field.Required {
		b.WriteString(" NOT NULL")
	} else {
		b.WriteString(" NULL")
	}
	if field.DefaultValue != nil {
		literal, err := m.DefaultLiteral(field.DefaultValue)
		if err != nil {
			return "", fmt.Errorf("column %q: %w", field.Name, err)
		}
		b.WriteString(" CONSTRAINT ")
		b.WriteString(quoteName(defaultConstraintName(table, field.Name)))
		b.WriteString(" DEFAULT ")
		b.WriteString(literal)
	}
	return b.String(), nil
}

func createTableStatement(m typeMapper, name string, fields []models.FieldDefinition) (string, error) {
	defs := make([]string, 0, len(fields)+3)
	defs = append(defs, quoteName(models.ColumnID)+" BIGINT IDENTITY(1,1) NOT NULL PRIMARY KEY")
	for _, f := range fields {
		def, err := columnDefinition(m, name, f)
		if err != nil {
			return "", err
		}
		defs = append(defs, def)
	}
	defs = append(defs,
		quoteName(models.ColumnCreatedAt)+" DATETIMEOFFSET(7) NOT NULL DEFAULT SYSDATETIMEOFFSET()",
		quoteName(models.ColumnUpdatedAt)+" DATETIMEOFFSET(7) NOT NULL DEFAULT SYSDATETIMEOFFSET()",
	)
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", quoteName(name), strings.Join(defs, ",\n  ")), nil
}

// createUniqueIndexStatement renders a filtered unique index. A UNIQUE
// constraint would allow only one NULL; the filter keeps NULLs unconstrained.
func createUniqueIndexStatement(table, column string) string {
	return fmt.Sprintf("CREATE UNIQUE INDEX %s ON %s (%s) WHERE %s IS NOT NULL",
		quoteName(datasource.UniqueIndexName(table, column)), quoteName(table), quoteName(column), quoteName(column))
}
