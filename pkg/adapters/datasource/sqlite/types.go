package sqlite

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ekaya-inc/ekaya-tables/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-tables/pkg/models"
)

// auditDefault produces UTC ISO-8601 text with millisecond precision.
const auditDefault = `(strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))`

// typeMapper stores booleans as 0/1 integers and timestamps and JSON as text.
type typeMapper struct{}

func (typeMapper) ColumnType(field models.FieldDefinition) string {
	switch field.Type {
	case models.FieldTypeNumber:
		return "REAL"
	case models.FieldTypeBoolean:
		return "INTEGER"
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
		return strconv.FormatFloat(n, 'f', -1, 64), nil
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
	if b {
		return int64(1)
	}
	return int64(0)
}

func (typeMapper) DecodeBool(v any) (bool, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case int64:
		return val != 0, nil
	case int:
		return val != 0, nil
	case float64:
		return val != 0, nil
	case string:
		return strconv.ParseBool(val)
	case []byte:
		return strconv.ParseBool(string(val))
	case nil:
		return false, nil
	}
	return false, fmt.Errorf("cannot decode %T as boolean", v)
}

var _ datasource.TypeMapper = typeMapper{}

// quoteIdent quotes an identifier, doubling embedded quotes.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// columnDefinition renders one field column. UNIQUE is applied as a separate
// index so it can be dropped without rebuilding the table.
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

func createTableStatement(m typeMapper, name string, fields []models.FieldDefinition) (string, error) {
	defs := make([]string, 0, len(fields)+3)
	defs = append(defs, quoteIdent(models.ColumnID)+" INTEGER PRIMARY KEY AUTOINCREMENT")
	for _, f := range fields {
		def, err := columnDefinition(m, f)
		if err != nil {
			return "", err
		}
		defs = append(defs, def)
	}
	defs = append(defs,
		quoteIdent(models.ColumnCreatedAt)+" TEXT NOT NULL DEFAULT "+auditDefault,
		quoteIdent(models.ColumnUpdatedAt)+" TEXT NOT NULL DEFAULT "+auditDefault,
	)
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", quoteIdent(name), strings.Join(defs, ",\n  ")), nil
}

func createUniqueIndexStatement(table, column string) string {
	return fmt.Sprintf("CREATE UNIQUE INDEX %s ON %s (%s)",
		quoteIdent(datasource.UniqueIndexName(table, column)), quoteIdent(table), quoteIdent(column))
}

func quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}
