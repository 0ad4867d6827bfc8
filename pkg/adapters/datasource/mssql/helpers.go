package mssql

import (
	"fmt"
	"strings"
)

// quoteName brackets an identifier the way QUOTENAME() does: ] is escaped as ]].
func quoteName(identifier string) string {
	escaped := strings.ReplaceAll(identifier, "]", "]]")
	return fmt.Sprintf("[%s]", escaped)
}

// quoteLiteral returns a Unicode string literal. Single quotes are doubled.
func quoteLiteral(s string) string {
	return "N'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// buildQualifiedName joins already-unquoted parts into [a].[b].[c].
func buildQualifiedName(parts ...string) string {
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = quoteName(p)
	}
	return strings.Join(quoted, ".")
}

// renderSQLType turns a sys.types name plus sys.columns sizing back into a
// declaration usable in ALTER COLUMN.
func renderSQLType(typeName string, maxLength, precision, scale int) string {
	name := strings.ToUpper(typeName)

	switch name {
	case "NVARCHAR", "NCHAR":
		if maxLength == -1 {
			return name + "(MAX)"
		}
		return fmt.Sprintf("%s(%d)", name, maxLength/2)
	case "VARCHAR", "CHAR", "VARBINARY", "BINARY":
		if maxLength == -1 {
			return name + "(MAX)"
		}
		return fmt.Sprintf("%s(%d)", name, maxLength)
	case "DECIMAL", "NUMERIC":
		return fmt.Sprintf("%s(%d, %d)", name, precision, scale)
	case "DATETIMEOFFSET", "DATETIME2", "TIME":
		return fmt.Sprintf("%s(%d)", name, scale)
	default:
		return name
	}
}
