// Package sql provides statement validation, placeholder rebinding and
// injection screening shared by the storage adapters.
package sql

import (
	"errors"
	"strings"
)

var (
	// ErrMultipleStatements indicates the statement text contains more than one SQL statement.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")

	// ErrEmptyStatement indicates the statement text is blank.
	ErrEmptyStatement = errors.New("empty SQL statement")
)

// ValidationResult contains the normalized SQL and any validation errors.
type ValidationResult struct {
	NormalizedSQL string
	Error         error
}

// ValidateAndNormalize checks SQL for multiple statements and strips the trailing semicolon.
//
// The validation order is:
// 1. Strip trailing semicolon and whitespace (normalize)
// 2. Check for multiple statements (any remaining semicolons outside string literals)
func ValidateAndNormalize(sqlQuery string) ValidationResult {
	sqlQuery = strings.TrimSpace(sqlQuery)
	if sqlQuery == "" {
		return ValidationResult{Error: ErrEmptyStatement}
	}

	normalized := stripTrailingSemicolon(sqlQuery)

	if hasSemicolonOutsideStrings(normalized) {
		return ValidationResult{Error: ErrMultipleStatements}
	}

	return ValidationResult{NormalizedSQL: normalized}
}

func hasSemicolonOutsideStrings(sqlQuery string) bool {
	found := false
	walkCode(sqlQuery, func(i int) bool {
		if sqlQuery[i] == ';' {
			found = true
			return false
		}
		return true
	})
	return found
}

// walkCode calls visit with the byte offset of every character that is not
// inside a quoted literal or quoted identifier. Returning false stops the walk.
// Doubled quotes ('') stay inside the literal.
func walkCode(sqlQuery string, visit func(i int) bool) {
	var quote byte
	for i := 0; i < len(sqlQuery); i++ {
		c := sqlQuery[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
			continue
		case '[':
			quote = ']'
			continue
		}
		if !visit(i) {
			return
		}
	}
}

// stripTrailingSemicolon removes a trailing semicolon and any whitespace after it.
func stripTrailingSemicolon(sqlQuery string) string {
	sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	if strings.HasSuffix(sqlQuery, ";") {
		sqlQuery = strings.TrimSuffix(sqlQuery, ";")
		sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	}
	return sqlQuery
}
