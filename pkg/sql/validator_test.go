package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAndNormalize_ValidStatements(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain select", "SELECT 1", "SELECT 1"},
		{"trailing semicolon", "SELECT 1;", "SELECT 1"},
		{"trailing semicolon and whitespace", "SELECT 1;  \n", "SELECT 1"},
		{"surrounding whitespace", "  SELECT 1  ", "SELECT 1"},
		{"semicolon in literal", "SELECT * FROM orders WHERE note = 'a;b'", "SELECT * FROM orders WHERE note = 'a;b'"},
		{"semicolon in quoted identifier", `SELECT "a;b" FROM orders`, `SELECT "a;b" FROM orders`},
		{"semicolon in bracket identifier", "SELECT [a;b] FROM orders", "SELECT [a;b] FROM orders"},
		{"doubled quote", "SELECT * FROM orders WHERE note = 'O''Brien;'", "SELECT * FROM orders WHERE note = 'O''Brien;'"},
		{"insert with placeholders", "INSERT INTO orders (total) VALUES ($1);", "INSERT INTO orders (total) VALUES ($1)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateAndNormalize(tt.input)
			assert.NoError(t, result.Error)
			assert.Equal(t, tt.expected, result.NormalizedSQL)
		})
	}
}

func TestValidateAndNormalize_Rejected(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"empty", "", ErrEmptyStatement},
		{"whitespace", "   ", ErrEmptyStatement},
		{"two statements", "SELECT 1; SELECT 2", ErrMultipleStatements},
		{"two statements trailing", "SELECT 1; SELECT 2;", ErrMultipleStatements},
		{"stacked drop", "SELECT * FROM orders WHERE id = 1; DROP TABLE orders", ErrMultipleStatements},
		{"after closed literal", "SELECT 'x'; DELETE FROM orders", ErrMultipleStatements},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateAndNormalize(tt.input)
			assert.ErrorIs(t, result.Error, tt.want)
			assert.Empty(t, result.NormalizedSQL)
		})
	}
}
