package models

import (
	"fmt"
	"regexp"
	"strings"
)

// System column names present on every physical table.
const (
	ColumnID        = "id"
	ColumnCreatedAt = "created_at"
	ColumnUpdatedAt = "updated_at"
)

// MaxIdentifierLength matches the PostgreSQL limit so names stay portable.
const MaxIdentifierLength = 63

// Prefixes reserved for internal relations.
const (
	CatalogTablePrefix = "_catalog_"
	RebuildTablePrefix = "_rebuild_"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SystemColumns lists the mandatory columns in physical order.
func SystemColumns() []string {
	return []string{ColumnID, ColumnCreatedAt, ColumnUpdatedAt}
}

// IsSystemColumn reports whether name is one of the mandatory columns.
func IsSystemColumn(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case ColumnID, ColumnCreatedAt, ColumnUpdatedAt:
		return true
	}
	return false
}

// IsReservedTableName reports whether name collides with an internal relation namespace.
func IsReservedTableName(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasPrefix(lower, CatalogTablePrefix) ||
		strings.HasPrefix(lower, RebuildTablePrefix) ||
		strings.HasPrefix(lower, "sqlite_")
}

// ValidateIdentifier checks the table/column name grammar.
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if len(name) > MaxIdentifierLength {
		return fmt.Errorf("name %q exceeds %d characters", name, MaxIdentifierLength)
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("name %q must start with a letter or underscore and contain only letters, digits and underscores", name)
	}
	return nil
}
