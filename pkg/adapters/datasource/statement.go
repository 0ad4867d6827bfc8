package datasource

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/ekaya-inc/ekaya-tables/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-tables/pkg/models"
	sqlutil "github.com/ekaya-inc/ekaya-tables/pkg/sql"
)

// PrepareStatement validates a single statement, checks that every $N has a
// bound parameter and rebinds the placeholders to style.
func PrepareStatement(statement string, style sqlutil.PlaceholderStyle, paramCount int) (string, error) {
	result := sqlutil.ValidateAndNormalize(statement)
	if result.Error != nil {
		return "", fmt.Errorf("%w: %w", apperrors.ErrValidation, result.Error)
	}
	if n := sqlutil.MaxPlaceholder(result.NormalizedSQL); n > paramCount {
		return "", apperrors.Validationf("statement references $%d but %d parameters were bound", n, paramCount)
	}
	return sqlutil.Rebind(result.NormalizedSQL, style), nil
}

// constraintHashLen is the number of hex digits kept from the name hash.
// Names stay well under the 63-byte PostgreSQL identifier limit.
const constraintHashLen = 24

// ConstraintName derives a schema-unique object name for a constraint of
// the given prefix on table.column. Both parts are folded to lower case,
// so a case-only rename keeps the name.
func ConstraintName(prefix, table, column string) string {
	sum := blake3.Sum256([]byte(strings.ToLower(table) + "\x00" + strings.ToLower(column)))
	return prefix + "_" + hex.EncodeToString(sum[:])[:constraintHashLen]
}

// UniqueIndexName is the canonical name of the single-column unique index or
// constraint backing a unique field.
func UniqueIndexName(table, column string) string {
	return ConstraintName("uq", table, column)
}

// FieldsWithoutConstraint returns a copy of fields with kind cleared on column
// only, plus whether column carried the constraint.
func FieldsWithoutConstraint(fields []models.FieldDefinition, column string, kind models.ConstraintKind) ([]models.FieldDefinition, bool, error) {
	target := make([]models.FieldDefinition, len(fields))
	copy(target, fields)

	for i := range target {
		if !strings.EqualFold(target[i].Name, column) {
			continue
		}
		had := false
		switch kind {
		case models.ConstraintRequired:
			had = target[i].Required
			target[i].Required = false
		case models.ConstraintUnique:
			had = target[i].Unique
			target[i].Unique = false
		default:
			return nil, false, apperrors.Validationf("unknown constraint kind %q", kind)
		}
		return target, had, nil
	}

	return nil, false, apperrors.SchemaConflictf("column %q is not in the field set", column)
}

// PhysicalColumns lists system and field columns in physical order:
// id, fields..., created_at, updated_at.
func PhysicalColumns(fields []models.FieldDefinition) []string {
	cols := make([]string, 0, len(fields)+3)
	cols = append(cols, models.ColumnID)
	for _, f := range fields {
		cols = append(cols, f.Name)
	}
	return append(cols, models.ColumnCreatedAt, models.ColumnUpdatedAt)
}
