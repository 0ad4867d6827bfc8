package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/inflection"
)

// FieldType is the semantic type of a user-defined column.
type FieldType string

const (
	FieldTypeText      FieldType = "text"
	FieldTypeNumber    FieldType = "number"
	FieldTypeBoolean   FieldType = "boolean"
	FieldTypeTimestamp FieldType = "timestamp"
	FieldTypeJSON      FieldType = "json"
)

// Valid reports whether t is one of the supported field types.
func (t FieldType) Valid() bool {
	switch t {
	case FieldTypeText, FieldTypeNumber, FieldTypeBoolean, FieldTypeTimestamp, FieldTypeJSON:
		return true
	}
	return false
}

// ConstraintKind names a removable column constraint.
type ConstraintKind string

const (
	ConstraintRequired ConstraintKind = "required"
	ConstraintUnique   ConstraintKind = "unique"
)

func (k ConstraintKind) Valid() bool {
	return k == ConstraintRequired || k == ConstraintUnique
}

// TableDefinition is the catalog entry for a user-defined table.
// Stored in _catalog_tables, fields in _catalog_fields.
type TableDefinition struct {
	ID          uuid.UUID         `json:"id"`
	Name        string            `json:"name"`
	DisplayName string            `json:"displayName"`
	Description *string           `json:"description,omitempty"`
	Fields      []FieldDefinition `json:"fields"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// FieldDefinition is the catalog entry for one user-defined column.
type FieldDefinition struct {
	ID           uuid.UUID     `json:"id"`
	TableID      uuid.UUID     `json:"tableId"`
	Name         string        `json:"name"`
	DisplayName  string        `json:"displayName"`
	Type         FieldType     `json:"type"`
	Required     bool          `json:"required"`
	Unique       bool          `json:"unique"`
	DefaultValue *DefaultValue `json:"defaultValue,omitempty"`
	Description  *string       `json:"description,omitempty"`
	SortPosition int           `json:"sortPosition"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// UnmarshalJSON decodes defaultValue against the field's type, since the
// plain JSON value alone does not say which kind of default it is.
func (f *FieldDefinition) UnmarshalJSON(data []byte) error {
	type plain FieldDefinition
	var aux struct {
		plain
		DefaultValue json.RawMessage `json:"defaultValue,omitempty"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	def, err := DecodeDefaultValue(aux.Type, aux.DefaultValue)
	if err != nil {
		return fmt.Errorf("field %q: %w", aux.Name, err)
	}
	*f = FieldDefinition(aux.plain)
	f.DefaultValue = def
	return nil
}

// Field looks up a field by name, ignoring case.
func (t *TableDefinition) Field(name string) (*FieldDefinition, bool) {
	for i := range t.Fields {
		if strings.EqualFold(t.Fields[i].Name, name) {
			return &t.Fields[i], true
		}
	}
	return nil, false
}

// FieldNames returns field names in sort order.
func (t *TableDefinition) FieldNames() []string {
	names := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		names[i] = f.Name
	}
	return names
}

// RecordLabel is the singular form of the display name, e.g. "Orders" -> "Order".
func (t *TableDefinition) RecordLabel() string {
	label := t.DisplayName
	if label == "" {
		label = t.Name
	}
	return inflection.Singular(label)
}

// CreateTableInput is the payload accepted by createTable.
type CreateTableInput struct {
	Name        string       `json:"name"`
	DisplayName string       `json:"displayName"`
	Description *string      `json:"description,omitempty"`
	Fields      []FieldInput `json:"fields"`
}

// FieldInput describes a column to create. DefaultValue stays raw until the
// field type is known; it is decoded exactly once by DecodeDefaultValue.
type FieldInput struct {
	Name         string          `json:"name"`
	DisplayName  string          `json:"displayName"`
	Type         FieldType       `json:"type"`
	Required     bool            `json:"required,omitempty"`
	Unique       bool            `json:"unique,omitempty"`
	DefaultValue json.RawMessage `json:"defaultValue,omitempty"`
	Description  *string         `json:"description,omitempty"`
}

// ColumnMetadataUpdate carries the optional metadata changes for updateColumnMetadata.
type ColumnMetadataUpdate struct {
	DisplayName *string `json:"displayName,omitempty"`
	Description *string `json:"description,omitempty"`
}
