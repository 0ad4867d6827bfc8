package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-tables/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-tables/pkg/models"
)

// ApplyResult reports what ApplyDefinitions changed.
type ApplyResult struct {
	CreatedTables []string `json:"createdTables"`
	AddedFields   []string `json:"addedFields"` // "table.field"
	Unchanged     []string `json:"unchanged"`
}

// ApplyDefinitions brings the schema up to the given definitions, one
// operation at a time. Existing fields are left alone even when their
// definition differs; removal is always explicit. The first failure stops
// the run and is returned with the result so far.
func (s *schemaService) ApplyDefinitions(ctx context.Context, inputs []models.CreateTableInput) (*ApplyResult, error) {
	result := &ApplyResult{
		CreatedTables: []string{},
		AddedFields:   []string{},
		Unchanged:     []string{},
	}

	for _, input := range inputs {
		existing, err := s.GetTable(ctx, input.Name)
		if errors.Is(err, apperrors.ErrNotFound) {
			created, err := s.CreateTable(ctx, input)
			if err != nil {
				return result, fmt.Errorf("failed to create table %q: %w", input.Name, err)
			}
			result.CreatedTables = append(result.CreatedTables, created.Name)
			continue
		}
		if err != nil {
			return result, err
		}

		added := 0
		for _, field := range input.Fields {
			if _, ok := existing.Field(field.Name); ok {
				continue
			}
			if _, err := s.AddColumn(ctx, existing.Name, field); err != nil {
				return result, fmt.Errorf("failed to add field %q to %q: %w", field.Name, existing.Name, err)
			}
			result.AddedFields = append(result.AddedFields, existing.Name+"."+field.Name)
			added++
		}
		if added == 0 {
			result.Unchanged = append(result.Unchanged, existing.Name)
		}
	}

	s.logger.Info("Applied table definitions",
		zap.Int("created_tables", len(result.CreatedTables)),
		zap.Int("added_fields", len(result.AddedFields)),
		zap.Int("unchanged", len(result.Unchanged)))
	return result, nil
}

type definitionsFile struct {
	Tables []tableDocument `yaml:"tables"`
}

type tableDocument struct {
	Name        string          `yaml:"name"`
	DisplayName string          `yaml:"displayName"`
	Description *string         `yaml:"description"`
	Fields      []fieldDocument `yaml:"fields"`
}

type fieldDocument struct {
	Name        string           `yaml:"name"`
	DisplayName string           `yaml:"displayName"`
	Type        models.FieldType `yaml:"type"`
	Required    bool             `yaml:"required"`
	Unique      bool             `yaml:"unique"`
	Default     any              `yaml:"default"`
	Description *string          `yaml:"description"`
}

// LoadTableDefinitions reads a YAML definitions file:
//
//	tables:
//	  - name: orders
//	    fields:
//	      - {name: total, type: number, required: true, default: 0}
func LoadTableDefinitions(path string) ([]models.CreateTableInput, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open definitions file: %w", err)
	}
	defer f.Close()

	inputs, err := ParseTableDefinitions(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return inputs, nil
}

// ParseTableDefinitions decodes YAML definitions. Unknown keys are rejected.
func ParseTableDefinitions(r io.Reader) ([]models.CreateTableInput, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var doc definitionsFile
	if err := decoder.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, apperrors.Validationf("invalid definitions: %v", err)
	}

	inputs := make([]models.CreateTableInput, 0, len(doc.Tables))
	for _, t := range doc.Tables {
		input := models.CreateTableInput{
			Name:        t.Name,
			DisplayName: t.DisplayName,
			Description: t.Description,
			Fields:      make([]models.FieldInput, 0, len(t.Fields)),
		}
		for _, fd := range t.Fields {
			field := models.FieldInput{
				Name:        fd.Name,
				DisplayName: fd.DisplayName,
				Type:        fd.Type,
				Required:    fd.Required,
				Unique:      fd.Unique,
				Description: fd.Description,
			}
			if fd.Default != nil {
				raw, err := json.Marshal(fd.Default)
				if err != nil {
					return nil, apperrors.Validationf("default of %s.%s: %v", t.Name, fd.Name, err)
				}
				field.DefaultValue = raw
			}
			input.Fields = append(input.Fields, field)
		}
		inputs = append(inputs, input)
	}
	return inputs, nil
}
