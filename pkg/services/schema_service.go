package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-tables/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-tables/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-tables/pkg/audit"
	"github.com/ekaya-inc/ekaya-tables/pkg/database"
	"github.com/ekaya-inc/ekaya-tables/pkg/models"
	"github.com/ekaya-inc/ekaya-tables/pkg/repositories"
	sqlutil "github.com/ekaya-inc/ekaya-tables/pkg/sql"
)

// SchemaService applies schema changes to user-defined tables. Every mutation
// writes the catalog and the physical table inside one transaction.
type SchemaService interface {
	// CreateTable validates input, then creates the catalog entry and the physical table.
	CreateTable(ctx context.Context, input models.CreateTableInput) (*models.TableDefinition, error)

	// GetTables returns all table definitions ordered by name.
	GetTables(ctx context.Context) ([]*models.TableDefinition, error)

	// GetTable returns a single table definition by name.
	GetTable(ctx context.Context, name string) (*models.TableDefinition, error)

	// DeleteTable drops the physical table and its catalog entry.
	DeleteTable(ctx context.Context, name string) error

	// AddColumn appends a field at the next sort position.
	AddColumn(ctx context.Context, table string, field models.FieldInput) (*models.TableDefinition, error)

	// DeleteColumn removes a field and its physical column. Data in the column is lost.
	DeleteColumn(ctx context.Context, table, column string) (*models.TableDefinition, error)

	// UpdateColumnMetadata changes display name and/or description only.
	UpdateColumnMetadata(ctx context.Context, table, column string, updates models.ColumnMetadataUpdate) (*models.TableDefinition, error)

	// RemoveConstraint clears the required or unique flag of a field.
	RemoveConstraint(ctx context.Context, table, column string, kind models.ConstraintKind) (*models.TableDefinition, error)

	// RenameColumn renames a field, keeping its data and constraints.
	RenameColumn(ctx context.Context, table, oldName, newName string) (*models.TableDefinition, error)

	// ValidateColumns checks sort/filter column names against the live table schema.
	ValidateColumns(ctx context.Context, table string, columns []string) error

	// ApplyDefinitions creates missing tables and adds missing fields. It never drops anything.
	ApplyDefinitions(ctx context.Context, inputs []models.CreateTableInput) (*ApplyResult, error)
}

type schemaService struct {
	adapter datasource.StorageAdapter
	catalog repositories.CatalogRepository
	audit   *audit.SchemaAuditor
	logger  *zap.Logger
	now     func() time.Time
}

// NewSchemaService creates a new SchemaService on a connected adapter.
func NewSchemaService(
	adapter datasource.StorageAdapter,
	catalog repositories.CatalogRepository,
	logger *zap.Logger,
) SchemaService {
	return &schemaService{
		adapter: adapter,
		catalog: catalog,
		audit:   audit.NewSchemaAuditor(logger),
		logger:  logger.Named("schema-service"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

var _ SchemaService = (*schemaService)(nil)

// withTransaction runs fn with the transaction stored in ctx and commits it,
// or rolls back and returns fn's error unchanged.
func (s *schemaService) withTransaction(ctx context.Context, op string, fn func(ctx context.Context, tx datasource.Transaction) error) error {
	tx, err := s.adapter.BeginTransaction(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for %s: %w", op, err)
	}

	if err := fn(database.SetSession(ctx, tx), tx); err != nil {
		if rbErr := s.adapter.Rollback(context.WithoutCancel(ctx), tx); rbErr != nil {
			s.logger.Error("Failed to roll back transaction",
				zap.String("op", op),
				zap.String("tx", tx.ID()),
				zap.Error(rbErr))
		}
		s.logger.Warn("Schema operation rolled back",
			zap.String("op", op),
			zap.String("kind", apperrors.Kind(err)),
			zap.Error(err))
		return err
	}

	if err := s.adapter.Commit(ctx, tx); err != nil {
		return fmt.Errorf("failed to commit %s: %w", op, err)
	}
	return nil
}

// readContext attaches the adapter's autocommit session for catalog reads.
func (s *schemaService) readContext(ctx context.Context) context.Context {
	return database.SetSession(ctx, s.adapter)
}

// ============================================================================
// Reads
// ============================================================================

func (s *schemaService) GetTables(ctx context.Context) ([]*models.TableDefinition, error) {
	tables, err := s.catalog.ListTables(s.readContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	return tables, nil
}

func (s *schemaService) GetTable(ctx context.Context, name string) (*models.TableDefinition, error) {
	return s.catalog.GetTable(s.readContext(ctx), strings.TrimSpace(name))
}

func (s *schemaService) ValidateColumns(ctx context.Context, table string, columns []string) error {
	def, err := s.GetTable(ctx, table)
	if err != nil {
		return err
	}

	cols, err := s.adapter.GetTableSchema(ctx, def.Name)
	if err != nil {
		return fmt.Errorf("failed to read schema of %q: %w", def.Name, err)
	}
	known := make(map[string]bool, len(cols))
	for _, c := range cols {
		known[strings.ToLower(c.Name)] = true
	}

	var unknown []string
	for _, name := range columns {
		if !known[strings.ToLower(strings.TrimSpace(name))] {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		return apperrors.Validationf("unknown columns on %q: %s", def.Name, strings.Join(unknown, ", "))
	}
	return nil
}

// ============================================================================
// Tables
// ============================================================================

func (s *schemaService) CreateTable(ctx context.Context, input models.CreateTableInput) (*models.TableDefinition, error) {
	now := s.now()
	table, err := s.buildTable(input, now)
	if err != nil {
		return nil, err
	}

	if _, err := s.GetTable(ctx, table.Name); err == nil {
		return nil, apperrors.Conflictf("table %q already exists", table.Name)
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	err = s.withTransaction(ctx, "create table", func(ctx context.Context, tx datasource.Transaction) error {
		if err := s.catalog.InsertTable(ctx, table); err != nil {
			return err
		}
		return tx.CreateTable(ctx, table.Name, table.Fields)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Created table",
		zap.String("table", table.Name),
		zap.Int("fields", len(table.Fields)))
	return s.GetTable(ctx, table.Name)
}

func (s *schemaService) DeleteTable(ctx context.Context, name string) error {
	table, err := s.GetTable(ctx, name)
	if err != nil {
		return err
	}

	err = s.withTransaction(ctx, "delete table", func(ctx context.Context, tx datasource.Transaction) error {
		if err := s.catalog.DeleteTable(ctx, table.ID); err != nil {
			return err
		}
		return tx.DropTable(ctx, table.Name)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Deleted table", zap.String("table", table.Name))
	s.audit.TableDropped(table.Name)
	return nil
}

// ============================================================================
// Columns
// ============================================================================

func (s *schemaService) AddColumn(ctx context.Context, tableName string, input models.FieldInput) (*models.TableDefinition, error) {
	now := s.now()
	field, err := s.buildField(tableName, input, now)
	if err != nil {
		return nil, err
	}
	if field.Required && field.DefaultValue == nil {
		return nil, apperrors.Validationf("required field %q needs a default value when added to an existing table", field.Name)
	}

	table, err := s.GetTable(ctx, tableName)
	if err != nil {
		return nil, err
	}
	if _, exists := table.Field(field.Name); exists {
		return nil, apperrors.Conflictf("field %q already exists on %q", field.Name, table.Name)
	}
	field.TableID = table.ID

	err = s.withTransaction(ctx, "add column", func(ctx context.Context, tx datasource.Transaction) error {
		position, err := s.catalog.NextSortPosition(ctx, table.ID)
		if err != nil {
			return err
		}
		field.SortPosition = position

		if err := s.catalog.InsertField(ctx, &field); err != nil {
			return err
		}
		if err := s.catalog.TouchTable(ctx, table.ID, now); err != nil {
			return err
		}
		return tx.AddColumn(ctx, table.Name, field)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Added column",
		zap.String("table", table.Name),
		zap.String("column", field.Name),
		zap.String("type", string(field.Type)))
	return s.GetTable(ctx, table.Name)
}

func (s *schemaService) DeleteColumn(ctx context.Context, tableName, column string) (*models.TableDefinition, error) {
	column = strings.TrimSpace(column)
	if models.IsSystemColumn(column) {
		return nil, apperrors.Conflictf("system column %q cannot be deleted", column)
	}

	table, field, err := s.getField(ctx, tableName, column)
	if err != nil {
		return nil, err
	}

	err = s.withTransaction(ctx, "delete column", func(ctx context.Context, tx datasource.Transaction) error {
		if err := s.catalog.DeleteField(ctx, field.ID); err != nil {
			return err
		}
		if err := s.catalog.TouchTable(ctx, table.ID, s.now()); err != nil {
			return err
		}
		return tx.DropColumn(ctx, table.Name, field.Name)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Deleted column",
		zap.String("table", table.Name),
		zap.String("column", field.Name))
	s.audit.FieldDropped(table.Name, field.Name)
	return s.GetTable(ctx, table.Name)
}

func (s *schemaService) UpdateColumnMetadata(ctx context.Context, tableName, column string, updates models.ColumnMetadataUpdate) (*models.TableDefinition, error) {
	if updates.DisplayName != nil && strings.TrimSpace(*updates.DisplayName) == "" {
		return nil, apperrors.Validationf("display name cannot be empty")
	}

	table, field, err := s.getField(ctx, tableName, strings.TrimSpace(column))
	if err != nil {
		return nil, err
	}

	updated := *field
	if updates.DisplayName != nil {
		updated.DisplayName = strings.TrimSpace(*updates.DisplayName)
	}
	if updates.Description != nil {
		updated.Description = normalizeDescription(updates.Description)
	}
	updated.UpdatedAt = s.now()

	err = s.withTransaction(ctx, "update column metadata", func(ctx context.Context, _ datasource.Transaction) error {
		if err := s.catalog.UpdateField(ctx, &updated); err != nil {
			return err
		}
		return s.catalog.TouchTable(ctx, table.ID, updated.UpdatedAt)
	})
	if err != nil {
		return nil, err
	}

	return s.GetTable(ctx, table.Name)
}

func (s *schemaService) RemoveConstraint(ctx context.Context, tableName, column string, kind models.ConstraintKind) (*models.TableDefinition, error) {
	if !kind.Valid() {
		return nil, apperrors.Validationf("unknown constraint kind %q", kind)
	}
	column = strings.TrimSpace(column)
	if models.IsSystemColumn(column) {
		return nil, apperrors.Conflictf("constraints on system column %q cannot be changed", column)
	}

	table, field, err := s.getField(ctx, tableName, column)
	if err != nil {
		return nil, err
	}

	updated := *field
	switch kind {
	case models.ConstraintRequired:
		if !field.Required {
			return table, nil
		}
		updated.Required = false
	case models.ConstraintUnique:
		if !field.Unique {
			return table, nil
		}
		updated.Unique = false
	}
	updated.UpdatedAt = s.now()

	err = s.withTransaction(ctx, "remove constraint", func(ctx context.Context, tx datasource.Transaction) error {
		if err := s.catalog.UpdateField(ctx, &updated); err != nil {
			return err
		}
		if err := s.catalog.TouchTable(ctx, table.ID, updated.UpdatedAt); err != nil {
			return err
		}
		return tx.RemoveConstraint(ctx, table.Name, field.Name, kind, table.Fields)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Removed constraint",
		zap.String("table", table.Name),
		zap.String("column", field.Name),
		zap.String("kind", string(kind)))
	s.audit.ConstraintRemoved(table.Name, field.Name, string(kind))
	return s.GetTable(ctx, table.Name)
}

func (s *schemaService) RenameColumn(ctx context.Context, tableName, oldName, newName string) (*models.TableDefinition, error) {
	oldName = strings.TrimSpace(oldName)
	newName = strings.TrimSpace(newName)

	if err := models.ValidateIdentifier(newName); err != nil {
		return nil, apperrors.Validationf("%v", err)
	}
	if oldName == newName {
		return s.GetTable(ctx, tableName)
	}
	if models.IsSystemColumn(oldName) {
		return nil, apperrors.Conflictf("system column %q cannot be renamed", oldName)
	}
	if models.IsSystemColumn(newName) {
		return nil, apperrors.Conflictf("%q is a system column name", newName)
	}

	table, field, err := s.getField(ctx, tableName, oldName)
	if err != nil {
		return nil, err
	}
	if other, exists := table.Field(newName); exists && other.ID != field.ID {
		return nil, apperrors.Conflictf("field %q already exists on %q", other.Name, table.Name)
	}

	updated := *field
	updated.Name = newName
	updated.UpdatedAt = s.now()

	err = s.withTransaction(ctx, "rename column", func(ctx context.Context, tx datasource.Transaction) error {
		if err := s.catalog.UpdateField(ctx, &updated); err != nil {
			return err
		}
		if err := s.catalog.TouchTable(ctx, table.ID, updated.UpdatedAt); err != nil {
			return err
		}
		return tx.RenameColumn(ctx, table.Name, field.Name, newName)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Renamed column",
		zap.String("table", table.Name),
		zap.String("from", field.Name),
		zap.String("to", newName))
	s.audit.FieldRenamed(table.Name, field.Name, newName)
	return s.GetTable(ctx, table.Name)
}

// ============================================================================
// Helpers
// ============================================================================

// getField loads the table and looks the field up by name, ignoring case.
func (s *schemaService) getField(ctx context.Context, tableName, column string) (*models.TableDefinition, *models.FieldDefinition, error) {
	table, err := s.GetTable(ctx, tableName)
	if err != nil {
		return nil, nil, err
	}
	field, ok := table.Field(column)
	if !ok {
		return nil, nil, apperrors.NotFoundf("field %q on table %q", column, table.Name)
	}
	return table, field, nil
}

// buildTable validates input and turns it into a definition with fresh ids.
// It never touches storage.
func (s *schemaService) buildTable(input models.CreateTableInput, now time.Time) (*models.TableDefinition, error) {
	name := strings.TrimSpace(input.Name)
	if err := models.ValidateIdentifier(name); err != nil {
		return nil, apperrors.Validationf("invalid table name: %v", err)
	}
	if models.IsReservedTableName(name) {
		return nil, apperrors.Validationf("table name %q uses a reserved prefix", name)
	}
	if len(input.Fields) == 0 {
		return nil, apperrors.Validationf("table %q needs at least one field", name)
	}

	table := &models.TableDefinition{
		ID:          uuid.New(),
		Name:        name,
		DisplayName: displayNameOr(input.DisplayName, name),
		Description: normalizeDescription(input.Description),
		Fields:      make([]models.FieldDefinition, 0, len(input.Fields)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	seen := make(map[string]bool, len(input.Fields))
	for i, in := range input.Fields {
		field, err := s.buildField(name, in, now)
		if err != nil {
			return nil, err
		}
		key := strings.ToLower(field.Name)
		if seen[key] {
			return nil, apperrors.Conflictf("duplicate field %q", field.Name)
		}
		seen[key] = true

		field.TableID = table.ID
		field.SortPosition = i
		table.Fields = append(table.Fields, field)
	}
	return table, nil
}

// buildField validates a field input and decodes its default value.
func (s *schemaService) buildField(table string, input models.FieldInput, now time.Time) (models.FieldDefinition, error) {
	name := strings.TrimSpace(input.Name)
	if err := models.ValidateIdentifier(name); err != nil {
		return models.FieldDefinition{}, apperrors.Validationf("invalid field name: %v", err)
	}
	if models.IsSystemColumn(name) {
		return models.FieldDefinition{}, apperrors.Conflictf("%q is a system column name", name)
	}
	if !input.Type.Valid() {
		return models.FieldDefinition{}, apperrors.Validationf("field %q has unknown type %q", name, input.Type)
	}

	defaultValue, err := models.DecodeDefaultValue(input.Type, input.DefaultValue)
	if err != nil {
		return models.FieldDefinition{}, apperrors.Validationf("field %q: %v", name, err)
	}
	if defaultValue != nil && defaultValue.Type() == models.FieldTypeText {
		// Defaults are rendered into DDL as literals, so they cannot be bound.
		if hits := sqlutil.CheckLiterals(map[string]any{name: defaultValue.Text()}); len(hits) > 0 {
			s.audit.LiteralRejected(table, name, hits[0].Fingerprint)
			return models.FieldDefinition{}, apperrors.Validationf("default value of field %q is not allowed", name)
		}
	}

	return models.FieldDefinition{
		ID:           uuid.New(),
		Name:         name,
		DisplayName:  displayNameOr(input.DisplayName, name),
		Type:         input.Type,
		Required:     input.Required,
		Unique:       input.Unique,
		DefaultValue: defaultValue,
		Description:  normalizeDescription(input.Description),
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func displayNameOr(displayName, name string) string {
	if d := strings.TrimSpace(displayName); d != "" {
		return d
	}
	return name
}

func normalizeDescription(description *string) *string {
	if description == nil {
		return nil
	}
	d := strings.TrimSpace(*description)
	if d == "" {
		return nil
	}
	return &d
}
