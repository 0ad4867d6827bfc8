package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-tables/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-tables/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-tables/pkg/database"
	"github.com/ekaya-inc/ekaya-tables/pkg/models"
)

// CatalogRepository provides data access for the table and field catalog.
// Every method runs on the session stored in ctx (see database.SetSession),
// so catalog writes join the caller's transaction.
type CatalogRepository interface {
	ListTables(ctx context.Context) ([]*models.TableDefinition, error)
	GetTable(ctx context.Context, name string) (*models.TableDefinition, error)
	InsertTable(ctx context.Context, table *models.TableDefinition) error
	DeleteTable(ctx context.Context, tableID uuid.UUID) error
	TouchTable(ctx context.Context, tableID uuid.UUID, at time.Time) error

	InsertField(ctx context.Context, field *models.FieldDefinition) error
	UpdateField(ctx context.Context, field *models.FieldDefinition) error
	DeleteField(ctx context.Context, fieldID uuid.UUID) error
	NextSortPosition(ctx context.Context, tableID uuid.UUID) (int, error)
}

type catalogRepository struct{}

// NewCatalogRepository creates a new CatalogRepository.
func NewCatalogRepository() CatalogRepository {
	return &catalogRepository{}
}

var _ CatalogRepository = (*catalogRepository)(nil)

const (
	tableColumns = `id, name, display_name, description, created_at, updated_at`
	fieldColumns = `id, table_id, name, display_name, field_type, is_required, is_unique,
		default_value, description, sort_position, created_at, updated_at`
)

func session(ctx context.Context) (datasource.Session, error) {
	s, ok := database.GetSession(ctx)
	if !ok {
		return nil, fmt.Errorf("no storage session in context")
	}
	return s, nil
}

// ============================================================================
// Tables
// ============================================================================

func (r *catalogRepository) ListTables(ctx context.Context) ([]*models.TableDefinition, error) {
	s, err := session(ctx)
	if err != nil {
		return nil, err
	}

	tableRows, err := s.Query(ctx, `SELECT `+tableColumns+` FROM _catalog_tables ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}

	tables := make([]*models.TableDefinition, 0, len(tableRows.Rows))
	byID := make(map[uuid.UUID]*models.TableDefinition, len(tableRows.Rows))
	for _, row := range tableRows.Rows {
		t, err := scanTable(row)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
		byID[t.ID] = t
	}
	if len(tables) == 0 {
		return tables, nil
	}

	fieldRows, err := s.Query(ctx, `SELECT `+fieldColumns+` FROM _catalog_fields ORDER BY table_id, sort_position, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list fields: %w", err)
	}
	for _, row := range fieldRows.Rows {
		f, err := scanField(row)
		if err != nil {
			return nil, err
		}
		if t, ok := byID[f.TableID]; ok {
			t.Fields = append(t.Fields, *f)
		}
	}

	return tables, nil
}

// GetTable looks a table up by name, ignoring case. Returns apperrors.ErrNotFound if absent.
func (r *catalogRepository) GetTable(ctx context.Context, name string) (*models.TableDefinition, error) {
	s, err := session(ctx)
	if err != nil {
		return nil, err
	}

	result, err := s.Query(ctx, `SELECT `+tableColumns+` FROM _catalog_tables WHERE LOWER(name) = LOWER($1)`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get table: %w", err)
	}
	if len(result.Rows) == 0 {
		return nil, apperrors.NotFoundf("table %q", name)
	}

	t, err := scanTable(result.Rows[0])
	if err != nil {
		return nil, err
	}

	fields, err := s.Query(ctx,
		`SELECT `+fieldColumns+` FROM _catalog_fields WHERE table_id = $1 ORDER BY sort_position, name`,
		t.ID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get fields: %w", err)
	}
	for _, row := range fields.Rows {
		f, err := scanField(row)
		if err != nil {
			return nil, err
		}
		t.Fields = append(t.Fields, *f)
	}

	return t, nil
}

// InsertTable inserts the table row and all of its fields.
func (r *catalogRepository) InsertTable(ctx context.Context, table *models.TableDefinition) error {
	s, err := session(ctx)
	if err != nil {
		return err
	}

	_, err = s.Execute(ctx, `
		INSERT INTO _catalog_tables (`+tableColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		table.ID.String(),
		table.Name,
		table.DisplayName,
		nullString(table.Description),
		formatTime(table.CreatedAt),
		formatTime(table.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert table: %w", err)
	}

	for i := range table.Fields {
		if err := r.InsertField(ctx, &table.Fields[i]); err != nil {
			return err
		}
	}
	return nil
}

// DeleteTable removes the table's fields, then the table row.
func (r *catalogRepository) DeleteTable(ctx context.Context, tableID uuid.UUID) error {
	s, err := session(ctx)
	if err != nil {
		return err
	}

	if _, err := s.Execute(ctx, `DELETE FROM _catalog_fields WHERE table_id = $1`, tableID.String()); err != nil {
		return fmt.Errorf("failed to delete fields: %w", err)
	}

	n, err := s.Execute(ctx, `DELETE FROM _catalog_tables WHERE id = $1`, tableID.String())
	if err != nil {
		return fmt.Errorf("failed to delete table: %w", err)
	}
	if n == 0 {
		return apperrors.NotFoundf("table %s", tableID)
	}
	return nil
}

func (r *catalogRepository) TouchTable(ctx context.Context, tableID uuid.UUID, at time.Time) error {
	s, err := session(ctx)
	if err != nil {
		return err
	}

	n, err := s.Execute(ctx, `UPDATE _catalog_tables SET updated_at = $1 WHERE id = $2`, formatTime(at), tableID.String())
	if err != nil {
		return fmt.Errorf("failed to touch table: %w", err)
	}
	if n == 0 {
		return apperrors.NotFoundf("table %s", tableID)
	}
	return nil
}

// ============================================================================
// Fields
// ============================================================================

func (r *catalogRepository) InsertField(ctx context.Context, field *models.FieldDefinition) error {
	s, err := session(ctx)
	if err != nil {
		return err
	}

	defaultValue, err := encodeDefault(field.DefaultValue)
	if err != nil {
		return err
	}

	_, err = s.Execute(ctx, `
		INSERT INTO _catalog_fields (`+fieldColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		field.ID.String(),
		field.TableID.String(),
		field.Name,
		field.DisplayName,
		string(field.Type),
		boolInt(field.Required),
		boolInt(field.Unique),
		defaultValue,
		nullString(field.Description),
		field.SortPosition,
		formatTime(field.CreatedAt),
		formatTime(field.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert field %q: %w", field.Name, err)
	}
	return nil
}

func (r *catalogRepository) UpdateField(ctx context.Context, field *models.FieldDefinition) error {
	s, err := session(ctx)
	if err != nil {
		return err
	}

	defaultValue, err := encodeDefault(field.DefaultValue)
	if err != nil {
		return err
	}

	n, err := s.Execute(ctx, `
		UPDATE _catalog_fields
		SET name = $1, display_name = $2, is_required = $3, is_unique = $4,
		    default_value = $5, description = $6, sort_position = $7, updated_at = $8
		WHERE id = $9`,
		field.Name,
		field.DisplayName,
		boolInt(field.Required),
		boolInt(field.Unique),
		defaultValue,
		nullString(field.Description),
		field.SortPosition,
		formatTime(field.UpdatedAt),
		field.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update field %q: %w", field.Name, err)
	}
	if n == 0 {
		return apperrors.NotFoundf("field %s", field.ID)
	}
	return nil
}

func (r *catalogRepository) DeleteField(ctx context.Context, fieldID uuid.UUID) error {
	s, err := session(ctx)
	if err != nil {
		return err
	}

	n, err := s.Execute(ctx, `DELETE FROM _catalog_fields WHERE id = $1`, fieldID.String())
	if err != nil {
		return fmt.Errorf("failed to delete field: %w", err)
	}
	if n == 0 {
		return apperrors.NotFoundf("field %s", fieldID)
	}
	return nil
}

// NextSortPosition returns one past the highest sort position of the table's fields.
func (r *catalogRepository) NextSortPosition(ctx context.Context, tableID uuid.UUID) (int, error) {
	s, err := session(ctx)
	if err != nil {
		return 0, err
	}

	result, err := s.Query(ctx,
		`SELECT COALESCE(MAX(sort_position), -1) + 1 AS next_position FROM _catalog_fields WHERE table_id = $1`,
		tableID.String())
	if err != nil {
		return 0, fmt.Errorf("failed to get next sort position: %w", err)
	}
	if len(result.Rows) == 0 {
		return 0, nil
	}
	n, err := asInt(result.Rows[0]["next_position"])
	if err != nil {
		return 0, fmt.Errorf("failed to read sort position: %w", err)
	}
	return int(n), nil
}

// ============================================================================
// Row conversion
// ============================================================================

func scanTable(row map[string]any) (*models.TableDefinition, error) {
	id, err := asUUID(row["id"])
	if err != nil {
		return nil, fmt.Errorf("failed to scan table id: %w", err)
	}
	createdAt, err := asTime(row["created_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to scan table created_at: %w", err)
	}
	updatedAt, err := asTime(row["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to scan table updated_at: %w", err)
	}

	return &models.TableDefinition{
		ID:          id,
		Name:        asString(row["name"]),
		DisplayName: asString(row["display_name"]),
		Description: asNullString(row["description"]),
		Fields:      []models.FieldDefinition{},
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}, nil
}

func scanField(row map[string]any) (*models.FieldDefinition, error) {
	id, err := asUUID(row["id"])
	if err != nil {
		return nil, fmt.Errorf("failed to scan field id: %w", err)
	}
	tableID, err := asUUID(row["table_id"])
	if err != nil {
		return nil, fmt.Errorf("failed to scan field table_id: %w", err)
	}
	required, err := asBool(row["is_required"])
	if err != nil {
		return nil, fmt.Errorf("failed to scan is_required: %w", err)
	}
	unique, err := asBool(row["is_unique"])
	if err != nil {
		return nil, fmt.Errorf("failed to scan is_unique: %w", err)
	}
	position, err := asInt(row["sort_position"])
	if err != nil {
		return nil, fmt.Errorf("failed to scan sort_position: %w", err)
	}
	createdAt, err := asTime(row["created_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to scan field created_at: %w", err)
	}
	updatedAt, err := asTime(row["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to scan field updated_at: %w", err)
	}

	fieldType := models.FieldType(asString(row["field_type"]))
	var defaultValue *models.DefaultValue
	if raw := asNullString(row["default_value"]); raw != nil {
		defaultValue, err = models.DecodeDefaultValue(fieldType, json.RawMessage(*raw))
		if err != nil {
			return nil, fmt.Errorf("failed to decode default of field %s: %w", id, err)
		}
	}

	return &models.FieldDefinition{
		ID:           id,
		TableID:      tableID,
		Name:         asString(row["name"]),
		DisplayName:  asString(row["display_name"]),
		Type:         fieldType,
		Required:     required,
		Unique:       unique,
		DefaultValue: defaultValue,
		Description:  asNullString(row["description"]),
		SortPosition: int(position),
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}, nil
}

func encodeDefault(v *models.DefaultValue) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode default value: %w", err)
	}
	return string(data), nil
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Engines disagree on scanned types (int32 vs int64, string vs []byte,
// text vs time.Time), so catalog values are converted tolerantly.

func asString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

func asNullString(v any) *string {
	if v == nil {
		return nil
	}
	s := asString(v)
	return &s
}

func asUUID(v any) (uuid.UUID, error) {
	if id, ok := v.(uuid.UUID); ok {
		return id, nil
	}
	if b, ok := v.([16]byte); ok {
		return uuid.UUID(b), nil
	}
	return uuid.Parse(asString(v))
}

func asInt(v any) (int64, error) {
	switch val := v.(type) {
	case int64:
		return val, nil
	case int32:
		return int64(val), nil
	case int:
		return int64(val), nil
	case int16:
		return int64(val), nil
	case float64:
		return int64(val), nil
	case string:
		return strconv.ParseInt(val, 10, 64)
	case []byte:
		return strconv.ParseInt(string(val), 10, 64)
	case nil:
		return 0, nil
	}
	return 0, fmt.Errorf("unexpected integer type %T", v)
}

func asBool(v any) (bool, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	n, err := asInt(v)
	if err != nil {
		return false, err
	}
	return n != 0, nil
}

func asTime(v any) (time.Time, error) {
	switch val := v.(type) {
	case time.Time:
		return val.UTC(), nil
	case nil:
		return time.Time{}, fmt.Errorf("missing timestamp")
	}
	t, err := time.Parse(time.RFC3339Nano, asString(v))
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
