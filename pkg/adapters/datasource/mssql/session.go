package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-tables/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-tables/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-tables/pkg/models"
	sqlutil "github.com/ekaya-inc/ekaya-tables/pkg/sql"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// session runs operations on the pool (autocommit) or on an open transaction.
type session struct {
	db     *sql.DB
	tx     *sql.Tx
	mapper typeMapper
	logger *zap.Logger
}

var _ datasource.Session = (*session)(nil)

func (s *session) q() querier {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// atomic runs fn inside the open transaction, or inside a short-lived one in
// autocommit mode. SQL Server DDL is transactional.
func (s *session) atomic(ctx context.Context, op string, fn func(q querier) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Storage(op, err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Error("Failed to roll back DDL", zap.String("op", op), zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Storage(op, err)
	}
	return nil
}

func (s *session) Query(ctx context.Context, statement string, params ...any) (*datasource.QueryResult, error) {
	stmt, err := datasource.PrepareStatement(statement, sqlutil.PlaceholderAtP, len(params))
	if err != nil {
		return nil, err
	}

	rows, err := s.q().QueryContext(ctx, stmt, params...)
	if err != nil {
		return nil, apperrors.Storage("query", err)
	}
	defer rows.Close()

	result, err := datasource.ScanRows(rows)
	if err != nil {
		return nil, apperrors.Storage("query", err)
	}
	return result, nil
}

func (s *session) Execute(ctx context.Context, statement string, params ...any) (int64, error) {
	stmt, err := datasource.PrepareStatement(statement, sqlutil.PlaceholderAtP, len(params))
	if err != nil {
		return 0, err
	}

	res, err := s.q().ExecContext(ctx, stmt, params...)
	if err != nil {
		return 0, apperrors.Storage("execute", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.Storage("execute", err)
	}
	return affected, nil
}

func (s *session) TableExists(ctx context.Context, name string) (bool, error) {
	_, ok, err := resolveTable(ctx, s.q(), name)
	return ok, err
}

func (s *session) GetTableSchema(ctx context.Context, name string) ([]datasource.ColumnDescriptor, error) {
	q := s.q()
	stored, ok, err := resolveTable(ctx, q, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.NotFoundf("table %q", name)
	}
	return tableColumns(ctx, q, stored)
}

func (s *session) CreateTable(ctx context.Context, name string, fields []models.FieldDefinition) error {
	stmt, err := createTableStatement(s.mapper, name, fields)
	if err != nil {
		return apperrors.Validationf("%v", err)
	}

	return s.atomic(ctx, "create table", func(q querier) error {
		if _, exists, err := resolveTable(ctx, q, name); err != nil {
			return err
		} else if exists {
			return apperrors.SchemaConflictf("table %q already exists", name)
		}
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return apperrors.Storage("create table", err)
		}
		for _, f := range fields {
			if !f.Unique {
				continue
			}
			if _, err := q.ExecContext(ctx, createUniqueIndexStatement(name, f.Name)); err != nil {
				return apperrors.Storage("create unique index", err)
			}
		}
		return nil
	})
}

func (s *session) DropTable(ctx context.Context, name string) error {
	return s.atomic(ctx, "drop table", func(q querier) error {
		stored, err := requireTable(ctx, q, name)
		if err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, "DROP TABLE "+quoteName(stored)); err != nil {
			return apperrors.Storage("drop table", err)
		}
		return nil
	})
}

func (s *session) AddColumn(ctx context.Context, table string, field models.FieldDefinition) error {
	if field.Required && field.DefaultValue == nil {
		return apperrors.Validationf("required column %q needs a default value", field.Name)
	}

	return s.atomic(ctx, "add column", func(q querier) error {
		stored, cols, err := requireTableColumns(ctx, q, table)
		if err != nil {
			return err
		}
		if _, ok := findColumn(cols, field.Name); ok {
			return apperrors.SchemaConflictf("column %q already exists on %q", field.Name, stored)
		}

		def, err := columnDefinition(s.mapper, stored, field)
		if err != nil {
			return apperrors.Validationf("%v", err)
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD %s", quoteName(stored), def)
		if field.DefaultValue != nil {
			// Existing rows get the default, as they do on the other engines.
			stmt += " WITH VALUES"
		}
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return apperrors.Storage("add column", err)
		}
		if field.Unique {
			if _, err := q.ExecContext(ctx, createUniqueIndexStatement(stored, field.Name)); err != nil {
				return apperrors.Storage("create unique index", err)
			}
		}
		return nil
	})
}

func (s *session) DropColumn(ctx context.Context, table, column string) error {
	if models.IsSystemColumn(column) {
		return apperrors.SchemaConflictf("system column %q cannot be dropped", column)
	}

	return s.atomic(ctx, "drop column", func(q querier) error {
		stored, cols, err := requireTableColumns(ctx, q, table)
		if err != nil {
			return err
		}
		col, ok := findColumn(cols, column)
		if !ok {
			return apperrors.SchemaConflictf("column %q does not exist on %q", column, stored)
		}

		if err := dropUniqueIndexes(ctx, q, stored, col.Name); err != nil {
			return err
		}
		if err := dropDefaultConstraint(ctx, q, stored, col.Name); err != nil {
			return err
		}
		stmt := fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", quoteName(stored), quoteName(col.Name))
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return apperrors.Storage("drop column", err)
		}
		return nil
	})
}

func (s *session) RenameColumn(ctx context.Context, table, oldName, newName string) error {
	if models.IsSystemColumn(oldName) || models.IsSystemColumn(newName) {
		return apperrors.SchemaConflictf("system columns cannot be renamed")
	}

	return s.atomic(ctx, "rename column", func(q querier) error {
		stored, cols, err := requireTableColumns(ctx, q, table)
		if err != nil {
			return err
		}
		col, ok := findColumn(cols, oldName)
		if !ok {
			return apperrors.SchemaConflictf("column %q does not exist on %q", oldName, stored)
		}
		if col.Name == newName {
			return nil
		}
		if other, exists := findColumn(cols, newName); exists && other.Name != col.Name {
			return apperrors.SchemaConflictf("column %q already exists on %q", newName, stored)
		}

		if err := spRename(ctx, q, buildQualifiedName(stored, col.Name), newName, "COLUMN"); err != nil {
			return apperrors.Storage("rename column", err)
		}
		if err := renameUniqueIndex(ctx, q, stored, col.Name, newName); err != nil {
			return err
		}
		return renameDefaultConstraint(ctx, q, stored, col.Name, newName)
	})
}

// renameUniqueIndex keeps the canonical index name after a column rename.
func renameUniqueIndex(ctx context.Context, q querier, table, oldName, newName string) error {
	oldIndex := datasource.UniqueIndexName(table, oldName)
	newIndex := datasource.UniqueIndexName(table, newName)
	if oldIndex == newIndex {
		return nil
	}
	indexes, err := uniqueIndexes(ctx, q, table, newName)
	if err != nil {
		return err
	}
	for _, idx := range indexes {
		if idx.name != oldIndex {
			continue
		}
		if err := spRename(ctx, q, buildQualifiedName(table, idx.name), newIndex, "INDEX"); err != nil {
			return apperrors.Storage("rename unique index", err)
		}
	}
	return nil
}

// renameDefaultConstraint moves a canonical DEFAULT constraint to the name
// derived from the new column, freeing the old name for a later column.
func renameDefaultConstraint(ctx context.Context, q querier, table, oldName, newName string) error {
	oldDefault := defaultConstraintName(table, oldName)
	newDefault := defaultConstraintName(table, newName)
	if oldDefault == newDefault {
		return nil
	}
	name, ok, err := findDefaultConstraint(ctx, q, table, newName)
	if err != nil || !ok || name != oldDefault {
		return err
	}
	if err := spRename(ctx, q, quoteName(name), newDefault, "OBJECT"); err != nil {
		return apperrors.Storage("rename default constraint", err)
	}
	return nil
}

func spRename(ctx context.Context, q querier, object, newName, objType string) error {
	_, err := q.ExecContext(ctx, "EXEC sp_rename @objname = @p1, @newname = @p2, @objtype = @p3", object, newName, objType)
	return err
}

// RemoveConstraint alters the column in place. ALTER COLUMN is refused while
// an index covers the column, so unique indexes are dropped and recreated
// around it.
func (s *session) RemoveConstraint(ctx context.Context, table, column string, kind models.ConstraintKind, allFields []models.FieldDefinition) error {
	target, _, err := datasource.FieldsWithoutConstraint(allFields, column, kind)
	if err != nil {
		return err
	}

	return s.atomic(ctx, "remove constraint", func(q querier) error {
		stored, cols, err := requireTableColumns(ctx, q, table)
		if err != nil {
			return err
		}
		col, ok := findColumn(cols, column)
		if !ok {
			return apperrors.SchemaConflictf("column %q does not exist on %q", column, stored)
		}

		switch kind {
		case models.ConstraintUnique:
			return dropUniqueIndexes(ctx, q, stored, col.Name)
		case models.ConstraintRequired:
			if col.IsNullable {
				return nil
			}
			hadUnique := col.IsUnique
			if hadUnique {
				if err := dropUniqueIndexes(ctx, q, stored, col.Name); err != nil {
					return err
				}
			}
			stmt := fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s %s NULL", quoteName(stored), quoteName(col.Name), col.DataType)
			if _, err := q.ExecContext(ctx, stmt); err != nil {
				return apperrors.Storage("alter column null", err)
			}
			if hadUnique && fieldIsUnique(target, col.Name) {
				if _, err := q.ExecContext(ctx, createUniqueIndexStatement(stored, col.Name)); err != nil {
					return apperrors.Storage("create unique index", err)
				}
			}
			return nil
		}
		return apperrors.Validationf("unknown constraint kind %q", kind)
	})
}

func fieldIsUnique(fields []models.FieldDefinition, name string) bool {
	for _, f := range fields {
		if strings.EqualFold(f.Name, name) {
			return f.Unique
		}
	}
	return false
}

func requireTable(ctx context.Context, q querier, name string) (string, error) {
	stored, ok, err := resolveTable(ctx, q, name)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperrors.SchemaConflictf("table %q does not exist", name)
	}
	return stored, nil
}

func requireTableColumns(ctx context.Context, q querier, name string) (string, []datasource.ColumnDescriptor, error) {
	stored, err := requireTable(ctx, q, name)
	if err != nil {
		return "", nil, err
	}
	cols, err := tableColumns(ctx, q, stored)
	if err != nil {
		return "", nil, err
	}
	return stored, cols, nil
}

// findColumn prefers an exact match, then a case-insensitive one.
func findColumn(cols []datasource.ColumnDescriptor, name string) (datasource.ColumnDescriptor, bool) {
	for _, c := range cols {
		if c.Name == name {
			return c, true
		}
	}
	for _, c := range cols {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return datasource.ColumnDescriptor{}, false
}
