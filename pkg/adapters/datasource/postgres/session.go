package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-tables/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-tables/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-tables/pkg/models"
	sqlutil "github.com/ekaya-inc/ekaya-tables/pkg/sql"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// session runs operations on the pool (autocommit) or on an open transaction.
type session struct {
	pool   *pgxpool.Pool
	tx     pgx.Tx
	mapper typeMapper
	logger *zap.Logger
}

var _ datasource.Session = (*session)(nil)

func (s *session) q() querier {
	if s.tx != nil {
		return s.tx
	}
	return s.pool
}

// atomic runs fn inside the open transaction, or inside a short-lived one in
// autocommit mode. PostgreSQL DDL is transactional, so a failed step undoes
// the earlier ones.
func (s *session) atomic(ctx context.Context, op string, fn func(q querier) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperrors.Storage(op, err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Error("Failed to roll back DDL", zap.String("op", op), zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return apperrors.Storage(op, err)
	}
	return nil
}

func (s *session) Query(ctx context.Context, statement string, params ...any) (*datasource.QueryResult, error) {
	stmt, err := datasource.PrepareStatement(statement, sqlutil.PlaceholderDollar, len(params))
	if err != nil {
		return nil, err
	}

	rows, err := s.q().Query(ctx, stmt, params...)
	if err != nil {
		return nil, apperrors.Storage("query", err)
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = fd.Name
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, apperrors.Storage("query", fmt.Errorf("failed to read row values: %w", err))
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		resultRows = append(resultRows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Storage("query", err)
	}

	return &datasource.QueryResult{Columns: columns, Rows: resultRows}, nil
}

func (s *session) Execute(ctx context.Context, statement string, params ...any) (int64, error) {
	stmt, err := datasource.PrepareStatement(statement, sqlutil.PlaceholderDollar, len(params))
	if err != nil {
		return 0, err
	}

	tag, err := s.q().Exec(ctx, stmt, params...)
	if err != nil {
		return 0, apperrors.Storage("execute", err)
	}
	return tag.RowsAffected(), nil
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
		if _, err := q.Exec(ctx, stmt); err != nil {
			return apperrors.Storage("create table", err)
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
		if _, err := q.Exec(ctx, "DROP TABLE "+quoteIdent(stored)); err != nil {
			return apperrors.Storage("drop table", err)
		}
		return nil
	})
}

func (s *session) AddColumn(ctx context.Context, table string, field models.FieldDefinition) error {
	if field.Required && field.DefaultValue == nil {
		return apperrors.Validationf("required column %q needs a default value", field.Name)
	}
	def, err := columnDefinition(s.mapper, field)
	if err != nil {
		return apperrors.Validationf("%v", err)
	}

	return s.atomic(ctx, "add column", func(q querier) error {
		stored, cols, err := requireTableColumns(ctx, q, table)
		if err != nil {
			return err
		}
		if _, ok := findColumn(cols, field.Name); ok {
			return apperrors.SchemaConflictf("column %q already exists on %q", field.Name, stored)
		}
		if _, err := q.Exec(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", quoteIdent(stored), def)); err != nil {
			return apperrors.Storage("add column", err)
		}
		if field.Unique {
			stmt := fmt.Sprintf("ALTER TABLE %s ADD %s", quoteIdent(stored), uniqueConstraint(stored, field.Name))
			if _, err := q.Exec(ctx, stmt); err != nil {
				return apperrors.Storage("add unique constraint", err)
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
		// Constraints covering only this column go with it.
		stmt := fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", quoteIdent(stored), quoteIdent(col.Name))
		if _, err := q.Exec(ctx, stmt); err != nil {
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

		stmt := fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
			quoteIdent(stored), quoteIdent(col.Name), quoteIdent(newName))
		if _, err := q.Exec(ctx, stmt); err != nil {
			return apperrors.Storage("rename column", err)
		}
		return renameUniqueConstraint(ctx, q, stored, col.Name, newName)
	})
}

// renameUniqueConstraint keeps the canonical constraint name after a column rename.
func renameUniqueConstraint(ctx context.Context, q querier, table, oldName, newName string) error {
	names, err := uniqueConstraints(ctx, q, table, newName)
	if err != nil {
		return err
	}
	oldConstraint := datasource.UniqueIndexName(table, oldName)
	newConstraint := datasource.UniqueIndexName(table, newName)
	if oldConstraint == newConstraint {
		return nil
	}
	for _, name := range names {
		if name != oldConstraint {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s RENAME CONSTRAINT %s TO %s",
			quoteIdent(table), quoteIdent(name), quoteIdent(newConstraint))
		if _, err := q.Exec(ctx, stmt); err != nil {
			return apperrors.Storage("rename unique constraint", err)
		}
	}
	return nil
}

// RemoveConstraint alters the column in place; PostgreSQL needs no rebuild.
func (s *session) RemoveConstraint(ctx context.Context, table, column string, kind models.ConstraintKind, allFields []models.FieldDefinition) error {
	if _, _, err := datasource.FieldsWithoutConstraint(allFields, column, kind); err != nil {
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
			return dropUniqueConstraints(ctx, q, stored, col.Name)
		case models.ConstraintRequired:
			if col.IsNullable {
				return nil
			}
			stmt := fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL", quoteIdent(stored), quoteIdent(col.Name))
			if _, err := q.Exec(ctx, stmt); err != nil {
				return apperrors.Storage("drop not null", err)
			}
			return nil
		}
		return apperrors.Validationf("unknown constraint kind %q", kind)
	})
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
