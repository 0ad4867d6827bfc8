package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
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

// session runs operations on the database handle (autocommit) or on an open transaction.
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

// atomic runs fn inside the open transaction, or inside a short-lived one
// when the session is in autocommit mode, so multi-statement DDL never
// leaves a half-applied change behind.
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
	stmt, err := datasource.PrepareStatement(statement, sqlutil.PlaceholderQuestion, len(params))
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
	stmt, err := datasource.PrepareStatement(statement, sqlutil.PlaceholderQuestion, len(params))
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
	return tableExists(ctx, s.q(), name)
}

func (s *session) GetTableSchema(ctx context.Context, name string) ([]datasource.ColumnDescriptor, error) {
	q := s.q()
	exists, err := tableExists(ctx, q, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, apperrors.NotFoundf("table %q", name)
	}
	return tableColumns(ctx, q, name)
}

func (s *session) CreateTable(ctx context.Context, name string, fields []models.FieldDefinition) error {
	stmt, err := createTableStatement(s.mapper, name, fields)
	if err != nil {
		return apperrors.Validationf("%v", err)
	}

	return s.atomic(ctx, "create table", func(q querier) error {
		if err := requireTableAbsent(ctx, q, name); err != nil {
			return err
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
		if err := requireTable(ctx, q, name); err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, "DROP TABLE "+quoteIdent(name)); err != nil {
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
		cols, err := requireTableColumns(ctx, q, table)
		if err != nil {
			return err
		}
		if _, ok := findColumn(cols, field.Name); ok {
			return apperrors.SchemaConflictf("column %q already exists on %q", field.Name, table)
		}
		if _, err := q.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", quoteIdent(table), def)); err != nil {
			return apperrors.Storage("add column", err)
		}
		if field.Unique {
			if _, err := q.ExecContext(ctx, createUniqueIndexStatement(table, field.Name)); err != nil {
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
		cols, err := requireTableColumns(ctx, q, table)
		if err != nil {
			return err
		}
		col, ok := findColumn(cols, column)
		if !ok {
			return apperrors.SchemaConflictf("column %q does not exist on %q", column, table)
		}

		// SQLite refuses to drop an indexed column.
		if err := dropUniqueIndexes(ctx, q, table, col.Name); err != nil {
			return err
		}
		stmt := fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", quoteIdent(table), quoteIdent(col.Name))
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
		cols, err := requireTableColumns(ctx, q, table)
		if err != nil {
			return err
		}
		col, ok := findColumn(cols, oldName)
		if !ok {
			return apperrors.SchemaConflictf("column %q does not exist on %q", oldName, table)
		}
		if col.Name == newName {
			return nil
		}

		caseOnly := strings.EqualFold(col.Name, newName)
		if _, exists := findColumn(cols, newName); exists && !caseOnly {
			return apperrors.SchemaConflictf("column %q already exists on %q", newName, table)
		}

		from := col.Name
		if caseOnly {
			// SQLite compares column names case-insensitively, so hop through a scratch name.
			scratch := "_rn_" + strings.ReplaceAll(uuid.NewString(), "-", "")
			if err := renameColumn(ctx, q, table, from, scratch); err != nil {
				return err
			}
			from = scratch
		}
		if err := renameColumn(ctx, q, table, from, newName); err != nil {
			return err
		}
		return canonicalizeUniqueIndexes(ctx, q, table, newName)
	})
}

func (s *session) RemoveConstraint(ctx context.Context, table, column string, kind models.ConstraintKind, allFields []models.FieldDefinition) error {
	target, had, err := datasource.FieldsWithoutConstraint(allFields, column, kind)
	if err != nil {
		return err
	}

	return s.atomic(ctx, "remove constraint", func(q querier) error {
		cols, err := requireTableColumns(ctx, q, table)
		if err != nil {
			return err
		}
		col, ok := findColumn(cols, column)
		if !ok {
			return apperrors.SchemaConflictf("column %q does not exist on %q", column, table)
		}

		s.logger.Debug("Removing constraint",
			zap.String("table", table),
			zap.String("column", col.Name),
			zap.String("kind", string(kind)),
			zap.Bool("catalog_had_constraint", had))

		switch kind {
		case models.ConstraintUnique:
			return dropUniqueIndexes(ctx, q, table, col.Name)
		case models.ConstraintRequired:
			if col.IsNullable {
				return nil
			}
			return rebuildTable(ctx, q, s.mapper, s.logger, table, target, cols)
		}
		return apperrors.Validationf("unknown constraint kind %q", kind)
	})
}

func renameColumn(ctx context.Context, q querier, table, from, to string) error {
	stmt := fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", quoteIdent(table), quoteIdent(from), quoteIdent(to))
	if _, err := q.ExecContext(ctx, stmt); err != nil {
		return apperrors.Storage("rename column", err)
	}
	return nil
}

func tableExists(ctx context.Context, q querier, name string) (bool, error) {
	var count int64
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND lower(name) = lower(?1)`, name).Scan(&count)
	if err != nil {
		return false, apperrors.Storage("table exists", err)
	}
	return count > 0, nil
}

func requireTable(ctx context.Context, q querier, name string) error {
	exists, err := tableExists(ctx, q, name)
	if err != nil {
		return err
	}
	if !exists {
		return apperrors.SchemaConflictf("table %q does not exist", name)
	}
	return nil
}

func requireTableAbsent(ctx context.Context, q querier, name string) error {
	exists, err := tableExists(ctx, q, name)
	if err != nil {
		return err
	}
	if exists {
		return apperrors.SchemaConflictf("table %q already exists", name)
	}
	return nil
}

func requireTableColumns(ctx context.Context, q querier, name string) ([]datasource.ColumnDescriptor, error) {
	if err := requireTable(ctx, q, name); err != nil {
		return nil, err
	}
	return tableColumns(ctx, q, name)
}

func findColumn(cols []datasource.ColumnDescriptor, name string) (datasource.ColumnDescriptor, bool) {
	for _, c := range cols {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return datasource.ColumnDescriptor{}, false
}
