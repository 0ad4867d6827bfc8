package sqlite

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-tables/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-tables/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-tables/pkg/models"
)

// rebuildTable replaces table with a copy whose columns follow fields.
// SQLite cannot drop NOT NULL in place, so the table is recreated:
//
//  1. fields is the authoritative column list with the constraint already cleared
//  2. create _rebuild_<table>_<uuid> with that column list
//  3. copy every row through an explicit column list
//  4. carry the AUTOINCREMENT high-water mark over to the copy
//  5. drop the original
//  6. rename the copy to the original name
//
// Unique indexes are recreated afterwards. Must run inside a transaction.
func rebuildTable(ctx context.Context, q querier, m typeMapper, logger *zap.Logger, table string, fields []models.FieldDefinition, current []datasource.ColumnDescriptor) error {
	columns := datasource.PhysicalColumns(fields)
	if err := checkColumnsMatch(table, columns, current); err != nil {
		return err
	}

	temp := rebuildTableName(table)
	logger.Info("Rebuilding table",
		zap.String("table", table),
		zap.String("temp_table", temp),
		zap.Int("columns", len(columns)))

	stmt, err := createTableStatement(m, temp, fields)
	if err != nil {
		return apperrors.Validationf("%v", err)
	}
	if _, err := q.ExecContext(ctx, stmt); err != nil {
		return apperrors.Storage("rebuild: create temp table", err)
	}

	list := quoteAll(columns)
	copyStmt := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s", quoteIdent(temp), list, list, quoteIdent(table))
	copied, err := q.ExecContext(ctx, copyStmt)
	if err != nil {
		return apperrors.Storage("rebuild: copy rows", err)
	}

	var original int64
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(table)).Scan(&original); err != nil {
		return apperrors.Storage("rebuild: count rows", err)
	}
	if n, err := copied.RowsAffected(); err == nil && n != original {
		return apperrors.Storage("rebuild: copy rows", fmt.Errorf("copied %d of %d rows", n, original))
	}

	if err := carrySequence(ctx, q, table, temp); err != nil {
		return err
	}

	if _, err := q.ExecContext(ctx, "DROP TABLE "+quoteIdent(table)); err != nil {
		return apperrors.Storage("rebuild: drop original", err)
	}
	if _, err := q.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", quoteIdent(temp), quoteIdent(table))); err != nil {
		return apperrors.Storage("rebuild: rename temp table", err)
	}

	for _, f := range fields {
		if !f.Unique {
			continue
		}
		if _, err := q.ExecContext(ctx, createUniqueIndexStatement(table, f.Name)); err != nil {
			return apperrors.Storage("rebuild: recreate unique index", err)
		}
	}

	logger.Info("Rebuilt table", zap.String("table", table), zap.Int64("rows", original))
	return nil
}

// carrySequence gives temp the sqlite_sequence value of table. The copy only
// saw the surviving ids, so without this deleted ids would be handed out again.
func carrySequence(ctx context.Context, q querier, table, temp string) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM sqlite_sequence WHERE name = ?", temp); err != nil {
		return apperrors.Storage("rebuild: reset sequence", err)
	}
	const stmt = `INSERT INTO sqlite_sequence (name, seq)
	SELECT ?, seq FROM sqlite_sequence WHERE name = ? COLLATE NOCASE`
	if _, err := q.ExecContext(ctx, stmt, temp, table); err != nil {
		return apperrors.Storage("rebuild: carry sequence", err)
	}
	return nil
}

func rebuildTableName(table string) string {
	return models.RebuildTablePrefix + table + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// checkColumnsMatch refuses a rebuild that would silently drop or invent columns.
func checkColumnsMatch(table string, want []string, current []datasource.ColumnDescriptor) error {
	have := make(map[string]bool, len(current))
	for _, c := range current {
		have[strings.ToLower(c.Name)] = true
	}

	var missing []string
	for _, name := range want {
		key := strings.ToLower(name)
		if !have[key] {
			missing = append(missing, name)
		}
		delete(have, key)
	}

	var extra []string
	for name := range have {
		extra = append(extra, name)
	}
	sort.Strings(extra)

	if len(missing) > 0 || len(extra) > 0 {
		return apperrors.SchemaConflictf("physical columns of %q do not match the field set (missing %v, unexpected %v)",
			table, missing, extra)
	}
	return nil
}
