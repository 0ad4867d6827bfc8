package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ekaya-inc/ekaya-tables/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-tables/pkg/apperrors"
)

// resolveTable finds a user table in the default schema ignoring case and
// returns its stored name. An exact (binary) match wins over a folded one.
func resolveTable(ctx context.Context, q querier, name string) (string, bool, error) {
	const query = `
	SELECT TOP 1 t.name
	FROM sys.tables t
	WHERE t.schema_id = SCHEMA_ID()
	  AND t.is_ms_shipped = 0
	  AND LOWER(t.name) = LOWER(@p1)
	ORDER BY CASE WHEN t.name COLLATE Latin1_General_BIN2 = @p1 THEN 0 ELSE 1 END`

	var stored string
	err := q.QueryRowContext(ctx, query, name).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.Storage("table exists", err)
	}
	return stored, true, nil
}

// tableColumns returns the columns of table in column_id order. DataType is
// the full native declaration, e.g. NVARCHAR(MAX).
func tableColumns(ctx context.Context, q querier, table string) ([]datasource.ColumnDescriptor, error) {
	const query = `
	SELECT
	    c.name AS column_name,
	    tp.name AS data_type,
	    c.max_length,
	    c.precision,
	    c.scale,
	    CASE WHEN c.is_nullable = 1 THEN 1 ELSE 0 END AS is_nullable,
	    c.column_id AS ordinal_position,
	    CASE WHEN pk.column_id IS NOT NULL THEN 1 ELSE 0 END AS is_primary_key,
	    CASE WHEN uq.column_id IS NOT NULL THEN 1 ELSE 0 END AS is_unique,
	    dc.definition AS default_value
	FROM sys.columns c
	INNER JOIN sys.types tp ON c.user_type_id = tp.user_type_id
	LEFT JOIN (
	    SELECT ic.object_id, ic.column_id
	    FROM sys.index_columns ic
	    INNER JOIN sys.indexes i ON ic.object_id = i.object_id AND ic.index_id = i.index_id
	    WHERE i.is_primary_key = 1
	) pk ON c.object_id = pk.object_id AND c.column_id = pk.column_id
	LEFT JOIN (
	    SELECT DISTINCT ic.object_id, ic.column_id
	    FROM sys.index_columns ic
	    INNER JOIN sys.indexes i ON ic.object_id = i.object_id AND ic.index_id = i.index_id
	    WHERE i.is_unique = 1 AND i.is_primary_key = 0
	      AND (SELECT COUNT(*) FROM sys.index_columns x
	           WHERE x.object_id = i.object_id AND x.index_id = i.index_id AND x.is_included_column = 0) = 1
	) uq ON c.object_id = uq.object_id AND c.column_id = uq.column_id
	LEFT JOIN sys.default_constraints dc
	    ON dc.parent_object_id = c.object_id AND dc.parent_column_id = c.column_id
	WHERE c.object_id = OBJECT_ID(QUOTENAME(SCHEMA_NAME()) + N'.' + QUOTENAME(@p1))
	ORDER BY c.column_id`

	rows, err := q.QueryContext(ctx, query, table)
	if err != nil {
		return nil, apperrors.Storage("get table schema", err)
	}
	defer rows.Close()

	var columns []datasource.ColumnDescriptor
	for rows.Next() {
		var (
			col                           datasource.ColumnDescriptor
			typeName                      string
			maxLength, precision, scale   int
			isNullable, isPrimary, isUniq int
		)
		err := rows.Scan(&col.Name, &typeName, &maxLength, &precision, &scale,
			&isNullable, &col.OrdinalPosition, &isPrimary, &isUniq, &col.DefaultValue)
		if err != nil {
			return nil, apperrors.Storage("get table schema", fmt.Errorf("scan column row: %w", err))
		}

		col.DataType = renderSQLType(typeName, maxLength, precision, scale)
		col.IsNullable = isNullable == 1
		col.IsPrimaryKey = isPrimary == 1
		col.IsUnique = isUniq == 1 || col.IsPrimaryKey
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Storage("get table schema", err)
	}
	return columns, nil
}

type uniqueIndex struct {
	name       string
	constraint bool // created as a UNIQUE constraint rather than CREATE UNIQUE INDEX
}

// uniqueIndexes lists the single-column unique indexes and constraints on column.
func uniqueIndexes(ctx context.Context, q querier, table, column string) ([]uniqueIndex, error) {
	const query = `
	SELECT i.name, CASE WHEN i.is_unique_constraint = 1 THEN 1 ELSE 0 END
	FROM sys.indexes i
	INNER JOIN sys.index_columns ic ON ic.object_id = i.object_id AND ic.index_id = i.index_id
	INNER JOIN sys.columns c ON c.object_id = ic.object_id AND c.column_id = ic.column_id
	WHERE i.object_id = OBJECT_ID(QUOTENAME(SCHEMA_NAME()) + N'.' + QUOTENAME(@p1))
	  AND i.is_unique = 1 AND i.is_primary_key = 0
	  AND c.name = @p2
	  AND (SELECT COUNT(*) FROM sys.index_columns x
	       WHERE x.object_id = i.object_id AND x.index_id = i.index_id AND x.is_included_column = 0) = 1
	ORDER BY i.name`

	rows, err := q.QueryContext(ctx, query, table, column)
	if err != nil {
		return nil, apperrors.Storage("list unique indexes", err)
	}
	defer rows.Close()

	var result []uniqueIndex
	for rows.Next() {
		var (
			idx        uniqueIndex
			constraint int
		)
		if err := rows.Scan(&idx.name, &constraint); err != nil {
			return nil, apperrors.Storage("list unique indexes", err)
		}
		idx.constraint = constraint == 1
		result = append(result, idx)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Storage("list unique indexes", err)
	}
	return result, nil
}

// dropUniqueIndexes removes every single-column unique index or constraint on column.
func dropUniqueIndexes(ctx context.Context, q querier, table, column string) error {
	indexes, err := uniqueIndexes(ctx, q, table, column)
	if err != nil {
		return err
	}
	for _, idx := range indexes {
		stmt := fmt.Sprintf("DROP INDEX %s ON %s", quoteName(idx.name), quoteName(table))
		if idx.constraint {
			stmt = fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", quoteName(table), quoteName(idx.name))
		}
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return apperrors.Storage("drop unique index", err)
		}
	}
	return nil
}

// findDefaultConstraint returns the name of the DEFAULT constraint bound to column.
func findDefaultConstraint(ctx context.Context, q querier, table, column string) (string, bool, error) {
	const query = `
	SELECT dc.name
	FROM sys.default_constraints dc
	INNER JOIN sys.columns c ON c.object_id = dc.parent_object_id AND c.column_id = dc.parent_column_id
	WHERE dc.parent_object_id = OBJECT_ID(QUOTENAME(SCHEMA_NAME()) + N'.' + QUOTENAME(@p1))
	  AND c.name = @p2`

	var name string
	err := q.QueryRowContext(ctx, query, table, column).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.Storage("find default constraint", err)
	}
	return name, true, nil
}

// dropDefaultConstraint removes the DEFAULT constraint bound to column, if any.
// SQL Server refuses to drop a column that still has one.
func dropDefaultConstraint(ctx context.Context, q querier, table, column string) error {
	name, ok, err := findDefaultConstraint(ctx, q, table, column)
	if err != nil || !ok {
		return err
	}

	stmt := fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", quoteName(table), quoteName(name))
	if _, err := q.ExecContext(ctx, stmt); err != nil {
		return apperrors.Storage("drop default constraint", err)
	}
	return nil
}
