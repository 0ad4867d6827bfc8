package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-tables/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-tables/pkg/apperrors"
)

// resolveTable finds a base table in the current schema ignoring case and
// returns its stored name. An exact match wins over a case-folded one.
func resolveTable(ctx context.Context, q querier, name string) (string, bool, error) {
	const query = `
		SELECT table_name::text
		FROM information_schema.tables
		WHERE table_schema = current_schema()
		  AND table_type = 'BASE TABLE'
		  AND lower(table_name::text) = lower($1::text)
		ORDER BY (table_name::text = $1::text) DESC
		LIMIT 1`

	var stored string
	err := q.QueryRow(ctx, query, name).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.Storage("table exists", err)
	}
	return stored, true, nil
}

// tableColumns returns columns of table in the current schema. Uses pg_index
// for primary key and unique detection, counting single-column indexes only.
func tableColumns(ctx context.Context, q querier, table string) ([]datasource.ColumnDescriptor, error) {
	const query = `
		SELECT
			c.column_name::text,
			c.data_type::text,
			c.is_nullable = 'YES' AS is_nullable,
			COALESCE(pk.is_pk, false) AS is_primary_key,
			COALESCE(uq.is_unique, false) AS is_unique,
			c.ordinal_position::int,
			c.column_default::text
		FROM information_schema.columns c
		LEFT JOIN (
			SELECT a.attname AS column_name, true AS is_pk
			FROM pg_index ix
			JOIN pg_class t ON t.oid = ix.indrelid
			JOIN pg_namespace n ON n.oid = t.relnamespace
			JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
			WHERE ix.indisprimary = true
			  AND n.nspname = current_schema()
			  AND t.relname = $1
			  AND array_length(ix.indkey, 1) = 1
		) pk ON c.column_name = pk.column_name
		LEFT JOIN (
			SELECT DISTINCT a.attname AS column_name, true AS is_unique
			FROM pg_index ix
			JOIN pg_class t ON t.oid = ix.indrelid
			JOIN pg_namespace n ON n.oid = t.relnamespace
			JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
			WHERE ix.indisunique = true
			  AND ix.indisprimary = false
			  AND n.nspname = current_schema()
			  AND t.relname = $1
			  AND array_length(ix.indkey, 1) = 1
		) uq ON c.column_name = uq.column_name
		WHERE c.table_schema = current_schema() AND c.table_name = $1
		ORDER BY c.ordinal_position`

	rows, err := q.Query(ctx, query, table)
	if err != nil {
		return nil, apperrors.Storage("get table schema", err)
	}
	defer rows.Close()

	var columns []datasource.ColumnDescriptor
	for rows.Next() {
		var c datasource.ColumnDescriptor
		if err := rows.Scan(&c.Name, &c.DataType, &c.IsNullable, &c.IsPrimaryKey, &c.IsUnique, &c.OrdinalPosition, &c.DefaultValue); err != nil {
			return nil, apperrors.Storage("get table schema", err)
		}
		if c.IsPrimaryKey {
			c.IsUnique = true
		}
		columns = append(columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Storage("get table schema", err)
	}
	return columns, nil
}

// uniqueConstraints lists single-column UNIQUE constraints on column.
func uniqueConstraints(ctx context.Context, q querier, table, column string) ([]string, error) {
	const query = `
		SELECT con.conname::text
		FROM pg_constraint con
		JOIN pg_class t ON t.oid = con.conrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = con.conkey[1]
		WHERE con.contype = 'u'
		  AND array_length(con.conkey, 1) = 1
		  AND n.nspname = current_schema()
		  AND t.relname = $1
		  AND a.attname = $2
		ORDER BY con.conname`

	rows, err := q.Query(ctx, query, table, column)
	if err != nil {
		return nil, apperrors.Storage("list unique constraints", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, apperrors.Storage("list unique constraints", err)
	}
	return names, nil
}

// dropUniqueConstraints removes every single-column unique constraint on column.
func dropUniqueConstraints(ctx context.Context, q querier, table, column string) error {
	names, err := uniqueConstraints(ctx, q, table, column)
	if err != nil {
		return err
	}
	for _, name := range names {
		stmt := fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", quoteIdent(table), quoteIdent(name))
		if _, err := q.Exec(ctx, stmt); err != nil {
			return apperrors.Storage("drop unique constraint", err)
		}
	}
	return nil
}
