package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-tables/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-tables/pkg/apperrors"
)

// tableColumns reads pragma_table_info and marks columns covered by a
// single-column unique index.
func tableColumns(ctx context.Context, q querier, table string) ([]datasource.ColumnDescriptor, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT cid, name, type, "notnull", dflt_value, pk FROM pragma_table_info(?1) ORDER BY cid`, table)
	if err != nil {
		return nil, apperrors.Storage("get table schema", err)
	}
	defer rows.Close()

	var cols []datasource.ColumnDescriptor
	for rows.Next() {
		var (
			cid, notNull, pk int64
			name, dataType   string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &dflt, &pk); err != nil {
			return nil, apperrors.Storage("get table schema", err)
		}
		col := datasource.ColumnDescriptor{
			Name:            name,
			DataType:        dataType,
			IsNullable:      notNull == 0 && pk == 0,
			IsPrimaryKey:    pk > 0,
			IsUnique:        pk > 0,
			OrdinalPosition: int(cid) + 1,
		}
		if dflt.Valid {
			v := dflt.String
			col.DefaultValue = &v
		}
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Storage("get table schema", err)
	}

	indexes, err := uniqueIndexes(ctx, q, table)
	if err != nil {
		return nil, err
	}
	for i := range cols {
		for _, idx := range indexes {
			if strings.EqualFold(idx.column, cols[i].Name) {
				cols[i].IsUnique = true
			}
		}
	}

	return cols, nil
}

type uniqueIndex struct {
	name   string
	column string
	origin string // "c" = CREATE INDEX, "u" = UNIQUE constraint, "pk" = primary key
}

// uniqueIndexes lists the single-column unique indexes of table.
func uniqueIndexes(ctx context.Context, q querier, table string) ([]uniqueIndex, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT il.name, il.origin, ii.name
		FROM pragma_index_list(?1) AS il, pragma_index_info(il.name) AS ii
		WHERE il."unique" = 1
		ORDER BY il.name`, table)
	if err != nil {
		return nil, apperrors.Storage("list indexes", err)
	}
	defer rows.Close()

	var (
		order   []string
		byIndex = make(map[string][]uniqueIndex)
	)
	for rows.Next() {
		var idx uniqueIndex
		var column sql.NullString
		if err := rows.Scan(&idx.name, &idx.origin, &column); err != nil {
			return nil, apperrors.Storage("list indexes", err)
		}
		idx.column = column.String
		if _, seen := byIndex[idx.name]; !seen {
			order = append(order, idx.name)
		}
		byIndex[idx.name] = append(byIndex[idx.name], idx)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Storage("list indexes", err)
	}

	var result []uniqueIndex
	for _, name := range order {
		if parts := byIndex[name]; len(parts) == 1 && parts[0].origin != "pk" {
			result = append(result, parts[0])
		}
	}
	return result, nil
}

// dropUniqueIndexes drops every single-column unique index covering column.
func dropUniqueIndexes(ctx context.Context, q querier, table, column string) error {
	indexes, err := uniqueIndexes(ctx, q, table)
	if err != nil {
		return err
	}
	for _, idx := range indexes {
		if !strings.EqualFold(idx.column, column) {
			continue
		}
		if idx.origin != "c" {
			return apperrors.SchemaConflictf("unique constraint %q on %q is part of the table definition", idx.name, table)
		}
		if _, err := q.ExecContext(ctx, "DROP INDEX "+quoteIdent(idx.name)); err != nil {
			return apperrors.Storage("drop index", err)
		}
	}
	return nil
}

// canonicalizeUniqueIndexes renames unique indexes on column to the name from datasource.UniqueIndexName.
func canonicalizeUniqueIndexes(ctx context.Context, q querier, table, column string) error {
	indexes, err := uniqueIndexes(ctx, q, table)
	if err != nil {
		return err
	}
	want := datasource.UniqueIndexName(table, column)
	for _, idx := range indexes {
		if idx.origin != "c" || !strings.EqualFold(idx.column, column) || idx.name == want {
			continue
		}
		if _, err := q.ExecContext(ctx, "DROP INDEX "+quoteIdent(idx.name)); err != nil {
			return apperrors.Storage("drop index", err)
		}
		if _, err := q.ExecContext(ctx, createUniqueIndexStatement(table, column)); err != nil {
			return apperrors.Storage(fmt.Sprintf("recreate index %s", want), err)
		}
	}
	return nil
}
