package duckdb

import (
	"context"
	"fmt"

	"github.com/duckmesh/querygate/internal/warehouse"
)

const listSchemasSQL = `
SELECT schema_name
FROM information_schema.schemata
WHERE catalog_name = current_database()
  AND schema_name NOT IN ('information_schema', 'pg_catalog')
ORDER BY schema_name`

const listTablesSQL = `
SELECT table_name
FROM information_schema.tables
WHERE table_catalog = current_database() AND table_schema = ?
ORDER BY table_name`

const schemaColumnsSQL = `
SELECT table_name, column_name, data_type
FROM information_schema.columns
WHERE table_catalog = current_database() AND table_schema = ?
ORDER BY table_name, ordinal_position`

func (b *Backend) ListSchemas(ctx context.Context) ([]string, error) {
	return b.queryStrings(ctx, listSchemasSQL)
}

func (b *Backend) ListTables(ctx context.Context, schema string) ([]string, error) {
	return b.queryStrings(ctx, listTablesSQL, schema)
}

func (b *Backend) TableColumns(ctx context.Context, schema, table string) ([]warehouse.Column, error) {
	columns, err := b.SchemaColumns(ctx, schema)
	if err != nil {
		return nil, err
	}
	tableColumns, ok := columns[table]
	if !ok {
		return nil, fmt.Errorf("table %s.%s: %w", schema, table, warehouse.ErrNotFound)
	}
	return tableColumns, nil
}

func (b *Backend) SchemaColumns(ctx context.Context, schema string) (map[string][]warehouse.Column, error) {
	rows, err := b.db.QueryContext(ctx, schemaColumnsSQL, schema)
	if err != nil {
		return nil, fmt.Errorf("query columns of schema %q: %w", schema, err)
	}
	defer func() { _ = rows.Close() }()

	out := map[string][]warehouse.Column{}
	for rows.Next() {
		var table string
		var column warehouse.Column
		if err := rows.Scan(&table, &column.Name, &column.Type); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		out[table] = append(out[table], column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return out, nil
}

func (b *Backend) CreateSchema(ctx context.Context, schema string) error {
	if schema == "" {
		return fmt.Errorf("schema is required")
	}
	if _, err := b.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+quoteIdent(schema)); err != nil {
		return fmt.Errorf("create schema %q: %w", schema, err)
	}
	return nil
}

func (b *Backend) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("scan catalog row: %w", err)
		}
		out = append(out, value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog rows: %w", err)
	}
	return out, nil
}
