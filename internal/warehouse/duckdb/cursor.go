package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"math/big"

	"github.com/duckmesh/querygate/internal/warehouse"
)

type cursor struct {
	rows    *sql.Rows
	names   []string
	columns []warehouse.Column
}

func newCursor(rows *sql.Rows) (*cursor, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("query columns: %w", err)
	}
	c := &cursor{rows: rows}
	for _, columnType := range types {
		c.names = append(c.names, columnType.Name())
		c.columns = append(c.columns, warehouse.Column{Name: columnType.Name(), Type: columnType.DatabaseTypeName()})
	}
	return c, nil
}

func (c *cursor) Next(ctx context.Context) (warehouse.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.rows.Next() {
		if err := c.rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate rows: %w", err)
		}
		return nil, io.EOF
	}
	values := make([]any, len(c.names))
	scanTargets := make([]any, len(c.names))
	for i := range values {
		scanTargets[i] = &values[i]
	}
	if err := c.rows.Scan(scanTargets...); err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}
	row := make(warehouse.Row, len(c.names))
	for i, name := range c.names {
		row[name] = normalizeValue(values[i])
	}
	return row, nil
}

func (c *cursor) Close() error {
	return c.rows.Close()
}

func normalizeValue(value any) any {
	switch typed := value.(type) {
	case []byte:
		return string(typed)
	case *big.Int:
		return typed.String()
	default:
		return typed
	}
}
