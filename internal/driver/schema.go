package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/duckmesh/querygate/internal/warehouse"
)

// TablesSchema is schema -> table -> columns.
type TablesSchema map[string]map[string][]warehouse.Column

// TablesSchema introspects every schema in parallel. Schemas the
// credentials cannot read are left out.
func (d *Driver) TablesSchema(ctx context.Context) (TablesSchema, error) {
	catalog, err := d.requireCatalog()
	if err != nil {
		return nil, err
	}
	schemas, err := catalog.ListSchemas(ctx)
	if err != nil {
		return nil, fmt.Errorf("list schemas: %w", err)
	}

	out := TablesSchema{}
	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(d.cfg.Concurrency)
	for _, schema := range schemas {
		group.Go(func() error {
			columns, err := catalog.SchemaColumns(groupCtx, schema)
			if errors.Is(err, warehouse.ErrPermissionDenied) {
				d.logger.Warn("skipping unreadable schema", slog.String("schema", schema), slog.Any("error", err))
				return nil
			}
			if err != nil {
				return fmt.Errorf("introspect schema %q: %w", schema, err)
			}
			mu.Lock()
			out[schema] = columns
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// TableColumnTypes returns the columns of "schema.table" with generic types.
func (d *Driver) TableColumnTypes(ctx context.Context, table string) ([]warehouse.Column, error) {
	catalog, err := d.requireCatalog()
	if err != nil {
		return nil, err
	}
	schema, name, err := splitTable(table)
	if err != nil {
		return nil, err
	}
	columns, err := catalog.TableColumns(ctx, schema, name)
	if err != nil {
		return nil, err
	}
	out := make([]warehouse.Column, 0, len(columns))
	for _, column := range columns {
		out = append(out, warehouse.Column{Name: column.Name, Type: warehouse.ToGenericType(column.Type)})
	}
	return out, nil
}

// GetTables lists table names in schema. A missing schema has no tables.
func (d *Driver) GetTables(ctx context.Context, schema string) ([]string, error) {
	catalog, err := d.requireCatalog()
	if err != nil {
		return nil, err
	}
	tables, err := catalog.ListTables(ctx, schema)
	if errors.Is(err, warehouse.ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return tables, nil
}

func (d *Driver) CreateSchemaIfNotExists(ctx context.Context, schema string) error {
	if d.cfg.ReadOnly {
		return fmt.Errorf("create schema %s: %w", schema, ErrReadOnly)
	}
	catalog, err := d.requireCatalog()
	if err != nil {
		return err
	}
	return catalog.CreateSchema(ctx, schema)
}

func (d *Driver) requireCatalog() (warehouse.Catalog, error) {
	if d.catalog == nil {
		return nil, fmt.Errorf("catalog: %w", warehouse.ErrUnsupported)
	}
	return d.catalog, nil
}
