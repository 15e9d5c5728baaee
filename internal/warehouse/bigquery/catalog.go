package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	bq "cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/duckmesh/querygate/internal/warehouse"
)

func (c *Client) ListSchemas(ctx context.Context) ([]string, error) {
	it := c.client.Datasets(ctx)
	var out []string
	for {
		dataset, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list datasets: %w", classify(err))
		}
		out = append(out, dataset.DatasetID)
	}
	sort.Strings(out)
	return out, nil
}

func (c *Client) ListTables(ctx context.Context, schema string) ([]string, error) {
	it := c.client.Dataset(schema).Tables(ctx)
	var out []string
	for {
		table, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list tables in %q: %w", schema, classify(err))
		}
		out = append(out, table.TableID)
	}
	sort.Strings(out)
	return out, nil
}

func (c *Client) TableColumns(ctx context.Context, schema, table string) ([]warehouse.Column, error) {
	metadata, err := c.client.Dataset(schema).Table(table).Metadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("table %s.%s metadata: %w", schema, table, classify(err))
	}
	return convertSchema(metadata.Schema), nil
}

func (c *Client) SchemaColumns(ctx context.Context, schema string) (map[string][]warehouse.Column, error) {
	tables, err := c.ListTables(ctx, schema)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]warehouse.Column, len(tables))
	for _, table := range tables {
		columns, err := c.TableColumns(ctx, schema, table)
		if err != nil {
			if errors.Is(err, warehouse.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out[table] = columns
	}
	return out, nil
}

// CreateSchema creates the dataset in the client location. An existing
// dataset is not an error.
func (c *Client) CreateSchema(ctx context.Context, schema string) error {
	err := c.client.Dataset(schema).Create(ctx, &bq.DatasetMetadata{Location: c.location})
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict {
		return nil
	}
	return fmt.Errorf("create dataset %q: %w", schema, classify(err))
}
