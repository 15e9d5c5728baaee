package bigquery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	bq "cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/duckmesh/querygate/internal/warehouse"
)

type cursor struct {
	it     *bq.RowIterator
	cancel context.CancelFunc
}

func (c *cursor) Next(ctx context.Context) (warehouse.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var values map[string]bq.Value
	err := c.it.Next(&values)
	if errors.Is(err, iterator.Done) {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("iterate rows: %w", classify(err))
	}
	return convertRow(values), nil
}

func (c *cursor) Close() error {
	c.cancel()
	return nil
}

func convertRow(values map[string]bq.Value) warehouse.Row {
	row := make(warehouse.Row, len(values))
	for name, value := range values {
		row[name] = normalizeValue(value)
	}
	return row
}

// normalizeValue turns client library values into JSON friendly ones. NUMERIC
// keeps its exact decimal text and civil dates render as ISO strings.
func normalizeValue(value bq.Value) any {
	switch v := value.(type) {
	case nil:
		return nil
	case time.Time:
		return v
	case *big.Rat:
		if v == nil {
			return nil
		}
		return bq.NumericString(v)
	case []byte:
		return v
	case []bq.Value:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalizeValue(item)
		}
		return out
	case map[string]bq.Value:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = normalizeValue(item)
		}
		return out
	case fmt.Stringer:
		return v.String()
	default:
		return v
	}
}
