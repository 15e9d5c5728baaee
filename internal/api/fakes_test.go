package api

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/duckmesh/querygate/internal/config"
	"github.com/duckmesh/querygate/internal/driver"
	"github.com/duckmesh/querygate/internal/storage"
	"github.com/duckmesh/querygate/internal/usage"
	"github.com/duckmesh/querygate/internal/warehouse"
)

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func loadConfig(t *testing.T, values map[string]string) config.Config {
	t.Helper()
	cfg, err := config.Load("querygate-api", mapLookup(values))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	return cfg
}

func newTestDriver(t *testing.T, client *fakeWarehouse, cfg driver.Config, exports storage.ExportStore) *driver.Driver {
	t.Helper()
	d, err := driver.New(client, driver.Options{Config: cfg, Exports: exports})
	if err != nil {
		t.Fatalf("driver.New() error = %v", err)
	}
	return d
}

func rowsOf(column string, values ...any) warehouse.Rows {
	rows := warehouse.Rows{Columns: []warehouse.Column{{Name: column, Type: "STRING"}}}
	for _, value := range values {
		rows.Rows = append(rows.Rows, warehouse.Row{column: value})
	}
	return rows
}

type fakeWarehouse struct {
	mu         sync.Mutex
	queries    []warehouse.QuerySpec
	rows       warehouse.Rows
	failure    *warehouse.ErrorPayload
	neverDone  bool
	cancels    int
	cursorRows []warehouse.Row
	cursorErr  error
	schemas    map[string]map[string][]warehouse.Column
	exports    *fakeExports
}

func (f *fakeWarehouse) SubmitQuery(_ context.Context, spec warehouse.QuerySpec) (warehouse.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, spec)
	return &fakeJob{warehouse: f, id: fmt.Sprintf("job-%d", len(f.queries))}, nil
}

func (f *fakeWarehouse) SubmitExtract(_ context.Context, spec warehouse.ExtractSpec) (warehouse.Job, error) {
	key, err := storage.BuildExportShardKey(spec.Table, 0)
	if err != nil {
		return nil, err
	}
	f.exports.keys = append(f.exports.keys, key)
	return &fakeJob{warehouse: f, id: "extract-1"}, nil
}

func (f *fakeWarehouse) OpenCursor(context.Context, string, []any) (warehouse.Cursor, error) {
	return &fakeCursor{rows: append([]warehouse.Row(nil), f.cursorRows...), err: f.cursorErr}, nil
}

func (f *fakeWarehouse) Close() error { return nil }

func (f *fakeWarehouse) ListSchemas(context.Context) ([]string, error) {
	var out []string
	for schema := range f.schemas {
		out = append(out, schema)
	}
	return out, nil
}

func (f *fakeWarehouse) ListTables(_ context.Context, schema string) ([]string, error) {
	tables, ok := f.schemas[schema]
	if !ok {
		return nil, warehouse.ErrNotFound
	}
	var out []string
	for table := range tables {
		out = append(out, table)
	}
	return out, nil
}

func (f *fakeWarehouse) TableColumns(_ context.Context, schema, table string) ([]warehouse.Column, error) {
	columns, ok := f.schemas[schema][table]
	if !ok {
		return nil, fmt.Errorf("table %s.%s: %w", schema, table, warehouse.ErrNotFound)
	}
	return columns, nil
}

func (f *fakeWarehouse) SchemaColumns(_ context.Context, schema string) (map[string][]warehouse.Column, error) {
	return f.schemas[schema], nil
}

func (f *fakeWarehouse) CreateSchema(context.Context, string) error { return nil }

func (f *fakeWarehouse) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancels
}

type fakeJob struct {
	warehouse *fakeWarehouse
	id        string
}

func (j *fakeJob) ID() string { return j.id }

func (j *fakeJob) Status(context.Context) (warehouse.Status, error) {
	switch {
	case j.warehouse.neverDone:
		return warehouse.Status{State: warehouse.StatePending}, nil
	case j.warehouse.failure != nil:
		return warehouse.Status{State: warehouse.StateDone, Error: j.warehouse.failure}, nil
	default:
		return warehouse.Status{State: warehouse.StateDone, Stats: &warehouse.UsageStats{JobID: j.id, BytesProcessed: 512}}, nil
	}
}

func (j *fakeJob) Cancel(context.Context) error {
	j.warehouse.mu.Lock()
	defer j.warehouse.mu.Unlock()
	j.warehouse.cancels++
	return nil
}

func (j *fakeJob) Results(context.Context) (warehouse.Rows, error) {
	return j.warehouse.rows, nil
}

type fakeCursor struct {
	rows []warehouse.Row
	err  error
}

func (c *fakeCursor) Next(context.Context) (warehouse.Row, error) {
	if len(c.rows) == 0 {
		if c.err != nil {
			return nil, c.err
		}
		return nil, io.EOF
	}
	row := c.rows[0]
	c.rows = c.rows[1:]
	return row, nil
}

func (c *fakeCursor) Close() error { return nil }

type fakeExports struct {
	keys []string
}

func (f *fakeExports) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	var out []storage.ObjectInfo
	for _, key := range f.keys {
		if strings.HasPrefix(key, prefix) {
			out = append(out, storage.ObjectInfo{Key: key})
		}
	}
	return out, nil
}

func (f *fakeExports) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://signed.example/" + key, nil
}

func (f *fakeExports) URI(key string) string { return "gs://exports/" + key }

type fakeUsage struct {
	records []usage.Record
	kind    string
	limit   int
}

func (f *fakeUsage) ListRecent(_ context.Context, kind string, limit int) ([]usage.Record, error) {
	f.kind = kind
	f.limit = limit
	return f.records, nil
}
