// Package duckdb is a local warehouse backend. Tables are parquet files in an
// object store, exposed as DuckDB views; jobs run on goroutines.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/duckmesh/querygate/internal/storage"
	"github.com/duckmesh/querygate/internal/warehouse"
)

var (
	_ warehouse.Client           = (*Backend)(nil)
	_ warehouse.Extractor        = (*Backend)(nil)
	_ warehouse.Catalog          = (*Backend)(nil)
	_ warehouse.IdentifierQuoter = (*Backend)(nil)
)

type Config struct {
	// Path is the DuckDB database file. Empty opens an in-memory database.
	Path string
	// DataStore holds parquet tables under tables/<schema>/<table>/.
	DataStore storage.ObjectStore
	// ExportStore receives extract output. Extracts are unsupported without it.
	ExportStore storage.ObjectStore
	Logger      *slog.Logger
}

type Backend struct {
	db          *sql.DB
	dataStore   storage.ObjectStore
	exportStore storage.ObjectStore
	workDir     string
	logger      *slog.Logger
	now         func() time.Time

	mu   sync.Mutex
	jobs map[string]*job
}

func Open(ctx context.Context, cfg Config) (*Backend, error) {
	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	workDir, err := os.MkdirTemp("", "querygate-duckdb-")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	backend := &Backend{
		db:          db,
		dataStore:   cfg.DataStore,
		exportStore: cfg.ExportStore,
		workDir:     workDir,
		logger:      logger,
		now:         time.Now,
		jobs:        map[string]*job{},
	}
	if backend.dataStore != nil {
		if err := backend.SyncTables(ctx); err != nil {
			_ = backend.Close()
			return nil, err
		}
	}
	return backend, nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	for _, j := range b.jobs {
		j.cancel()
	}
	b.mu.Unlock()
	err := b.db.Close()
	_ = os.RemoveAll(b.workDir)
	return err
}

// SyncTables downloads every parquet file under tables/ and (re)creates one
// view per schema.table over them.
func (b *Backend) SyncTables(ctx context.Context) error {
	if b.dataStore == nil {
		return fmt.Errorf("data store is required")
	}
	objects, err := b.dataStore.List(ctx, "tables/")
	if err != nil {
		return fmt.Errorf("list table files: %w", err)
	}

	grouped := map[string][]string{}
	var downloaded int64
	for index, object := range objects {
		schema, table, ok := storage.ParseTableDataKey(object.Key)
		if !ok {
			continue
		}
		localPath := filepath.Join(b.workDir, fmt.Sprintf("%s.%s_%d.parquet", schema, table, index))
		written, err := downloadObject(ctx, b.dataStore, object.Key, localPath)
		if err != nil {
			return err
		}
		downloaded += written
		qualified := schema + "." + table
		grouped[qualified] = append(grouped[qualified], localPath)
	}

	names := make([]string, 0, len(grouped))
	for name := range grouped {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		schema, table, _ := strings.Cut(name, ".")
		if _, err := b.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+quoteIdent(schema)); err != nil {
			return fmt.Errorf("create schema %q: %w", schema, err)
		}
		viewSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW %s.%s AS SELECT * FROM read_parquet(%s)`, quoteIdent(schema), quoteIdent(table), quoteStringArray(grouped[name]))
		if _, err := b.db.ExecContext(ctx, viewSQL); err != nil {
			return fmt.Errorf("create view for table %q: %w", name, err)
		}
	}
	b.logger.Info("duckdb tables synced", slog.Int("tables", len(names)), slog.Int64("bytes", downloaded))
	return nil
}

func (b *Backend) SubmitQuery(ctx context.Context, spec warehouse.QuerySpec) (warehouse.Job, error) {
	sqlText := stripTrailingSemicolons(spec.SQL)
	if sqlText == "" {
		return nil, fmt.Errorf("sql is required")
	}
	var destSchema, destTable string
	if spec.Destination != "" {
		var ok bool
		destSchema, destTable, ok = strings.Cut(spec.Destination, ".")
		if !ok || destSchema == "" || destTable == "" {
			return nil, fmt.Errorf("destination must be schema.table: %q", spec.Destination)
		}
	}

	return b.start(ctx, "query", func(runCtx context.Context, j *job) error {
		if destTable != "" {
			return b.runIntoTable(runCtx, sqlText, spec.Params, destSchema, destTable)
		}
		return b.runQuery(runCtx, j, sqlText, spec.Params)
	}), nil
}

func (b *Backend) SubmitExtract(ctx context.Context, spec warehouse.ExtractSpec) (warehouse.Job, error) {
	if b.exportStore == nil {
		return nil, fmt.Errorf("extract: %w", warehouse.ErrUnsupported)
	}
	schema, table, ok := strings.Cut(spec.Table, ".")
	if !ok || schema == "" || table == "" {
		return nil, fmt.Errorf("extract table must be schema.table: %q", spec.Table)
	}
	if !strings.Contains(spec.ObjectPattern, "*") {
		return nil, fmt.Errorf("extract object pattern must contain a wildcard: %q", spec.ObjectPattern)
	}

	return b.start(ctx, "extract", func(runCtx context.Context, j *job) error {
		key := strings.Replace(spec.ObjectPattern, "*", fmt.Sprintf("%012d", 0), 1)
		localPath := filepath.Join(b.workDir, j.id+".csv")
		options := "FORMAT CSV, HEADER true"
		if spec.Gzip {
			localPath += ".gz"
			options += ", COMPRESSION gzip"
		}
		defer func() { _ = os.Remove(localPath) }()

		copySQL := fmt.Sprintf(`COPY (SELECT * FROM %s.%s) TO %s (%s)`, quoteIdent(schema), quoteIdent(table), quoteString(localPath), options)
		if _, err := b.db.ExecContext(runCtx, copySQL); err != nil {
			return err
		}
		putOpts := storage.PutOptions{ContentType: "text/csv"}
		if spec.Gzip {
			putOpts.ContentEncoding = "gzip"
		}
		info, err := uploadFile(runCtx, b.exportStore, localPath, key, putOpts)
		if err != nil {
			return fmt.Errorf("upload extract: %w", err)
		}
		j.setStats(func(stats *warehouse.UsageStats) { stats.BytesProcessed = info.Size })
		return nil
	}), nil
}

// OpenCursor runs sqlText and returns its rows lazily. The query is bound to
// ctx; cancelling it ends the cursor.
func (b *Backend) OpenCursor(ctx context.Context, sqlText string, params []any) (warehouse.Cursor, error) {
	sqlText = stripTrailingSemicolons(sqlText)
	if sqlText == "" {
		return nil, fmt.Errorf("sql is required")
	}
	rows, err := b.db.QueryContext(ctx, sqlText, params...)
	if err != nil {
		return nil, fmt.Errorf("open cursor: %w", err)
	}
	return newCursor(rows)
}

func (b *Backend) start(ctx context.Context, kind string, run func(context.Context, *job) error) *job {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	j := newJob(uuid.NewString(), cancel, b.now())

	b.mu.Lock()
	b.jobs[j.id] = j
	b.mu.Unlock()

	go func() {
		defer cancel()
		err := run(runCtx, j)
		if err != nil && runCtx.Err() != nil {
			err = fmt.Errorf("job cancelled: %w", runCtx.Err())
		}
		j.finish(b.now(), err)

		b.mu.Lock()
		delete(b.jobs, j.id)
		b.mu.Unlock()

		if err != nil {
			b.logger.Warn("duckdb job failed", slog.String("job_id", j.id), slog.String("kind", kind), slog.Any("error", err))
			return
		}
		b.logger.Debug("duckdb job done", slog.String("job_id", j.id), slog.String("kind", kind))
	}()
	return j
}

func (b *Backend) runQuery(ctx context.Context, j *job, sqlText string, params []any) error {
	rows, err := b.db.QueryContext(ctx, sqlText, params...)
	if err != nil {
		return err
	}
	cursor, err := newCursor(rows)
	if err != nil {
		return err
	}
	defer func() { _ = cursor.Close() }()

	result := warehouse.Rows{Columns: cursor.columns}
	for {
		row, err := cursor.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		result.Rows = append(result.Rows, row)
	}
	j.setRows(result)
	return nil
}

func (b *Backend) runIntoTable(ctx context.Context, sqlText string, params []any, schema, table string) error {
	if _, err := b.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+quoteIdent(schema)); err != nil {
		return err
	}
	createSQL := fmt.Sprintf("CREATE TABLE %s.%s AS %s", quoteIdent(schema), quoteIdent(table), sqlText)
	_, err := b.db.ExecContext(ctx, createSQL, params...)
	return err
}

// QuoteIdentifier double-quotes each dotted part.
func (b *Backend) QuoteIdentifier(name string) string {
	parts := strings.Split(name, ".")
	for i, part := range parts {
		parts[i] = quoteIdent(part)
	}
	return strings.Join(parts, ".")
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

func quoteStringArray(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, quoteString(value))
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
