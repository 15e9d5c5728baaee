// Package driver is the query gateway's entry point into a warehouse: it runs
// jobs to completion through the poller, opens row streams through the shared
// registry, and wraps catalog introspection and bucket unloads.
package driver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/duckmesh/querygate/internal/observability"
	"github.com/duckmesh/querygate/internal/poller"
	"github.com/duckmesh/querygate/internal/storage"
	"github.com/duckmesh/querygate/internal/stream"
	"github.com/duckmesh/querygate/internal/warehouse"
)

const (
	DefaultConcurrency  = 10
	DefaultSignedURLTTL = time.Hour
)

var (
	ErrReadOnly       = errors.New("driver is read-only")
	ErrTooManyQueued  = errors.New("too many queued streams")
	ErrUnloadDisabled = errors.New("unload is not configured")
)

type Config struct {
	DataSource      string
	ReadOnly        bool
	Concurrency     int
	CSVEscapeSymbol string
	SignedURLTTL    time.Duration
	Poll            poller.Config
	Stream          stream.Options
	// MaxQueued caps streams waiting for their first row. Zero disables the cap.
	MaxQueued int
}

type Options struct {
	Config   Config
	Exports  storage.ExportStore
	Reporter poller.UsageReporter
	Registry *stream.Registry
	Logger   *slog.Logger
}

type Driver struct {
	client    warehouse.Client
	catalog   warehouse.Catalog
	extractor warehouse.Extractor
	exports   storage.ExportStore
	registry  *stream.Registry
	poller    *poller.Poller
	cfg       Config
	logger    *slog.Logger
}

func New(client warehouse.Client, opts Options) (*Driver, error) {
	if client == nil {
		return nil, fmt.Errorf("warehouse client is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cfg := opts.Config
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = DefaultSignedURLTTL
	}
	registry := opts.Registry
	if registry == nil {
		registry = stream.NewRegistry(logger)
	}

	d := &Driver{
		client:   client,
		exports:  opts.Exports,
		registry: registry,
		poller:   &poller.Poller{Config: cfg.Poll, Reporter: opts.Reporter, Logger: logger},
		cfg:      cfg,
		logger:   logger,
	}
	if catalog, ok := client.(warehouse.Catalog); ok {
		d.catalog = catalog
	}
	if extractor, ok := client.(warehouse.Extractor); ok {
		d.extractor = extractor
	}
	return d, nil
}

func (d *Driver) Close() error {
	return d.client.Close()
}

func (d *Driver) Registry() *stream.Registry { return d.registry }

func (d *Driver) ReadOnly() bool { return d.cfg.ReadOnly }

func (d *Driver) Concurrency() int { return d.cfg.Concurrency }

type JobSpec struct {
	SQL    string
	Params []any
	// Destination writes the results into "schema.table" instead of returning them.
	Destination string
	Timeout     time.Duration
	// MaxInterval nil uses the configured interval.
	MaxInterval *time.Duration
	WantResults bool
	Usage       warehouse.UsageContext
}

// RunJob submits spec and polls it to completion. Failures are
// *poller.JobExecutionError or *poller.JobTimeoutError.
func (d *Driver) RunJob(ctx context.Context, spec JobSpec) (poller.Result, error) {
	if strings.TrimSpace(spec.SQL) == "" {
		return poller.Result{}, fmt.Errorf("sql is required")
	}
	usage := d.usageContext(spec.Usage, "query")
	job, err := d.client.SubmitQuery(ctx, warehouse.QuerySpec{
		SQL:         spec.SQL,
		Params:      spec.Params,
		Destination: spec.Destination,
		Labels:      jobLabels(usage),
	})
	if err != nil {
		return poller.Result{}, fmt.Errorf("submit job: %w", err)
	}
	d.logger.Debug("job submitted", slog.String("job_id", job.ID()), slog.String("kind", usage.Kind), slog.String("query_key", usage.QueryKey))
	return d.poller.Run(ctx, poller.Request{
		Job:         job,
		Timeout:     spec.Timeout,
		MaxInterval: spec.MaxInterval,
		WantResults: spec.WantResults,
		Usage:       usage,
	})
}

type QueryOptions struct {
	Timeout     time.Duration
	MaxInterval *time.Duration
	Usage       warehouse.UsageContext
}

// Query runs sqlText as a job and returns its rows. Values wrapped as
// {"value": "..."} are flattened to the inner string.
func (d *Driver) Query(ctx context.Context, sqlText string, params []any, opts QueryOptions) (warehouse.Rows, error) {
	result, err := d.RunJob(ctx, JobSpec{
		SQL:         sqlText,
		Params:      params,
		Timeout:     opts.Timeout,
		MaxInterval: opts.MaxInterval,
		WantResults: true,
		Usage:       opts.Usage,
	})
	if err != nil {
		return warehouse.Rows{}, err
	}
	rows := result.Rows
	for i, row := range rows.Rows {
		rows.Rows[i] = unwrapRow(row)
	}
	return rows, nil
}

// TestConnection runs a trivial parameterized query.
func (d *Driver) TestConnection(ctx context.Context) error {
	rows, err := d.Query(ctx, "SELECT ? AS number", []any{"1"}, QueryOptions{Usage: warehouse.UsageContext{Kind: "test_connection"}})
	if err != nil {
		return fmt.Errorf("test connection: %w", err)
	}
	if len(rows.Rows) != 1 {
		return fmt.Errorf("test connection: expected one row, got %d", len(rows.Rows))
	}
	return nil
}

// LoadIntoTable materializes sqlText into table ("schema.table"), creating
// it when needed.
func (d *Driver) LoadIntoTable(ctx context.Context, table, sqlText string, params []any) error {
	if d.cfg.ReadOnly {
		return fmt.Errorf("load into %s: %w", table, ErrReadOnly)
	}
	if _, _, err := splitTable(table); err != nil {
		return err
	}
	_, err := d.RunJob(ctx, JobSpec{
		SQL:         sqlText,
		Params:      params,
		Destination: table,
		Usage:       warehouse.UsageContext{Kind: "load"},
	})
	if err != nil {
		return fmt.Errorf("load into %s: %w", table, err)
	}
	return nil
}

type StreamSpec struct {
	QueryKey string
	SQL      string
	Params   []any
	// Aliases maps remote column names to caller-facing member names.
	Aliases map[string]string
}

// Stream opens a cursor over spec.SQL and registers it under spec.QueryKey.
// The caller owns the returned stream and must drain or close it.
func (d *Driver) Stream(ctx context.Context, spec StreamSpec) (*stream.Stream, error) {
	key := strings.TrimSpace(spec.QueryKey)
	if key == "" {
		key = NewQueryKey(spec.SQL, spec.Params)
	}
	reservation, err := d.registry.Reserve(key, d.cfg.MaxQueued)
	if errors.Is(err, stream.ErrQueueFull) {
		observability.IncrementAdmissionRejection()
		return nil, fmt.Errorf("%w: %w", ErrTooManyQueued, err)
	}
	if err != nil {
		return nil, err
	}
	cursor, err := d.client.OpenCursor(ctx, spec.SQL, spec.Params)
	if err != nil {
		reservation.Release()
		return nil, fmt.Errorf("open stream %q: %w", key, err)
	}
	return reservation.Open(stream.RowRemap(spec.Aliases), cursor, d.cfg.Stream)
}

// QuoteIdentifier quotes a possibly dotted identifier in the backend's
// dialect.
func (d *Driver) QuoteIdentifier(name string) string {
	if quoter, ok := d.client.(warehouse.IdentifierQuoter); ok {
		return quoter.QuoteIdentifier(name)
	}
	parts := strings.Split(name, ".")
	for i, part := range parts {
		parts[i] = `"` + strings.ReplaceAll(part, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}

// NewQueryKey derives a stream key from the query text and parameters plus a
// random suffix, so identical concurrent queries stay distinct.
func NewQueryKey(sqlText string, params []any) string {
	hash := sha256.New()
	hash.Write([]byte(sqlText))
	if encoded, err := json.Marshal(params); err == nil {
		hash.Write(encoded)
	}
	return hex.EncodeToString(hash.Sum(nil))[:16] + "-" + uuid.NewString()
}

func (d *Driver) usageContext(usage warehouse.UsageContext, kind string) warehouse.UsageContext {
	if usage.Kind == "" {
		usage.Kind = kind
	}
	if usage.DataSource == "" {
		usage.DataSource = d.cfg.DataSource
	}
	return usage
}

func jobLabels(usage warehouse.UsageContext) map[string]string {
	labels := map[string]string{"querygate_kind": labelValue(usage.Kind)}
	if usage.DataSource != "" {
		labels["querygate_data_source"] = labelValue(usage.DataSource)
	}
	return labels
}

// labelValue keeps lower-case letters, digits, '-' and '_', and caps the
// length at 63.
func labelValue(value string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(value) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
		if b.Len() == 63 {
			break
		}
	}
	return b.String()
}

func unwrapRow(row warehouse.Row) warehouse.Row {
	for name, value := range row {
		wrapped, ok := value.(map[string]any)
		if !ok || len(wrapped) != 1 {
			continue
		}
		if inner, ok := wrapped["value"].(string); ok {
			row[name] = inner
		}
	}
	return row
}

func splitTable(table string) (string, string, error) {
	schema, name, ok := strings.Cut(strings.TrimSpace(table), ".")
	if !ok || schema == "" || name == "" || strings.Contains(name, ".") {
		return "", "", fmt.Errorf("table must be schema.table: %q", table)
	}
	return schema, name, nil
}
