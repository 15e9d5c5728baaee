// Package bigquery is the Google BigQuery warehouse backend.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	bq "cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"

	"github.com/duckmesh/querygate/internal/gcpauth"
	"github.com/duckmesh/querygate/internal/warehouse"
)

var (
	_ warehouse.Client           = (*Client)(nil)
	_ warehouse.Extractor        = (*Client)(nil)
	_ warehouse.Catalog          = (*Client)(nil)
	_ warehouse.IdentifierQuoter = (*Client)(nil)
)

var bareIdentifierPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

type Config struct {
	ProjectID string
	KeyFile   string
	// Credentials is base64 encoded service account JSON.
	Credentials string
	Location    string
	Logger      *slog.Logger
}

type Client struct {
	client   *bq.Client
	location string
	logger   *slog.Logger
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	projectID := strings.TrimSpace(cfg.ProjectID)
	if projectID == "" {
		projectID = bq.DetectProjectID
	}
	opts, err := gcpauth.ClientOptions(cfg.KeyFile, cfg.Credentials)
	if err != nil {
		return nil, err
	}
	c, err := bq.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bigquery client: %w", err)
	}
	location := strings.TrimSpace(cfg.Location)
	if location != "" {
		c.Location = location
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{client: c, location: location, logger: logger}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) SubmitQuery(ctx context.Context, spec warehouse.QuerySpec) (warehouse.Job, error) {
	if strings.TrimSpace(spec.SQL) == "" {
		return nil, fmt.Errorf("sql is required")
	}
	q := c.query(spec.SQL, spec.Params)
	if len(spec.Labels) > 0 {
		q.Labels = spec.Labels
	}
	if spec.Destination != "" {
		dataset, table, ok := strings.Cut(spec.Destination, ".")
		if !ok || dataset == "" || table == "" {
			return nil, fmt.Errorf("destination must be dataset.table: %q", spec.Destination)
		}
		q.Dst = c.client.Dataset(dataset).Table(table)
		q.CreateDisposition = bq.CreateIfNeeded
	}
	job, err := q.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("submit query: %w", classify(err))
	}
	c.logger.Debug("bigquery query submitted", slog.String("job_id", job.ID()), slog.String("location", job.Location()))
	return &remoteJob{job: job}, nil
}

func (c *Client) SubmitExtract(ctx context.Context, spec warehouse.ExtractSpec) (warehouse.Job, error) {
	dataset, table, ok := strings.Cut(spec.Table, ".")
	if !ok || dataset == "" || table == "" {
		return nil, fmt.Errorf("extract table must be dataset.table: %q", spec.Table)
	}
	if !strings.HasPrefix(spec.DestinationURI, "gs://") {
		return nil, fmt.Errorf("extract destination must be a gs:// uri: %q", spec.DestinationURI)
	}
	ref := bq.NewGCSReference(spec.DestinationURI)
	ref.DestinationFormat = bq.CSV
	if spec.Gzip {
		ref.Compression = bq.Gzip
	}
	extractor := c.client.Dataset(dataset).Table(table).ExtractorTo(ref)
	if c.location != "" {
		extractor.Location = c.location
	}
	job, err := extractor.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("submit extract: %w", classify(err))
	}
	c.logger.Debug("bigquery extract submitted", slog.String("job_id", job.ID()), slog.String("table", spec.Table))
	return &remoteJob{job: job}, nil
}

// OpenCursor runs the query and pages its rows as they are read. Cancelling
// ctx or closing the cursor stops paging.
func (c *Client) OpenCursor(ctx context.Context, sqlText string, params []any) (warehouse.Cursor, error) {
	if strings.TrimSpace(sqlText) == "" {
		return nil, fmt.Errorf("sql is required")
	}
	cursorCtx, cancel := context.WithCancel(ctx)
	it, err := c.query(sqlText, params).Read(cursorCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open cursor: %w", classify(err))
	}
	return &cursor{it: it, cancel: cancel}, nil
}

// QuoteIdentifier leaves lower-case snake parts bare and backquotes the rest.
func (c *Client) QuoteIdentifier(name string) string {
	return QuoteIdentifier(name)
}

func QuoteIdentifier(name string) string {
	parts := strings.Split(name, ".")
	for i, part := range parts {
		if !bareIdentifierPattern.MatchString(part) {
			parts[i] = "`" + strings.ReplaceAll(part, "`", "\\`") + "`"
		}
	}
	return strings.Join(parts, ".")
}

func (c *Client) query(sqlText string, params []any) *bq.Query {
	q := c.client.Query(sqlText)
	if c.location != "" {
		q.Location = c.location
	}
	q.Parameters = positionalParameters(params)
	return q
}

func positionalParameters(params []any) []bq.QueryParameter {
	if len(params) == 0 {
		return nil
	}
	out := make([]bq.QueryParameter, 0, len(params))
	for _, param := range params {
		out = append(out, bq.QueryParameter{Value: param})
	}
	return out
}

// classify maps API errors onto warehouse sentinels so callers can decide
// whether to retry.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.Code {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %v", warehouse.ErrNotFound, err)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %v", warehouse.ErrPermissionDenied, err)
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %v", warehouse.ErrTransient, err)
	default:
		return err
	}
}
