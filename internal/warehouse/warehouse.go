// Package warehouse defines the capabilities querygate needs from a remote
// analytical backend. Backends live in subpackages.
package warehouse

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUnsupported = errors.New("warehouse: operation not supported by backend")
	ErrTransient   = errors.New("warehouse: transient failure")
	ErrNotFound    = errors.New("warehouse: not found")

	// ErrPermissionDenied marks objects the credentials cannot read.
	ErrPermissionDenied = errors.New("warehouse: permission denied")
)

type State string

const (
	StatePending State = "PENDING"
	StateRunning State = "RUNNING"
	StateDone    State = "DONE"
)

// ErrorPayload is the structured error a backend attaches to a finished job.
type ErrorPayload struct {
	Reason   string `json:"reason,omitempty"`
	Location string `json:"location,omitempty"`
	Message  string `json:"message,omitempty"`
}

type UsageStats struct {
	JobID          string        `json:"job_id"`
	BytesProcessed int64         `json:"bytes_processed"`
	BytesBilled    int64         `json:"bytes_billed"`
	SlotMillis     int64         `json:"slot_millis"`
	CacheHit       bool          `json:"cache_hit"`
	StartedAt      time.Time     `json:"started_at"`
	EndedAt        time.Time     `json:"ended_at"`
	Duration       time.Duration `json:"duration"`
}

// Status is one observation of a remote job. Stats is only meaningful once
// the job is done.
type Status struct {
	State State
	Error *ErrorPayload
	Stats *UsageStats
}

func (s Status) Done() bool {
	return s.State == StateDone
}

type Row map[string]any

type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type Rows struct {
	Columns []Column
	Rows    []Row
}

// Job is a handle to one submitted unit of remote work.
type Job interface {
	ID() string
	Status(ctx context.Context) (Status, error)
	Cancel(ctx context.Context) error
	Results(ctx context.Context) (Rows, error)
}

// Cursor is a lazy, finite, non-restartable sequence of raw rows keyed by
// remote field name. Next returns io.EOF once the sequence is exhausted.
type Cursor interface {
	Next(ctx context.Context) (Row, error)
	Close() error
}

type QuerySpec struct {
	SQL    string
	Params []any
	// Destination, when set, is a "schema.table" the results are written to.
	Destination string
	Labels      map[string]string
}

type ExtractSpec struct {
	Table string
	// ObjectPattern is the object key pattern relative to the export bucket,
	// e.g. "schema.table-*.csv.gz".
	ObjectPattern string
	// DestinationURI is the fully qualified pattern understood by the backend.
	DestinationURI string
	Gzip           bool
}

type Client interface {
	SubmitQuery(ctx context.Context, spec QuerySpec) (Job, error)
	OpenCursor(ctx context.Context, sql string, params []any) (Cursor, error)
	Close() error
}

type Extractor interface {
	SubmitExtract(ctx context.Context, spec ExtractSpec) (Job, error)
}

type Catalog interface {
	ListSchemas(ctx context.Context) ([]string, error)
	ListTables(ctx context.Context, schema string) ([]string, error)
	TableColumns(ctx context.Context, schema, table string) ([]Column, error)
	SchemaColumns(ctx context.Context, schema string) (map[string][]Column, error)
	CreateSchema(ctx context.Context, schema string) error
}

// IdentifierQuoter is implemented by backends with their own quoting rules
// for possibly dotted identifiers.
type IdentifierQuoter interface {
	QuoteIdentifier(name string) string
}

// UsageContext describes the request a job ran for. It travels with usage
// reports so observers can attribute cost.
type UsageContext struct {
	RequestID  string `json:"request_id,omitempty"`
	QueryKey   string `json:"query_key,omitempty"`
	DataSource string `json:"data_source,omitempty"`
	Kind       string `json:"kind,omitempty"`
}

// IsTransient reports whether err is a retryable backend failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}
	var timeout interface{ Timeout() bool }
	return errors.As(err, &timeout) && timeout.Timeout()
}
