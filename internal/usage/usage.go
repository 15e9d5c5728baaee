// Package usage records what each finished warehouse job cost.
package usage

import (
	"context"
	"errors"
	"time"

	"github.com/duckmesh/querygate/internal/observability"
	"github.com/duckmesh/querygate/internal/warehouse"
)

// Record is one usage log entry.
type Record struct {
	ID             int64     `json:"id"`
	JobID          string    `json:"job_id"`
	RequestID      string    `json:"request_id,omitempty"`
	QueryKey       string    `json:"query_key,omitempty"`
	DataSource     string    `json:"data_source,omitempty"`
	Kind           string    `json:"kind"`
	BytesProcessed int64     `json:"bytes_processed"`
	BytesBilled    int64     `json:"bytes_billed"`
	SlotMillis     int64     `json:"slot_millis"`
	CacheHit       bool      `json:"cache_hit"`
	DurationMS     int64     `json:"duration_ms"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at"`
	RecordedAt     time.Time `json:"recorded_at"`
}

func NewRecord(stats warehouse.UsageStats, usage warehouse.UsageContext) Record {
	kind := usage.Kind
	if kind == "" {
		kind = "query"
	}
	return Record{
		JobID:          stats.JobID,
		RequestID:      usage.RequestID,
		QueryKey:       usage.QueryKey,
		DataSource:     usage.DataSource,
		Kind:           kind,
		BytesProcessed: stats.BytesProcessed,
		BytesBilled:    stats.BytesBilled,
		SlotMillis:     stats.SlotMillis,
		CacheHit:       stats.CacheHit,
		DurationMS:     stats.Duration.Milliseconds(),
		StartedAt:      stats.StartedAt,
		EndedAt:        stats.EndedAt,
	}
}

type Reporter interface {
	ReportUsage(ctx context.Context, stats warehouse.UsageStats, usage warehouse.UsageContext) error
}

// Fanout reports to every reporter in order and joins their errors.
type Fanout []Reporter

func (f Fanout) ReportUsage(ctx context.Context, stats warehouse.UsageStats, usage warehouse.UsageContext) error {
	var errs []error
	for _, reporter := range f {
		if reporter == nil {
			continue
		}
		if err := reporter.ReportUsage(ctx, stats, usage); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Metrics feeds the bytes processed and billed counters.
type Metrics struct{}

func (Metrics) ReportUsage(_ context.Context, stats warehouse.UsageStats, usage warehouse.UsageContext) error {
	observability.ObserveJobUsage(usage.Kind, stats.BytesProcessed, stats.BytesBilled)
	return nil
}
