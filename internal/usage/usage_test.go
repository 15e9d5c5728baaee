package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/duckmesh/querygate/internal/warehouse"
)

func TestNewRecordDefaultsKind(t *testing.T) {
	record := NewRecord(warehouse.UsageStats{JobID: "job-1", BytesProcessed: 10, Duration: 1500 * time.Millisecond}, warehouse.UsageContext{QueryKey: "Q1"})
	if record.Kind != "query" || record.JobID != "job-1" || record.QueryKey != "Q1" || record.DurationMS != 1500 {
		t.Fatalf("record = %+v", record)
	}
}

func TestFanoutCallsEveryReporter(t *testing.T) {
	first := &countingReporter{}
	failing := &countingReporter{err: errors.New("log down")}
	last := &countingReporter{}

	err := Fanout{first, nil, failing, last}.ReportUsage(context.Background(), warehouse.UsageStats{JobID: "job-1"}, warehouse.UsageContext{})
	if err == nil || err.Error() != "log down" {
		t.Fatalf("ReportUsage() error = %v", err)
	}
	if first.calls != 1 || failing.calls != 1 || last.calls != 1 {
		t.Fatalf("calls = %d %d %d", first.calls, failing.calls, last.calls)
	}
}

func TestMetricsNeverFails(t *testing.T) {
	if err := (Metrics{}).ReportUsage(context.Background(), warehouse.UsageStats{BytesProcessed: 1, BytesBilled: 2}, warehouse.UsageContext{Kind: "unload"}); err != nil {
		t.Fatalf("ReportUsage() error = %v", err)
	}
}

type countingReporter struct {
	calls int
	err   error
}

func (r *countingReporter) ReportUsage(context.Context, warehouse.UsageStats, warehouse.UsageContext) error {
	r.calls++
	return r.err
}
