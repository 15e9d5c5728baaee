package bigquery

import (
	"context"
	"errors"
	"fmt"

	bq "cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/duckmesh/querygate/internal/warehouse"
)

type remoteJob struct {
	job *bq.Job
}

func (j *remoteJob) ID() string { return j.job.ID() }

func (j *remoteJob) Status(ctx context.Context) (warehouse.Status, error) {
	status, err := j.job.Status(ctx)
	if err != nil {
		return warehouse.Status{}, fmt.Errorf("job %s status: %w", j.job.ID(), classify(err))
	}
	return convertStatus(j.job.ID(), status), nil
}

func (j *remoteJob) Cancel(ctx context.Context) error {
	if err := j.job.Cancel(ctx); err != nil {
		return fmt.Errorf("cancel job %s: %w", j.job.ID(), classify(err))
	}
	return nil
}

func (j *remoteJob) Results(ctx context.Context) (warehouse.Rows, error) {
	it, err := j.job.Read(ctx)
	if err != nil {
		return warehouse.Rows{}, fmt.Errorf("read job %s: %w", j.job.ID(), classify(err))
	}
	var out warehouse.Rows
	for {
		var values map[string]bq.Value
		err := it.Next(&values)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return warehouse.Rows{}, fmt.Errorf("read job %s: %w", j.job.ID(), classify(err))
		}
		out.Rows = append(out.Rows, convertRow(values))
	}
	out.Columns = convertSchema(it.Schema)
	return out, nil
}

func convertStatus(jobID string, status *bq.JobStatus) warehouse.Status {
	if status == nil {
		return warehouse.Status{State: warehouse.StatePending}
	}
	switch status.State {
	case bq.Running:
		return warehouse.Status{State: warehouse.StateRunning}
	case bq.Done:
	default:
		return warehouse.Status{State: warehouse.StatePending}
	}
	out := warehouse.Status{State: warehouse.StateDone}
	if err := status.Err(); err != nil {
		out.Error = errorPayload(err)
		return out
	}
	out.Stats = convertStats(jobID, status.Statistics)
	return out
}

func errorPayload(err error) *warehouse.ErrorPayload {
	var remote *bq.Error
	if errors.As(err, &remote) {
		return &warehouse.ErrorPayload{Reason: remote.Reason, Location: remote.Location, Message: remote.Message}
	}
	return &warehouse.ErrorPayload{Message: err.Error()}
}

func convertStats(jobID string, stats *bq.JobStatistics) *warehouse.UsageStats {
	out := &warehouse.UsageStats{JobID: jobID}
	if stats == nil {
		return out
	}
	out.BytesProcessed = stats.TotalBytesProcessed
	out.StartedAt = stats.StartTime
	out.EndedAt = stats.EndTime
	if !stats.StartTime.IsZero() && stats.EndTime.After(stats.StartTime) {
		out.Duration = stats.EndTime.Sub(stats.StartTime)
	}
	if details, ok := stats.Details.(*bq.QueryStatistics); ok && details != nil {
		out.BytesBilled = details.TotalBytesBilled
		out.SlotMillis = details.SlotMillis
		out.CacheHit = details.CacheHit
	}
	return out
}

func convertSchema(schema bq.Schema) []warehouse.Column {
	columns := make([]warehouse.Column, 0, len(schema))
	for _, field := range schema {
		if field == nil {
			continue
		}
		columns = append(columns, warehouse.Column{Name: field.Name, Type: string(field.Type)})
	}
	return columns
}
