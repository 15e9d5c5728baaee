package duckdb

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/duckmesh/querygate/internal/warehouse"
)

type job struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	state  warehouse.State
	failed *warehouse.ErrorPayload
	stats  warehouse.UsageStats
	rows   warehouse.Rows
}

func newJob(id string, cancel context.CancelFunc, startedAt time.Time) *job {
	return &job{
		id:     id,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  warehouse.StateRunning,
		stats:  warehouse.UsageStats{JobID: id, StartedAt: startedAt},
	}
}

func (j *job) ID() string { return j.id }

func (j *job) Status(ctx context.Context) (warehouse.Status, error) {
	if err := ctx.Err(); err != nil {
		return warehouse.Status{}, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	status := warehouse.Status{State: j.state}
	if j.state != warehouse.StateDone {
		return status, nil
	}
	if j.failed != nil {
		payload := *j.failed
		status.Error = &payload
		return status, nil
	}
	stats := j.stats
	status.Stats = &stats
	return status, nil
}

func (j *job) Cancel(context.Context) error {
	j.cancel()
	return nil
}

func (j *job) Results(ctx context.Context) (warehouse.Rows, error) {
	select {
	case <-j.done:
	case <-ctx.Done():
		return warehouse.Rows{}, ctx.Err()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.failed != nil {
		return warehouse.Rows{}, errors.New(j.failed.Message)
	}
	return j.rows, nil
}

func (j *job) setRows(rows warehouse.Rows) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.rows = rows
}

func (j *job) setStats(update func(*warehouse.UsageStats)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	update(&j.stats)
}

func (j *job) finish(endedAt time.Time, err error) {
	j.mu.Lock()
	j.state = warehouse.StateDone
	j.stats.EndedAt = endedAt
	j.stats.Duration = endedAt.Sub(j.stats.StartedAt)
	if err != nil {
		reason := "duckdbError"
		if errors.Is(err, context.Canceled) {
			reason = "stopped"
		}
		j.failed = &warehouse.ErrorPayload{Reason: reason, Location: j.id, Message: err.Error()}
	}
	j.mu.Unlock()
	close(j.done)
}
