// Package poller drives a submitted warehouse job to completion with a capped
// linear backoff and a hard wall-clock deadline.
package poller

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/duckmesh/querygate/internal/observability"
	"github.com/duckmesh/querygate/internal/warehouse"
)

const (
	DefaultBaseStep    = 200 * time.Millisecond
	DefaultMaxInterval = 5 * time.Second
	DefaultTimeout     = 10 * time.Minute

	cancelTimeout = 10 * time.Second
)

type UsageReporter interface {
	ReportUsage(ctx context.Context, stats warehouse.UsageStats, usage warehouse.UsageContext) error
}

type Config struct {
	Timeout     time.Duration
	MaxInterval time.Duration
	BaseStep    time.Duration
}

type Poller struct {
	Config   Config
	Reporter UsageReporter
	Logger   *slog.Logger
	Clock    func() time.Time
	Sleep    func(ctx context.Context, d time.Duration) error
}

// Request overrides Config per call. A zero Timeout and a nil MaxInterval
// fall back to Config. An explicit zero MaxInterval checks status again
// without waiting.
type Request struct {
	Job         warehouse.Job
	Timeout     time.Duration
	MaxInterval *time.Duration
	WantResults bool
	Usage       warehouse.UsageContext
}

// Result is either the fetched rows or, when results were not requested, an
// acknowledgement that the job succeeded.
type Result struct {
	JobID        string
	Rows         warehouse.Rows
	Acknowledged bool
	Stats        warehouse.UsageStats
	Attempts     int
	Elapsed      time.Duration
}

// Duration returns a pointer to d for Request.MaxInterval.
func Duration(d time.Duration) *time.Duration { return &d }

// Interval returns the delay before the next status check:
// min(maxInterval, baseStep*attempt).
func Interval(attempt int, baseStep, maxInterval time.Duration) time.Duration {
	if attempt <= 0 {
		return 0
	}
	wait := baseStep * time.Duration(attempt)
	if wait > maxInterval || wait < 0 {
		return maxInterval
	}
	return wait
}

func (p *Poller) Run(ctx context.Context, req Request) (Result, error) {
	if req.Job == nil {
		return Result{}, fmt.Errorf("job is required")
	}
	timeout, maxInterval, baseStep := p.resolve(req)
	if timeout <= 0 {
		return Result{}, fmt.Errorf("poll timeout must be > 0")
	}
	if maxInterval < 0 {
		return Result{}, fmt.Errorf("poll max interval must be >= 0")
	}

	logger := p.logger().With(slog.String("job_id", req.Job.ID()))
	if req.Usage.QueryKey != "" {
		logger = logger.With(slog.String("query_key", req.Usage.QueryKey))
	}

	start := p.now()
	attempt := 0
	for p.now().Sub(start) <= timeout {
		status, err := req.Job.Status(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			p.cancel(ctx, req.Job, logger)
			return Result{}, fmt.Errorf("poll job %s: %w", req.Job.ID(), ctx.Err())
		case err != nil && warehouse.IsTransient(err):
			logger.Warn("job status check failed, retrying", slog.Int("attempt", attempt), slog.Any("error", err))
		case err != nil:
			observability.ObserveJobOutcome("status_error", attempt+1, p.now().Sub(start))
			return Result{}, fmt.Errorf("get job %s status: %w", req.Job.ID(), err)
		case status.Done() && status.Error != nil:
			elapsed := p.now().Sub(start)
			observability.ObserveJobOutcome("failed", attempt+1, elapsed)
			logger.Info("job failed", slog.Int("attempt", attempt), slog.String("reason", status.Error.Reason))
			return Result{}, &JobExecutionError{JobID: req.Job.ID(), Payload: *status.Error}
		case status.Done():
			return p.complete(ctx, req, status, attempt+1, p.now().Sub(start), logger)
		}

		wait := Interval(attempt, baseStep, maxInterval)
		attempt++
		if err := p.sleep(ctx, wait); err != nil {
			p.cancel(ctx, req.Job, logger)
			return Result{}, fmt.Errorf("poll job %s: %w", req.Job.ID(), err)
		}
	}

	elapsed := p.now().Sub(start)
	observability.ObserveJobOutcome("timeout", attempt, elapsed)
	logger.Warn("job timed out", slog.Int64("timeout_ms", timeout.Milliseconds()), slog.Int("attempt", attempt))
	p.cancel(ctx, req.Job, logger)
	return Result{}, &JobTimeoutError{JobID: req.Job.ID(), Timeout: timeout}
}

func (p *Poller) complete(ctx context.Context, req Request, status warehouse.Status, attempts int, elapsed time.Duration, logger *slog.Logger) (Result, error) {
	stats := warehouse.UsageStats{}
	if status.Stats != nil {
		stats = *status.Stats
	}
	if stats.JobID == "" {
		stats.JobID = req.Job.ID()
	}
	p.report(ctx, stats, req.Usage, logger)

	result := Result{JobID: req.Job.ID(), Stats: stats, Attempts: attempts, Elapsed: elapsed}
	if !req.WantResults {
		result.Acknowledged = true
		observability.ObserveJobOutcome("succeeded", attempts, elapsed)
		return result, nil
	}
	rows, err := req.Job.Results(ctx)
	if err != nil {
		observability.ObserveJobOutcome("results_error", attempts, elapsed)
		return Result{}, fmt.Errorf("fetch job %s results: %w", req.Job.ID(), err)
	}
	result.Rows = rows
	observability.ObserveJobOutcome("succeeded", attempts, elapsed)
	logger.Debug("job succeeded", slog.Int("attempts", attempts), slog.Int("rows", len(rows.Rows)))
	return result, nil
}

func (p *Poller) report(ctx context.Context, stats warehouse.UsageStats, usage warehouse.UsageContext, logger *slog.Logger) {
	if p.Reporter == nil {
		return
	}
	if err := p.Reporter.ReportUsage(ctx, stats, usage); err != nil {
		logger.Warn("usage report failed", slog.Any("error", err))
	}
}

// cancel asks the remote side to stop the job. A failure is logged and
// counted; the caller's error stays authoritative.
func (p *Poller) cancel(ctx context.Context, job warehouse.Job, logger *slog.Logger) {
	cancelCtx, done := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
	defer done()
	if err := job.Cancel(cancelCtx); err != nil {
		observability.IncrementJobCancelFailure()
		logger.Warn("job cancel failed", slog.Any("error", err))
	}
}

func (p *Poller) resolve(req Request) (timeout, maxInterval, baseStep time.Duration) {
	timeout = req.Timeout
	if timeout == 0 {
		timeout = p.Config.Timeout
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if req.MaxInterval != nil {
		maxInterval = *req.MaxInterval
	} else {
		maxInterval = p.Config.MaxInterval
		if maxInterval == 0 {
			maxInterval = DefaultMaxInterval
		}
	}
	baseStep = p.Config.BaseStep
	if baseStep <= 0 {
		baseStep = DefaultBaseStep
	}
	return timeout, maxInterval, baseStep
}

func (p *Poller) now() time.Time {
	if p.Clock != nil {
		return p.Clock()
	}
	return time.Now()
}

func (p *Poller) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *Poller) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
