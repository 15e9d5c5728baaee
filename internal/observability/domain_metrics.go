package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querygate_jobs_total",
			Help: "Total number of polled warehouse jobs by outcome.",
		},
		[]string{"outcome"},
	)
	jobDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querygate_job_duration_seconds",
			Help:    "Wall-clock time from first poll to job outcome.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"outcome"},
	)
	pollAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querygate_job_poll_attempts",
			Help:    "Number of status checks needed per job.",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34, 55, 89},
		},
	)
	jobCancelFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querygate_job_cancel_failures_total",
			Help: "Total number of failed best-effort cancellations after a poll timeout.",
		},
	)
	bytesProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querygate_bytes_processed_total",
			Help: "Total bytes processed by completed jobs.",
		},
		[]string{"kind"},
	)
	bytesBilledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querygate_bytes_billed_total",
			Help: "Total bytes billed for completed jobs.",
		},
		[]string{"kind"},
	)
	streamedRowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querygate_streamed_rows_total",
			Help: "Total number of rows delivered through result streams.",
		},
	)
	streamTeardownsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querygate_stream_teardowns_total",
			Help: "Total number of closed result streams by reason.",
		},
		[]string{"reason"},
	)
	admissionRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querygate_admission_rejections_total",
			Help: "Total number of stream requests rejected because too many queries were queued.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		jobsTotal,
		jobDurationSeconds,
		pollAttempts,
		jobCancelFailuresTotal,
		bytesProcessedTotal,
		bytesBilledTotal,
		streamedRowsTotal,
		streamTeardownsTotal,
		admissionRejectionsTotal,
	)
}

func ObserveJobOutcome(outcome string, attempts int, elapsed time.Duration) {
	jobsTotal.WithLabelValues(outcome).Inc()
	jobDurationSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())
	if attempts > 0 {
		pollAttempts.Observe(float64(attempts))
	}
}

func IncrementJobCancelFailure() {
	jobCancelFailuresTotal.Inc()
}

func ObserveJobUsage(kind string, bytesProcessed, bytesBilled int64) {
	if kind == "" {
		kind = "query"
	}
	if bytesProcessed > 0 {
		bytesProcessedTotal.WithLabelValues(kind).Add(float64(bytesProcessed))
	}
	if bytesBilled > 0 {
		bytesBilledTotal.WithLabelValues(kind).Add(float64(bytesBilled))
	}
}

func ObserveStreamedRows(n int) {
	if n > 0 {
		streamedRowsTotal.Add(float64(n))
	}
}

func IncrementStreamTeardown(reason string) {
	streamTeardownsTotal.WithLabelValues(reason).Inc()
}

func IncrementAdmissionRejection() {
	admissionRejectionsTotal.Inc()
}

// StreamCounter is implemented by stream registries.
type StreamCounter interface {
	Counts() (queued, processing int)
}

// RegisterStreamGauges exposes the queued/processing sizes of a registry.
func RegisterStreamGauges(registerer prometheus.Registerer, counter StreamCounter) error {
	queued := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "querygate_streams_queued",
			Help: "Streams opened but not yet emitting rows.",
		},
		func() float64 {
			q, _ := counter.Counts()
			return float64(q)
		},
	)
	processing := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "querygate_streams_processing",
			Help: "Streams currently emitting rows.",
		},
		func() float64 {
			_, p := counter.Counts()
			return float64(p)
		},
	)
	if err := registerer.Register(queued); err != nil {
		return err
	}
	return registerer.Register(processing)
}
