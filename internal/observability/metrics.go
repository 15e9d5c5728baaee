package observability

import "github.com/prometheus/client_golang/prometheus"

// HTTP collectors are labelled by mux pattern, never by raw path, so table
// and schema names do not become label values.
var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querygate_http_requests_total",
			Help: "Total number of HTTP requests by route pattern.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "querygate_http_request_duration_seconds",
			Help: "HTTP request latency by route pattern. Streamed queries are timed until the last row is flushed.",
			// Buffered queries poll for up to the job timeout.
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300, 600},
		},
		[]string{"method", "path", "status"},
	)

	// The route is only known after the mux has matched, so this one is unlabelled.
	httpRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "querygate_http_requests_in_flight",
			Help: "HTTP requests currently being served, including open streams.",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDurationSeconds, httpRequestsInFlight)
}
