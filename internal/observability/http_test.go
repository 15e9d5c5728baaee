package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTraceMiddlewarePreservesIncomingTraceID(t *testing.T) {
	h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := TraceIDFromContext(r.Context()); got != "trace-1" {
			t.Fatalf("TraceIDFromContext() = %q", got)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/query", nil)
	req.Header.Set(traceHeader, "trace-1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get(traceHeader); got != "trace-1" {
		t.Fatalf("trace header = %q", got)
	}
}

func TestTraceMiddlewareGeneratesTraceID(t *testing.T) {
	var seen string
	h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/streams", nil))

	if seen == "" || rr.Header().Get(traceHeader) != seen {
		t.Fatalf("context trace id = %q, header = %q", seen, rr.Header().Get(traceHeader))
	}
	if TraceIDFromContext(context.Background()) != "" {
		t.Fatal("expected empty trace id without middleware")
	}
}

func routedMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/tables/{table}/columns", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /v1/query/stream", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(queryKeyHeader, "daily-totals")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{\"n\":1}\n"))
	})
	mux.HandleFunc("POST /v1/query", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	return mux
}

func TestMetricsMiddlewareLabelsByRoutePattern(t *testing.T) {
	h := MetricsMiddleware(routedMux())
	pattern := "GET /v1/tables/{table}/columns"
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, pattern, "200"))

	for _, table := range []string{"sales.orders", "sales.refunds"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/tables/"+table+"/columns", nil))
	}

	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, pattern, "200")); got != before+2 {
		t.Fatalf("requests{%s} = %v, want %v", pattern, got, before+2)
	}
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/tables/sales.orders/columns", "200")); got != 0 {
		t.Fatalf("raw path recorded as label: %v", got)
	}
	if got := testutil.ToFloat64(httpRequestsInFlight); got != 0 {
		t.Fatalf("in flight = %v after requests finished", got)
	}
}

func TestMetricsMiddlewareLabelsUnmatchedRoutes(t *testing.T) {
	h := MetricsMiddleware(routedMux())
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "unmatched", "404"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/nope", nil))

	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "unmatched", "404")); got != before+1 {
		t.Fatalf("requests{unmatched} = %v, want %v", got, before+1)
	}
}

func TestLoggingMiddlewareRecordsRouteAndQueryKey(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := LoggingMiddleware(logger)(routedMux())

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/query/stream", nil))

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if record["route"] != "POST /v1/query/stream" || record["query_key"] != "daily-totals" {
		t.Fatalf("record = %v", record)
	}
	if record["level"] != "INFO" || record["bytes"] != float64(8) {
		t.Fatalf("record = %v", record)
	}
}

func TestLoggingMiddlewareWarnsOnServerErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := LoggingMiddleware(logger)(routedMux())

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/query", nil))

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if record["level"] != "WARN" || record["status"] != float64(http.StatusServiceUnavailable) {
		t.Fatalf("record = %v", record)
	}
	if _, ok := record["query_key"]; ok {
		t.Fatalf("unexpected query_key in %v", record)
	}
}
