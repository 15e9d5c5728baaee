package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/duckmesh/querygate/internal/driver"
	"github.com/duckmesh/querygate/internal/poller"
	"github.com/duckmesh/querygate/internal/warehouse"
)

func newQueryHandler(t *testing.T, client *fakeWarehouse, cfg driver.Config) http.Handler {
	t.Helper()
	return NewHandler(loadConfig(t, nil), Dependencies{Gateway: newTestDriver(t, client, cfg, nil)})
}

func postJSON(h http.Handler, path, body string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rr, req)
	return rr
}

func decodeErrorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		ErrorCode string `json:"error_code"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, rr.Body.String())
	}
	return body.ErrorCode
}

func TestQueryReturnsRows(t *testing.T) {
	client := &fakeWarehouse{rows: rowsOf("region", "emea", "apac")}
	h := newQueryHandler(t, client, driver.Config{DataSource: "sales"})

	rr := postJSON(h, "/v1/query", `{"sql":"SELECT region FROM sales.orders WHERE year = ?","params":[2026],"query_key":"orders-by-region"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var response queryResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if response.JobID != "job-1" || response.Acknowledged {
		t.Fatalf("response = %+v", response)
	}
	if len(response.Rows) != 2 || response.Rows[1]["region"] != "apac" {
		t.Fatalf("rows = %+v", response.Rows)
	}
	if response.Stats.BytesProcessed != 512 || response.Stats.Attempts != 1 {
		t.Fatalf("stats = %+v", response.Stats)
	}

	spec := client.queries[0]
	if spec.Labels["querygate_data_source"] != "sales" || spec.Labels["querygate_kind"] != "query" {
		t.Fatalf("labels = %+v", spec.Labels)
	}
	if len(spec.Params) != 1 || spec.Params[0] != float64(2026) {
		t.Fatalf("params = %#v", spec.Params)
	}
}

func TestQueryAcknowledgesWithoutResults(t *testing.T) {
	client := &fakeWarehouse{rows: rowsOf("n", "1")}
	h := newQueryHandler(t, client, driver.Config{})

	rr := postJSON(h, "/v1/query", `{"sql":"DELETE FROM scratch.tmp","want_results":false}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var response queryResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if !response.Acknowledged || len(response.Rows) != 0 {
		t.Fatalf("response = %+v", response)
	}
}

func TestQueryAcceptsZeroMaxInterval(t *testing.T) {
	client := &fakeWarehouse{rows: rowsOf("n", "1")}
	h := newQueryHandler(t, client, driver.Config{})

	rr := postJSON(h, "/v1/query", `{"sql":"SELECT 1 AS n","poll_max_interval_ms":0}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
}

func TestQueryExecutionErrorMapsTo422(t *testing.T) {
	client := &fakeWarehouse{failure: &warehouse.ErrorPayload{Reason: "invalidQuery", Message: "Unrecognized name: regoin"}}
	h := newQueryHandler(t, client, driver.Config{})

	rr := postJSON(h, "/v1/query", `{"sql":"SELECT regoin FROM sales.orders"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if code := decodeErrorCode(t, rr); code != "JOB_EXECUTION_FAILED" {
		t.Fatalf("error_code = %q", code)
	}
	if !strings.Contains(rr.Body.String(), "invalidQuery") {
		t.Fatalf("body missing payload: %s", rr.Body.String())
	}
}

func TestQueryTimeoutMapsTo504AndCancelsJob(t *testing.T) {
	client := &fakeWarehouse{neverDone: true}
	h := newQueryHandler(t, client, driver.Config{Poll: poller.Config{BaseStep: time.Millisecond}})

	rr := postJSON(h, "/v1/query", `{"sql":"SELECT * FROM huge.table","poll_timeout_ms":40,"poll_max_interval_ms":5}`)
	if rr.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if code := decodeErrorCode(t, rr); code != "JOB_TIMEOUT" {
		t.Fatalf("error_code = %q", code)
	}
	if client.cancelCount() != 1 {
		t.Fatalf("cancel count = %d", client.cancelCount())
	}
}

func TestQueryValidation(t *testing.T) {
	h := newQueryHandler(t, &fakeWarehouse{}, driver.Config{})

	cases := []struct {
		name string
		body string
		code string
	}{
		{name: "empty sql", body: `{"sql":"  "}`, code: "SQL_REQUIRED"},
		{name: "unknown field", body: `{"sql":"SELECT 1","tenant":"x"}`, code: "INVALID_JSON"},
		{name: "negative timeout", body: `{"sql":"SELECT 1","poll_timeout_ms":-1}`, code: "INVALID_POLL_SETTINGS"},
		{name: "negative max interval", body: `{"sql":"SELECT 1","poll_max_interval_ms":-1}`, code: "INVALID_POLL_SETTINGS"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := postJSON(h, "/v1/query", tc.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", rr.Code)
			}
			if code := decodeErrorCode(t, rr); code != tc.code {
				t.Fatalf("error_code = %q, want %q", code, tc.code)
			}
		})
	}
}

func TestQueryWithoutGatewayReturns501(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{})
	rr := postJSON(h, "/v1/query", `{"sql":"SELECT 1"}`)
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr); code != "WAREHOUSE_NOT_CONFIGURED" {
		t.Fatalf("error_code = %q", code)
	}
}
