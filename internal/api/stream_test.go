package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/duckmesh/querygate/internal/driver"
	"github.com/duckmesh/querygate/internal/warehouse"
)

func TestStreamWritesNDJSONWithAliases(t *testing.T) {
	client := &fakeWarehouse{cursorRows: []warehouse.Row{
		{"region_name": "emea", "total": int64(10)},
		{"region_name": "apac", "total": int64(7)},
	}}
	d := newTestDriver(t, client, driver.Config{}, nil)
	h := NewHandler(loadConfig(t, nil), Dependencies{Gateway: d, Streams: d.Registry()})

	rr := postJSON(h, "/v1/query/stream", `{"sql":"SELECT region_name, total FROM sales.totals","query_key":"totals","aliases":{"region_name":"region","total":"total"}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); got != "application/x-ndjson" {
		t.Fatalf("content type = %q", got)
	}
	if got := rr.Header().Get("X-Query-Key"); got != "totals" {
		t.Fatalf("query key header = %q", got)
	}

	var rows []map[string]any
	scanner := bufio.NewScanner(strings.NewReader(rr.Body.String()))
	for scanner.Scan() {
		var row map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &row); err != nil {
			t.Fatalf("decode line %q: %v", scanner.Text(), err)
		}
		rows = append(rows, row)
	}
	if len(rows) != 2 || rows[0]["region"] != "emea" || rows[1]["total"] != float64(7) {
		t.Fatalf("rows = %+v", rows)
	}

	if state, open := d.Registry().State("totals"); open {
		t.Fatalf("stream still registered in state %s", state)
	}
}

func TestStreamReportsMidStreamFailureAsErrorLine(t *testing.T) {
	client := &fakeWarehouse{
		cursorRows: []warehouse.Row{{"n": int64(1)}},
		cursorErr:  errors.New("connection reset"),
	}
	h := NewHandler(loadConfig(t, nil), Dependencies{Gateway: newTestDriver(t, client, driver.Config{}, nil)})

	rr := postJSON(h, "/v1/query/stream", `{"sql":"SELECT n FROM t.t"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q", lines)
	}
	var last struct {
		Error struct {
			ErrorCode string `json:"error_code"`
			Message   string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(lines[1]), &last); err != nil {
		t.Fatalf("decode error line: %v", err)
	}
	if last.Error.ErrorCode == "" || !strings.Contains(last.Error.Message, "connection reset") {
		t.Fatalf("error line = %+v", last)
	}
}

func TestStreamRejectsDuplicateKey(t *testing.T) {
	client := &fakeWarehouse{cursorRows: []warehouse.Row{{"n": int64(1)}}}
	d := newTestDriver(t, client, driver.Config{}, nil)
	h := NewHandler(loadConfig(t, nil), Dependencies{Gateway: d})

	held, err := d.Stream(t.Context(), driver.StreamSpec{QueryKey: "dup", SQL: "SELECT 1"})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer func() { _ = held.Close() }()

	rr := postJSON(h, "/v1/query/stream", `{"sql":"SELECT 1","query_key":"dup"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if code := decodeErrorCode(t, rr); code != "DUPLICATE_QUERY_KEY" {
		t.Fatalf("error_code = %q", code)
	}
}

func TestStreamAdmissionControl(t *testing.T) {
	client := &fakeWarehouse{cursorRows: []warehouse.Row{{"n": int64(1)}}}
	d := newTestDriver(t, client, driver.Config{MaxQueued: 1}, nil)
	h := NewHandler(loadConfig(t, nil), Dependencies{Gateway: d, Streams: d.Registry()})

	held, err := d.Stream(t.Context(), driver.StreamSpec{QueryKey: "first", SQL: "SELECT 1"})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer func() { _ = held.Close() }()

	rr := postJSON(h, "/v1/query/stream", `{"sql":"SELECT 1","query_key":"second"}`)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if code := decodeErrorCode(t, rr); code != "TOO_MANY_QUEUED" {
		t.Fatalf("error_code = %q", code)
	}

	listed := httptestGet(h, "/v1/streams")
	var snapshot struct {
		Queued     []string `json:"queued"`
		Processing []string `json:"processing"`
	}
	if err := json.Unmarshal(listed.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("decode streams: %v", err)
	}
	if len(snapshot.Queued) != 1 || snapshot.Queued[0] != "first" || len(snapshot.Processing) != 0 {
		t.Fatalf("snapshot = %+v", snapshot)
	}
}
