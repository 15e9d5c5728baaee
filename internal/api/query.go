package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/duckmesh/querygate/internal/driver"
	"github.com/duckmesh/querygate/internal/observability"
	"github.com/duckmesh/querygate/internal/poller"
	"github.com/duckmesh/querygate/internal/warehouse"
)

type queryRequest struct {
	SQL               string `json:"sql"`
	Params            []any  `json:"params"`
	QueryKey          string `json:"query_key"`
	PollTimeoutMs     int64  `json:"poll_timeout_ms"`
	PollMaxIntervalMs *int64 `json:"poll_max_interval_ms"`
	// WantResults defaults to true.
	WantResults *bool `json:"want_results"`
}

type queryResponse struct {
	JobID        string             `json:"job_id"`
	Acknowledged bool               `json:"acknowledged"`
	Columns      []warehouse.Column `json:"columns,omitempty"`
	Rows         []warehouse.Row    `json:"rows,omitempty"`
	Stats        queryStats         `json:"stats"`
}

type queryStats struct {
	Attempts       int   `json:"attempts"`
	ElapsedMs      int64 `json:"elapsed_ms"`
	BytesProcessed int64 `json:"bytes_processed"`
	BytesBilled    int64 `json:"bytes_billed"`
	CacheHit       bool  `json:"cache_hit"`
}

func handleQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireGateway(deps, w, r) {
		return
	}
	var request queryRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid query request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}
	if request.PollTimeoutMs < 0 || (request.PollMaxIntervalMs != nil && *request.PollMaxIntervalMs < 0) {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_POLL_SETTINGS", "poll_timeout_ms and poll_max_interval_ms must be >= 0", false, nil)
		return
	}
	wantResults := request.WantResults == nil || *request.WantResults
	var maxInterval *time.Duration
	if request.PollMaxIntervalMs != nil {
		maxInterval = poller.Duration(time.Duration(*request.PollMaxIntervalMs) * time.Millisecond)
	}

	result, err := deps.Gateway.RunJob(r.Context(), driver.JobSpec{
		SQL:         request.SQL,
		Params:      request.Params,
		Timeout:     time.Duration(request.PollTimeoutMs) * time.Millisecond,
		MaxInterval: maxInterval,
		WantResults: wantResults,
		Usage: warehouse.UsageContext{
			RequestID: observability.TraceIDFromContext(r.Context()),
			QueryKey:  request.QueryKey,
		},
	})
	if err != nil {
		writeClassifiedError(w, r, err)
		return
	}

	rows := result.Rows.Rows
	if wantResults && rows == nil {
		rows = []warehouse.Row{}
	}
	writeJSON(w, http.StatusOK, queryResponse{
		JobID:        result.JobID,
		Acknowledged: result.Acknowledged,
		Columns:      result.Rows.Columns,
		Rows:         rows,
		Stats: queryStats{
			Attempts:       result.Attempts,
			ElapsedMs:      result.Elapsed.Milliseconds(),
			BytesProcessed: result.Stats.BytesProcessed,
			BytesBilled:    result.Stats.BytesBilled,
			CacheHit:       result.Stats.CacheHit,
		},
	})
}
