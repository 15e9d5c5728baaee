package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/duckmesh/querygate/internal/driver"
	"github.com/duckmesh/querygate/internal/warehouse"
)

type streamRequest struct {
	SQL      string            `json:"sql"`
	Params   []any             `json:"params"`
	QueryKey string            `json:"query_key"`
	Aliases  map[string]string `json:"aliases"`
}

// handleStreamQuery writes one JSON object per line and flushes after each
// row. A failure after the first byte is reported as a final {"error": ...}
// line since the status is already sent.
func handleStreamQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireGateway(deps, w, r) {
		return
	}
	var request streamRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid stream request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}

	s, err := deps.Gateway.Stream(r.Context(), driver.StreamSpec{
		QueryKey: request.QueryKey,
		SQL:      request.SQL,
		Params:   request.Params,
		Aliases:  request.Aliases,
	})
	if err != nil {
		writeClassifiedError(w, r, err)
		return
	}
	defer func() { _ = s.Close() }()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("X-Query-Key", s.Key())
	w.WriteHeader(http.StatusOK)
	controller := http.NewResponseController(w)
	encoder := json.NewEncoder(w)

	err = s.Each(r.Context(), func(row warehouse.Row) error {
		if err := encoder.Encode(row); err != nil {
			return err
		}
		if err := controller.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
		return nil
	})
	if err == nil || r.Context().Err() != nil {
		return
	}
	classified := classifyError(err)
	_ = encoder.Encode(map[string]any{"error": errorBody(r.Context(), classified.code, err.Error(), classified.retryable, classified.context)})
	_ = controller.Flush()
}

func handleListStreams(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Streams == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "STREAMS_NOT_CONFIGURED", "stream registry is not configured", false, nil)
		return
	}
	queued, processing := deps.Streams.Snapshot()
	if queued == nil {
		queued = []string{}
	}
	if processing == nil {
		processing = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"queued": queued, "processing": processing})
}
