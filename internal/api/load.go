package api

import (
	"net/http"
	"strconv"
	"strings"
)

type loadRequest struct {
	Table  string `json:"table"`
	SQL    string `json:"sql"`
	Params []any  `json:"params"`
}

func handleLoad(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireGateway(deps, w, r) {
		return
	}
	var request loadRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid load request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}
	if strings.Count(request.Table, ".") != 1 {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_TABLE", "table must be schema.table", false, map[string]any{"table": request.Table})
		return
	}
	if err := deps.Gateway.LoadIntoTable(r.Context(), request.Table, request.SQL, request.Params); err != nil {
		writeClassifiedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"table": request.Table, "status": "loaded"})
}

type unloadRequest struct {
	Table string `json:"table"`
}

func handleUnload(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireGateway(deps, w, r) {
		return
	}
	var request unloadRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid unload request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.Count(request.Table, ".") != 1 {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_TABLE", "table must be schema.table", false, map[string]any{"table": request.Table})
		return
	}
	result, err := deps.Gateway.Unload(r.Context(), request.Table)
	if err != nil {
		writeClassifiedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func handleUsage(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Usage == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "USAGE_LOG_NOT_CONFIGURED", "usage log is not configured", false, nil)
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 1000 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be between 1 and 1000", false, map[string]any{"limit": raw})
			return
		}
		limit = parsed
	}
	records, err := deps.Usage.ListRecent(r.Context(), strings.TrimSpace(r.URL.Query().Get("kind")), limit)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "USAGE_LOG_ERROR", "failed to list usage records", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}
