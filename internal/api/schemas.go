package api

import (
	"net/http"
	"strings"
)

func handleTablesSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireGateway(deps, w, r) {
		return
	}
	schema, err := deps.Gateway.TablesSchema(r.Context())
	if err != nil {
		writeClassifiedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schemas": schema})
}

func handleListTables(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireGateway(deps, w, r) {
		return
	}
	schema := strings.TrimSpace(r.PathValue("schema"))
	tables, err := deps.Gateway.GetTables(r.Context(), schema)
	if err != nil {
		writeClassifiedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schema": schema, "tables": tables})
}

func handleTableColumns(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireGateway(deps, w, r) {
		return
	}
	table := strings.TrimSpace(r.PathValue("table"))
	if strings.Count(table, ".") != 1 {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_TABLE", "table must be schema.table", false, map[string]any{"table": table})
		return
	}
	columns, err := deps.Gateway.TableColumnTypes(r.Context(), table)
	if err != nil {
		writeClassifiedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"table": table, "columns": columns})
}

type createSchemaRequest struct {
	Schema string `json:"schema"`
}

func handleCreateSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireGateway(deps, w, r) {
		return
	}
	var request createSchemaRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid schema request body", false, map[string]any{"details": err.Error()})
		return
	}
	schema := strings.TrimSpace(request.Schema)
	if schema == "" || strings.Contains(schema, ".") {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_SCHEMA", "schema must be a single identifier", false, nil)
		return
	}
	if err := deps.Gateway.CreateSchemaIfNotExists(r.Context(), schema); err != nil {
		writeClassifiedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schema": schema, "status": "ok"})
}
