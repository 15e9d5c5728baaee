package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/duckmesh/querygate/internal/auth"
	"github.com/duckmesh/querygate/internal/config"
	"github.com/duckmesh/querygate/internal/driver"
	"github.com/duckmesh/querygate/internal/observability"
	"github.com/duckmesh/querygate/internal/poller"
	"github.com/duckmesh/querygate/internal/stream"
	"github.com/duckmesh/querygate/internal/usage"
	"github.com/duckmesh/querygate/internal/warehouse"
)

type ReadinessCheck func(ctx context.Context) error

// Gateway is the driver surface the API serves.
type Gateway interface {
	RunJob(ctx context.Context, spec driver.JobSpec) (poller.Result, error)
	Stream(ctx context.Context, spec driver.StreamSpec) (*stream.Stream, error)
	LoadIntoTable(ctx context.Context, table, sqlText string, params []any) error
	Unload(ctx context.Context, table string) (driver.UnloadResult, error)
	IsUnloadSupported() bool
	TablesSchema(ctx context.Context) (driver.TablesSchema, error)
	TableColumnTypes(ctx context.Context, table string) ([]warehouse.Column, error)
	GetTables(ctx context.Context, schema string) ([]string, error)
	CreateSchemaIfNotExists(ctx context.Context, schema string) error
	ReadOnly() bool
}

type StreamLister interface {
	Snapshot() (queued, processing []string)
}

type UsageLister interface {
	ListRecent(ctx context.Context, kind string, limit int) ([]usage.Record, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Gateway           Gateway
	Streams           StreamLister
	Usage             UsageLister
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	reader := auth.RequireRole(auth.RoleQueryReader)
	writer := auth.RequireRole(auth.RoleQueryWriter)
	routes := []struct {
		pattern string
		role    func(http.Handler) http.Handler
		handle  func(Dependencies, http.ResponseWriter, *http.Request)
	}{
		{"POST /v1/query", reader, handleQuery},
		{"POST /v1/query/stream", reader, handleStreamQuery},
		{"GET /v1/streams", reader, handleListStreams},
		{"GET /v1/schemas", reader, handleTablesSchema},
		{"POST /v1/schemas", writer, handleCreateSchema},
		{"GET /v1/schemas/{schema}/tables", reader, handleListTables},
		{"GET /v1/tables/{table}/columns", reader, handleTableColumns},
		{"POST /v1/load", writer, handleLoad},
		{"POST /v1/unload", reader, handleUnload},
		{"GET /v1/usage", reader, handleUsage},
	}

	protect := protectedChain(cfg, deps)
	for _, route := range routes {
		handle := route.handle
		inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handle(deps, w, r)
		})
		mux.Handle(route.pattern, protect(route.role(inner)))
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

// protectedChain authenticates and then rate limits, so limits apply per
// client once a key is known.
func protectedChain(cfg config.Config, deps Dependencies) func(http.Handler) http.Handler {
	var middlewares []func(http.Handler) http.Handler
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			return func(http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
				})
			}
		}
		middlewares = append(middlewares, deps.AuthMiddleware)
	}
	if cfg.RateLimit.RequestsPerSecond > 0 {
		middlewares = append(middlewares, RateLimiter(cfg.RateLimit))
	}
	return func(next http.Handler) http.Handler {
		return chain(next, middlewares...)
	}
}

func CheckUsageLogDSN(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.UsageLog.DSN == "" {
			return errors.New("usage log dsn is not configured")
		}
		return nil
	}
}

// CheckWarehouse runs a trivial query against the backend.
func CheckWarehouse(connection interface{ TestConnection(context.Context) error }) ReadinessCheck {
	return func(ctx context.Context) error {
		return connection.TestConnection(ctx)
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, errorBody(ctx, code, message, retryable, extra))
}

func errorBody(ctx context.Context, code, message string, retryable bool, extra map[string]any) map[string]any {
	return map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	}
}

func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func requireGateway(deps Dependencies, w http.ResponseWriter, r *http.Request) bool {
	if deps.Gateway == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "WAREHOUSE_NOT_CONFIGURED", "warehouse driver is not configured", false, nil)
		return false
	}
	return true
}
