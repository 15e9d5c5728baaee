package observability

import (
	"context"
	"io"
	"log/slog"

	"github.com/duckmesh/querygate/internal/config"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// NewLogger returns the process logger. Every record carries the service,
// profile and the warehouse it fronts.
func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	opts := &slog.HandlerOptions{Level: cfg.Observability.LogLevel}
	var handler slog.Handler = slog.NewTextHandler(writer, opts)
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, opts)
	}

	attrs := []any{
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
	}
	if cfg.Warehouse.Backend != "" {
		attrs = append(attrs, slog.String("backend", string(cfg.Warehouse.Backend)))
	}
	if cfg.Warehouse.DataSource != "" {
		attrs = append(attrs, slog.String("data_source", cfg.Warehouse.DataSource))
	}
	return slog.New(handler).With(attrs...)
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func TraceIDFromContext(ctx context.Context) string {
	value, _ := ctx.Value(traceIDKey).(string)
	return value
}
