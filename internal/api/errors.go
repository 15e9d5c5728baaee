package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/duckmesh/querygate/internal/driver"
	"github.com/duckmesh/querygate/internal/poller"
	"github.com/duckmesh/querygate/internal/stream"
	"github.com/duckmesh/querygate/internal/warehouse"
)

type apiError struct {
	status    int
	code      string
	retryable bool
	context   map[string]any
}

// classifyError maps driver, poller and warehouse failures onto the error
// envelope.
func classifyError(err error) apiError {
	var execErr *poller.JobExecutionError
	var timeoutErr *poller.JobTimeoutError
	var teardownErr *stream.TeardownError
	switch {
	case errors.As(err, &execErr):
		return apiError{status: http.StatusUnprocessableEntity, code: "JOB_EXECUTION_FAILED", context: map[string]any{
			"job_id":   execErr.JobID,
			"reason":   execErr.Payload.Reason,
			"location": execErr.Payload.Location,
		}}
	case errors.As(err, &timeoutErr):
		return apiError{status: http.StatusGatewayTimeout, code: "JOB_TIMEOUT", retryable: true, context: map[string]any{
			"job_id":     timeoutErr.JobID,
			"timeout_ms": timeoutErr.Timeout.Milliseconds(),
		}}
	case errors.Is(err, driver.ErrTooManyQueued):
		return apiError{status: http.StatusTooManyRequests, code: "TOO_MANY_QUEUED", retryable: true}
	case errors.Is(err, stream.ErrDuplicateKey):
		return apiError{status: http.StatusConflict, code: "DUPLICATE_QUERY_KEY"}
	case errors.Is(err, driver.ErrReadOnly):
		return apiError{status: http.StatusForbidden, code: "READ_ONLY"}
	case errors.Is(err, driver.ErrUnloadDisabled):
		return apiError{status: http.StatusNotImplemented, code: "UNLOAD_NOT_CONFIGURED"}
	case errors.Is(err, warehouse.ErrUnsupported):
		return apiError{status: http.StatusNotImplemented, code: "NOT_SUPPORTED"}
	case errors.Is(err, warehouse.ErrNotFound):
		return apiError{status: http.StatusNotFound, code: "NOT_FOUND"}
	case errors.Is(err, warehouse.ErrPermissionDenied):
		return apiError{status: http.StatusForbidden, code: "WAREHOUSE_PERMISSION_DENIED"}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apiError{status: http.StatusServiceUnavailable, code: "REQUEST_CANCELLED", retryable: true}
	case warehouse.IsTransient(err):
		return apiError{status: http.StatusServiceUnavailable, code: "WAREHOUSE_UNAVAILABLE", retryable: true}
	case errors.As(err, &teardownErr):
		return apiError{status: http.StatusBadGateway, code: "STREAM_FAILED", context: map[string]any{"query_key": teardownErr.Key}}
	default:
		return apiError{status: http.StatusBadGateway, code: "WAREHOUSE_ERROR"}
	}
}

func writeClassifiedError(w http.ResponseWriter, r *http.Request, err error) {
	classified := classifyError(err)
	writeError(r.Context(), w, classified.status, classified.code, err.Error(), classified.retryable, classified.context)
}
