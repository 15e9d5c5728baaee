package poller

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/duckmesh/querygate/internal/warehouse"
)

// JobExecutionError reports a job that finished with a remote error. It is
// never retried.
type JobExecutionError struct {
	JobID   string
	Payload warehouse.ErrorPayload
}

func (e *JobExecutionError) Error() string {
	if e.Payload.Message != "" {
		return e.Payload.Message
	}
	encoded, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Sprintf("job %s failed", e.JobID)
	}
	return string(encoded)
}

// JobTimeoutError reports a job that did not finish within Timeout. The job
// has been asked to cancel by the time the error is returned.
type JobTimeoutError struct {
	JobID   string
	Timeout time.Duration
}

func (e *JobTimeoutError) Error() string {
	return fmt.Sprintf("job %s timed out after %dms", e.JobID, e.Timeout.Milliseconds())
}
