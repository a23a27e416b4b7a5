package remote

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/colonyops/tasksync/internal/core/oplog"
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// Classify maps a remote call error onto a replay outcome.
//
//   - nil: OK
//   - transport failures, timeouts, cancellation, 5xx, 408, 429: Retryable
//   - 404 on DELETE: OK, the task is already gone
//   - any other 4xx: Fatal
func Classify(err error) oplog.Outcome {
	if err == nil {
		return oplog.OK
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusNotFound && se.Method == http.MethodDelete:
			return oplog.OK
		case se.StatusCode >= 500,
			se.StatusCode == http.StatusRequestTimeout,
			se.StatusCode == http.StatusTooManyRequests:
			return oplog.Retryable
		case se.StatusCode >= 400:
			return oplog.Fatal
		}
		return oplog.Retryable
	}

	// Transport errors, timeouts and undecodable responses all leave the
	// entry in place for another attempt.
	return oplog.Retryable
}

// Result converts a remote call error into a replay result.
func Result(err error) oplog.Result {
	return oplog.Result{Outcome: Classify(err), Err: err}
}
