package worker

import (
	"fmt"

	"github.com/pkg/errors"
)

// WorkerError is a failure reported by one worker. It crosses process
// boundaries as JSON, so it carries the rendered stack rather than frames.
type WorkerError struct {
	WorkerID int    `json:"worker_id"`
	Message  string `json:"error"`
	Stack    string `json:"traceback"`
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("worker %d: %s", e.WorkerID, e.Message)
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// NewWorkerError converts err, attaching a stack when err has none.
func NewWorkerError(workerID int, err error) *WorkerError {
	var we *WorkerError
	if errors.As(err, &we) {
		return we
	}
	if _, ok := err.(stackTracer); !ok {
		err = errors.WithStack(err)
	}
	return &WorkerError{
		WorkerID: workerID,
		Message:  err.Error(),
		Stack:    fmt.Sprintf("%+v", err),
	}
}
