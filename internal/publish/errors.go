package publish

import (
	"context"
	"fmt"
	"time"
)

// NotFoundError is returned when a named remote object does not exist.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

// TransferError reports a failed upload session open or append.
type TransferError struct {
	Op        string // "open" | "append" | "read"
	SessionID string
	Offset    int64
	Err       error
}

func (e *TransferError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("upload %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("upload %s (session %s, offset %d): %v", e.Op, e.SessionID, e.Offset, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// JobFailureError reports a job that reached a non-success terminal state.
type JobFailureError struct {
	JobID      string
	Status     Status
	FinishCode int
	Notes      string
}

func (e *JobFailureError) Error() string {
	msg := fmt.Sprintf("job %s %s (finish code %d)", e.JobID, e.Status, e.FinishCode)
	if e.Notes != "" {
		msg += ": " + e.Notes
	}
	return msg
}

// TimeoutError reports that the wait budget elapsed before the job reached a
// terminal state. The job keeps running remotely.
type TimeoutError struct {
	JobID   string
	Timeout time.Duration
	Last    Status
	Polls   int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job %s still %s after %s (%d polls)", e.JobID, e.Last, e.Timeout, e.Polls)
}

// Unwrap lets errors.Is match context.DeadlineExceeded.
func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }
