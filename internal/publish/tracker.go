package publish

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/withObsrvr/top10-publisher/internal/logging"
)

// Status is the local view of a job's state.
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// Remote finish codes.
const (
	FinishSucceeded = 0
	FinishFailed    = 1
	FinishCancelled = 2
)

// StatusOf maps a job's finish code to a Status. A job without a finish
// code is running regardless of any other field.
func StatusOf(job Job) Status {
	if job.FinishCode == nil {
		return StatusRunning
	}
	switch *job.FinishCode {
	case FinishSucceeded:
		return StatusSucceeded
	case FinishCancelled:
		return StatusCancelled
	default:
		return StatusFailed
	}
}

// Outcome is the last observed state of a tracked job.
type Outcome struct {
	JobID       string
	Status      Status
	FinishCode  *int
	CreatedAt   *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Notes       string
	Polls       int
}

func outcomeOf(job Job, polls int) Outcome {
	return Outcome{
		JobID:       job.ID,
		Status:      StatusOf(job),
		FinishCode:  job.FinishCode,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
		Notes:       job.Notes,
		Polls:       polls,
	}
}

// Tracker polls a job until it reaches a terminal state.
type Tracker struct {
	api      API
	interval time.Duration
	log      *slog.Logger
}

// NewTracker creates a tracker polling every interval.
func NewTracker(api API, interval time.Duration) *Tracker {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Tracker{
		api:      api,
		interval: interval,
		log:      logging.Component("tracker"),
	}
}

// Status fetches the current state of a job once.
func (t *Tracker) Status(ctx context.Context, jobID string) (Outcome, error) {
	job, err := t.api.GetJob(ctx, jobID)
	if err != nil {
		return Outcome{JobID: jobID}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	if job.ID == "" {
		job.ID = jobID
	}
	return outcomeOf(job, 1), nil
}

// Wait polls jobID immediately and then every interval until it finishes.
//
// A succeeded job returns a nil error. Failed and cancelled jobs return the
// outcome with a *JobFailureError. When timeout elapses first, a
// *TimeoutError is returned; the remote job is not cancelled. A timeout of
// zero waits until ctx is done. Cancellation of ctx itself returns ctx.Err().
func (t *Tracker) Wait(ctx context.Context, jobID string, timeout time.Duration) (Outcome, error) {
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	last := Outcome{JobID: jobID, Status: StatusSubmitted}
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for polls := 1; ; polls++ {
		job, err := t.api.GetJob(waitCtx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			if waitCtx.Err() != nil {
				return last, t.timeout(last, timeout)
			}
			return last, fmt.Errorf("poll job %s: %w", jobID, err)
		}
		if job.ID == "" {
			job.ID = jobID
		}
		last = outcomeOf(job, polls)
		t.log.Debug("job polled", "job_id", jobID, "status", last.Status, "poll", polls)

		if last.Status.Terminal() {
			return t.finish(last)
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			return last, t.timeout(last, timeout)
		case <-ticker.C:
		}
	}
}

func (t *Tracker) finish(out Outcome) (Outcome, error) {
	if out.Status == StatusSucceeded {
		t.log.Info("job succeeded", "job_id", out.JobID, "polls", out.Polls)
		return out, nil
	}
	t.log.Warn("job did not succeed", "job_id", out.JobID, "status", out.Status, "notes", out.Notes)
	return out, &JobFailureError{
		JobID:      out.JobID,
		Status:     out.Status,
		FinishCode: *out.FinishCode,
		Notes:      out.Notes,
	}
}

func (t *Tracker) timeout(last Outcome, timeout time.Duration) error {
	t.log.Warn("job wait timed out", "job_id", last.JobID, "last_status", last.Status, "timeout", timeout)
	return &TimeoutError{JobID: last.JobID, Timeout: timeout, Last: last.Status, Polls: last.Polls}
}
