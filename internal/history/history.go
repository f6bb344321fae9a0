// Package history records publish attempts and answers whether a ranking
// batch has already been published.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNoRecord is returned when no matching record exists.
var ErrNoRecord = errors.New("no publish record found")

// Attempt outcomes.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusTimedOut  = "timed_out"
)

// Record is one publish attempt.
type Record struct {
	Topic      string    `json:"topic"`
	Dataset    string    `json:"dataset"`
	BatchID    string    `json:"batch_id"`
	RequestID  string    `json:"request_id,omitempty"`
	JobID      string    `json:"job_id,omitempty"`
	Status     string    `json:"status"`
	Stage      string    `json:"stage,omitempty"`
	Error      string    `json:"error,omitempty"`
	Rows       int64     `json:"rows"`
	Bytes      int64     `json:"bytes"`
	Checksum   string    `json:"checksum,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Recorder persists publish attempts.
type Recorder interface {
	// Record appends an attempt.
	Record(ctx context.Context, rec Record) error

	// LastSuccess returns the latest succeeded attempt for a dataset and
	// batch, or ErrNoRecord.
	LastSuccess(ctx context.Context, dataset, batchID string) (*Record, error)

	// Recent returns up to limit attempts, newest first.
	Recent(ctx context.Context, limit int) ([]Record, error)

	Close() error
}

// Config selects the history backend. PostgresDSN wins over Dir; with
// neither set history is disabled.
type Config struct {
	PostgresDSN string `yaml:"postgres_dsn"`
	Dir         string `yaml:"dir"`
}

// New creates a recorder based on configuration.
func New(ctx context.Context, cfg Config) (Recorder, error) {
	switch {
	case cfg.PostgresDSN != "":
		return NewPostgresRecorder(ctx, cfg.PostgresDSN)
	case cfg.Dir != "":
		return NewFileRecorder(cfg.Dir)
	default:
		return Noop{}, nil
	}
}

// Noop discards records.
type Noop struct{}

func (Noop) Record(context.Context, Record) error { return nil }

func (Noop) LastSuccess(context.Context, string, string) (*Record, error) {
	return nil, ErrNoRecord
}

func (Noop) Recent(context.Context, int) ([]Record, error) { return nil, nil }

func (Noop) Close() error { return nil }

func validate(rec Record) error {
	if rec.Dataset == "" || rec.BatchID == "" {
		return fmt.Errorf("record needs dataset and batch id")
	}
	switch rec.Status {
	case StatusSucceeded, StatusFailed, StatusTimedOut:
		return nil
	default:
		return fmt.Errorf("unknown record status %q", rec.Status)
	}
}
