// Package publish moves a built extract to the remote analytics server:
// chunked upload sessions, dataset resolution, update actions and job
// tracking.
package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ContentType identifies the extract format on upload.
const ContentType = "application/x-parquet"

// Defaults applied by Config.WithDefaults.
const (
	DefaultAPIVersion   = "3.19"
	DefaultChunkSize    = 64 << 20
	DefaultPollInterval = 5 * time.Second
	DefaultWaitTimeout  = 5 * time.Minute
	DefaultHTTPTimeout  = 60 * time.Second
)

// Config is the immutable connection and behaviour configuration of the
// publish components.
type Config struct {
	ServerURL    string        `yaml:"server_url"`
	APIVersion   string        `yaml:"api_version"`
	Site         string        `yaml:"site"`
	TokenName    string        `yaml:"token_name"`
	TokenValue   string        `yaml:"token_value"`
	Dataset      string        `yaml:"dataset"`
	Action       string        `yaml:"action"` // "insert" | "replace"
	ChunkSize    int           `yaml:"chunk_size"`
	PollInterval time.Duration `yaml:"poll_interval"`
	WaitTimeout  time.Duration `yaml:"wait_timeout"`
	HTTPTimeout  time.Duration `yaml:"http_timeout"`
}

// WithDefaults returns a copy of c with zero values replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.APIVersion == "" {
		c.APIVersion = DefaultAPIVersion
	}
	if c.Action == "" {
		c.Action = string(ActionInsert)
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = DefaultWaitTimeout
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = DefaultHTTPTimeout
	}
	return c
}

// Validate checks that the credentials and target are present.
func (c Config) Validate() error {
	var missing []string
	if c.ServerURL == "" {
		missing = append(missing, "server_url")
	}
	if c.TokenName == "" {
		missing = append(missing, "token_name")
	}
	if c.TokenValue == "" {
		missing = append(missing, "token_value")
	}
	if c.Dataset == "" {
		missing = append(missing, "dataset")
	}
	if len(missing) > 0 {
		return fmt.Errorf("publish config missing %s", strings.Join(missing, ", "))
	}
	switch ActionKind(c.Action) {
	case "", ActionInsert, ActionReplace:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidAction, c.Action)
	}
	return nil
}

// Dataset is a published data source on the remote server.
type Dataset struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Project string `json:"project,omitempty"`
}

// ActionKind names how uploaded rows merge into the target table.
type ActionKind string

const (
	ActionInsert  ActionKind = "insert"
	ActionReplace ActionKind = "replace"
)

// Action is one entry of an update request.
type Action struct {
	Action       ActionKind `json:"action"`
	SourceSchema string     `json:"source-schema"`
	SourceTable  string     `json:"source-table"`
	TargetSchema string     `json:"target-schema"`
	TargetTable  string     `json:"target-table"`
}

// Validate rejects unknown kinds and empty table references.
func (a Action) Validate() error {
	if a.Action != ActionInsert && a.Action != ActionReplace {
		return fmt.Errorf("%w: %q", ErrInvalidAction, a.Action)
	}
	if a.SourceSchema == "" || a.SourceTable == "" || a.TargetSchema == "" || a.TargetTable == "" {
		return fmt.Errorf("%w: %s action needs source and target schema/table", ErrInvalidAction, a.Action)
	}
	return nil
}

// DefaultActions maps schema.table onto the same schema.table on the
// server with the given kind.
func DefaultActions(kind ActionKind, schema, table string) []Action {
	return []Action{{
		Action:       kind,
		SourceSchema: schema,
		SourceTable:  table,
		TargetSchema: schema,
		TargetTable:  table,
	}}
}

// ValidateActions checks that at least one valid action is present.
func ValidateActions(actions []Action) error {
	if len(actions) == 0 {
		return ErrNoActions
	}
	for i, a := range actions {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
	}
	return nil
}

// NewRequestID returns a fresh idempotency key for one publish attempt.
// Every call yields a different key, even within the same second.
func NewRequestID(now time.Time) string {
	return "update_" + now.UTC().Format("20060102_150405") + "_" + uuid.NewString()[:8]
}

// Job is the remote view of an asynchronous update.
type Job struct {
	ID          string
	FinishCode  *int // nil while the job has not finished
	CreatedAt   *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Notes       string
}

// API is the remote capability the publish components depend on.
// AppendUpload must not retain chunk after it returns.
type API interface {
	ListDatasets(ctx context.Context) ([]Dataset, error)
	InitiateUpload(ctx context.Context) (string, error)
	AppendUpload(ctx context.Context, sessionID string, chunk []byte, contentType string) error
	UpdateData(ctx context.Context, datasetID, sessionID string, actions []Action, requestID string) (Job, error)
	GetJob(ctx context.Context, jobID string) (Job, error)
}

// Session is an authenticated API scope. SignOut releases it.
type Session interface {
	API
	SignOut(ctx context.Context) error
}

// Service opens authenticated sessions.
type Service interface {
	SignIn(ctx context.Context) (Session, error)
}

var (
	// ErrNoActions is returned when an update carries no actions.
	ErrNoActions = errors.New("at least one action is required")
	// ErrInvalidAction is wrapped for malformed actions.
	ErrInvalidAction = errors.New("invalid action")
	// ErrEmptyRequestID is returned when no idempotency key is supplied.
	ErrEmptyRequestID = errors.New("request id is required")
	// ErrEmptySession is returned when no upload session id is supplied.
	ErrEmptySession = errors.New("upload session id is required")
)
