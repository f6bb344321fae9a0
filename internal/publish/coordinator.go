package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/withObsrvr/top10-publisher/internal/logging"
)

// Coordinator resolves target datasets and submits update actions.
type Coordinator struct {
	api API
	log *slog.Logger
}

// NewCoordinator creates a coordinator over api.
func NewCoordinator(api API) *Coordinator {
	return &Coordinator{
		api: api,
		log: logging.Component("publish"),
	}
}

// Resolve finds the dataset whose name matches name exactly.
func (c *Coordinator) Resolve(ctx context.Context, name string) (Dataset, error) {
	datasets, err := c.api.ListDatasets(ctx)
	if err != nil {
		return Dataset{}, fmt.Errorf("list datasets: %w", err)
	}
	for _, ds := range datasets {
		if ds.Name == name {
			return ds, nil
		}
	}
	return Dataset{}, &NotFoundError{Kind: "dataset", Name: name}
}

// Submit issues actions against the uploaded payload of sessionID and
// returns the job id without waiting for it.
func (c *Coordinator) Submit(ctx context.Context, ds Dataset, sessionID string, actions []Action, requestID string) (string, error) {
	if err := checkSubmission(sessionID, actions, requestID); err != nil {
		return "", err
	}

	job, err := c.api.UpdateData(ctx, ds.ID, sessionID, actions, requestID)
	if err != nil {
		return "", fmt.Errorf("update dataset %s: %w", ds.Name, err)
	}
	if job.ID == "" {
		return "", fmt.Errorf("update dataset %s: %w", ds.Name, errors.New("server returned no job id"))
	}

	c.log.Info("update submitted",
		"dataset", ds.Name,
		"dataset_id", ds.ID,
		"session_id", sessionID,
		"request_id", requestID,
		"job_id", job.ID,
		"actions", len(actions),
	)
	return job.ID, nil
}

// Publish resolves datasetName and submits actions against it.
func (c *Coordinator) Publish(ctx context.Context, datasetName, sessionID string, actions []Action, requestID string) (string, error) {
	if err := checkSubmission(sessionID, actions, requestID); err != nil {
		return "", err
	}
	ds, err := c.Resolve(ctx, datasetName)
	if err != nil {
		return "", err
	}
	return c.Submit(ctx, ds, sessionID, actions, requestID)
}

func checkSubmission(sessionID string, actions []Action, requestID string) error {
	if sessionID == "" {
		return ErrEmptySession
	}
	if requestID == "" {
		return ErrEmptyRequestID
	}
	return ValidateActions(actions)
}
