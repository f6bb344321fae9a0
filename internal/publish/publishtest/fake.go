// Package publishtest provides an in-memory publish.Service for tests.
package publishtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/withObsrvr/top10-publisher/internal/publish"
)

// ErrInjected is a convenient error for scripted failures.
var ErrInjected = errors.New("injected failure")

// Update records one UpdateData call.
type Update struct {
	DatasetID string
	SessionID string
	Actions   []publish.Action
	RequestID string
}

// Fake is an in-memory analytics server. Zero-value error fields succeed.
// GetJob walks Script in order and repeats its last element; an empty
// script reports success immediately.
type Fake struct {
	Datasets []publish.Dataset
	JobID    string
	Script   []publish.Job

	SignInErr   error
	ListErr     error
	InitiateErr error
	AppendErr   error
	// AppendFailAt fails the nth append (1-based) with AppendErr when set.
	AppendFailAt int
	UpdateErr    error
	GetJobErr    error

	mu           sync.Mutex
	SignIns      int
	SignOuts     int
	Lists        int
	Sessions     []string
	Appends      int
	ContentTypes []string
	Updates      []Update
	Polls        int
	payloads     map[string][]byte
}

// New returns a fake serving one dataset named datasetName.
func New(datasetName string) *Fake {
	return &Fake{
		Datasets: []publish.Dataset{{ID: "ds-" + datasetName, Name: datasetName}},
	}
}

// Running is a job without a finish code.
func Running(id string) publish.Job {
	started := time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC)
	return publish.Job{ID: id, StartedAt: &started}
}

// Finished is a job with the given finish code.
func Finished(id string, code int, notes string) publish.Job {
	done := time.Date(2024, 1, 1, 0, 0, 5, 0, time.UTC)
	return publish.Job{ID: id, FinishCode: &code, CompletedAt: &done, Notes: notes}
}

// SignIn implements publish.Service.
func (f *Fake) SignIn(ctx context.Context) (publish.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SignInErr != nil {
		return nil, f.SignInErr
	}
	f.SignIns++
	return f, nil
}

// SignOut implements publish.Session.
func (f *Fake) SignOut(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SignOuts++
	return nil
}

func (f *Fake) ListDatasets(ctx context.Context) ([]publish.Dataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Lists++
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	return append([]publish.Dataset(nil), f.Datasets...), nil
}

func (f *Fake) InitiateUpload(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.InitiateErr != nil {
		return "", f.InitiateErr
	}
	id := fmt.Sprintf("upload-%d", len(f.Sessions)+1)
	f.Sessions = append(f.Sessions, id)
	if f.payloads == nil {
		f.payloads = make(map[string][]byte)
	}
	f.payloads[id] = nil
	return id, nil
}

func (f *Fake) AppendUpload(ctx context.Context, sessionID string, chunk []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Appends++
	if f.AppendErr != nil && (f.AppendFailAt == 0 || f.AppendFailAt == f.Appends) {
		return f.AppendErr
	}
	if _, ok := f.payloads[sessionID]; !ok {
		return fmt.Errorf("unknown upload session %s", sessionID)
	}
	f.payloads[sessionID] = append(f.payloads[sessionID], chunk...)
	f.ContentTypes = append(f.ContentTypes, contentType)
	return nil
}

func (f *Fake) UpdateData(ctx context.Context, datasetID, sessionID string, actions []publish.Action, requestID string) (publish.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.UpdateErr != nil {
		return publish.Job{}, f.UpdateErr
	}
	if _, ok := f.payloads[sessionID]; !ok {
		return publish.Job{}, fmt.Errorf("unknown upload session %s", sessionID)
	}
	f.Updates = append(f.Updates, Update{
		DatasetID: datasetID,
		SessionID: sessionID,
		Actions:   append([]publish.Action(nil), actions...),
		RequestID: requestID,
	})
	id := f.JobID
	if id == "" {
		id = fmt.Sprintf("job-%d", len(f.Updates))
	}
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return publish.Job{ID: id, CreatedAt: &created}, nil
}

func (f *Fake) GetJob(ctx context.Context, jobID string) (publish.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Polls++
	if f.GetJobErr != nil {
		return publish.Job{}, f.GetJobErr
	}
	if len(f.Script) == 0 {
		return Finished(jobID, publish.FinishSucceeded, ""), nil
	}
	idx := min(f.Polls-1, len(f.Script)-1)
	job := f.Script[idx]
	if job.ID == "" {
		job.ID = jobID
	}
	return job, nil
}

// Payload returns the bytes appended to an upload session.
func (f *Fake) Payload(sessionID string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.payloads[sessionID]...)
}
