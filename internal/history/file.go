package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const historyFile = "publish_history.json"

// FileRecorder keeps history in a JSON file, rewritten atomically on each
// record.
type FileRecorder struct {
	path string
	mu   sync.Mutex
}

// NewFileRecorder stores history under dir.
func NewFileRecorder(dir string) (*FileRecorder, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create history directory %s: %w", dir, err)
	}
	return &FileRecorder{path: filepath.Join(dir, historyFile)}, nil
}

func (f *FileRecorder) load() ([]Record, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read history file: %w", err)
	}
	var recs []Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("parse history file: %w", err)
	}
	return recs, nil
}

// Record appends rec to the history file.
func (f *FileRecorder) Record(ctx context.Context, rec Record) error {
	if err := validate(rec); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	recs, err := f.load()
	if err != nil {
		return err
	}
	recs = append(recs, rec)

	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	tempPath := f.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write history temp file: %w", err)
	}
	if err := os.Rename(tempPath, f.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename history file: %w", err)
	}
	return nil
}

// LastSuccess scans for the newest succeeded attempt of dataset/batchID.
func (f *FileRecorder) LastSuccess(ctx context.Context, dataset, batchID string) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	recs, err := f.load()
	if err != nil {
		return nil, err
	}
	for i := len(recs) - 1; i >= 0; i-- {
		r := recs[i]
		if r.Dataset == dataset && r.BatchID == batchID && r.Status == StatusSucceeded {
			return &r, nil
		}
	}
	return nil, ErrNoRecord
}

// Recent returns up to limit records, newest first.
func (f *FileRecorder) Recent(ctx context.Context, limit int) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	recs, err := f.load()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].FinishedAt.After(recs[j].FinishedAt)
	})
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// Close is a no-op.
func (f *FileRecorder) Close() error { return nil }
