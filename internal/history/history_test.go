package history

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

func sampleRecord(status string, finished time.Time) Record {
	return Record{
		Topic:      "Databases",
		Dataset:    "Rankings",
		BatchID:    "Databases_20240101000000",
		RequestID:  "update_20240101_000000_0a1b2c3d",
		JobID:      "job-1",
		Status:     status,
		Rows:       10,
		Bytes:      2048,
		StartedAt:  finished.Add(-time.Minute),
		FinishedAt: finished,
	}
}

func TestFileRecorderLastSuccess(t *testing.T) {
	dir := t.TempDir()
	rec, err := NewFileRecorder(dir)
	if err != nil {
		t.Fatalf("NewFileRecorder failed: %v", err)
	}
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, err := rec.LastSuccess(ctx, "Rankings", "Databases_20240101000000"); !errors.Is(err, ErrNoRecord) {
		t.Fatalf("empty history: got %v, want ErrNoRecord", err)
	}

	failed := sampleRecord(StatusFailed, base)
	failed.Stage = "upload"
	if err := rec.Record(ctx, failed); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if _, err := rec.LastSuccess(ctx, "Rankings", failed.BatchID); !errors.Is(err, ErrNoRecord) {
		t.Fatalf("failed attempt must not count as success, got %v", err)
	}

	ok := sampleRecord(StatusSucceeded, base.Add(time.Hour))
	ok.JobID = "job-2"
	if err := rec.Record(ctx, ok); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	got, err := rec.LastSuccess(ctx, "Rankings", ok.BatchID)
	if err != nil {
		t.Fatalf("LastSuccess failed: %v", err)
	}
	if got.JobID != "job-2" {
		t.Errorf("JobID = %s, want job-2", got.JobID)
	}
	if _, err := rec.LastSuccess(ctx, "Other", ok.BatchID); !errors.Is(err, ErrNoRecord) {
		t.Errorf("other dataset: got %v, want ErrNoRecord", err)
	}

	// A fresh recorder over the same directory sees the persisted history.
	again, err := NewFileRecorder(dir)
	if err != nil {
		t.Fatalf("NewFileRecorder failed: %v", err)
	}
	recent, err := again.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 1 || recent[0].Status != StatusSucceeded {
		t.Errorf("Recent = %+v, want the succeeded attempt first", recent)
	}
}

func TestRecordValidation(t *testing.T) {
	rec, err := NewFileRecorder(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileRecorder failed: %v", err)
	}
	bad := sampleRecord("maybe", time.Now())
	if err := rec.Record(context.Background(), bad); err == nil {
		t.Error("expected error for unknown status")
	}
	bad = sampleRecord(StatusFailed, time.Now())
	bad.BatchID = ""
	if err := rec.Record(context.Background(), bad); err == nil {
		t.Error("expected error for missing batch id")
	}
}

func TestNewSelectsBackend(t *testing.T) {
	ctx := context.Background()

	r, err := New(ctx, Config{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := r.(Noop); !ok {
		t.Errorf("empty config should give Noop, got %T", r)
	}
	if _, err := r.LastSuccess(ctx, "a", "b"); !errors.Is(err, ErrNoRecord) {
		t.Errorf("Noop LastSuccess = %v, want ErrNoRecord", err)
	}

	r, err = New(ctx, Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := r.(*FileRecorder); !ok {
		t.Errorf("dir config should give FileRecorder, got %T", r)
	}
}

func TestPostgresRecorder(t *testing.T) {
	dsn := os.Getenv("HISTORY_TEST_DSN")
	if dsn == "" {
		t.Skip("HISTORY_TEST_DSN not set")
	}
	ctx := context.Background()
	rec, err := NewPostgresRecorder(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPostgresRecorder failed: %v", err)
	}
	defer rec.Close()

	r := sampleRecord(StatusSucceeded, time.Now().UTC())
	r.BatchID = "pgtest_" + time.Now().UTC().Format("20060102150405.000000000")
	if err := rec.Record(ctx, r); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	got, err := rec.LastSuccess(ctx, r.Dataset, r.BatchID)
	if err != nil {
		t.Fatalf("LastSuccess failed: %v", err)
	}
	if got.JobID != r.JobID {
		t.Errorf("JobID = %s, want %s", got.JobID, r.JobID)
	}
}
