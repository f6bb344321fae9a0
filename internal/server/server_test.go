package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/top10-publisher/internal/history"
	"github.com/withObsrvr/top10-publisher/internal/logging"
	"github.com/withObsrvr/top10-publisher/internal/pipeline"
)

type stubRunner struct {
	report        *pipeline.Report
	topics        []string
	correlationID string
}

func (r *stubRunner) Run(ctx context.Context, topic string) *pipeline.Report {
	r.topics = append(r.topics, topic)
	r.correlationID = logging.CorrelationID(ctx)
	return r.report
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestAnalyzeSuccess(t *testing.T) {
	runner := &stubRunner{report: &pipeline.Report{
		Status:  pipeline.StatusSuccess,
		Message: "ok",
		Details: pipeline.Details{Topic: "Best Programming Languages 2024", ItemsCount: 10, JobID: "job-1"},
	}}
	s := New(runner)

	rec := do(t, s, http.MethodPost, "/analyze", `{"topic":"  Best Programming Languages 2024 "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"Best Programming Languages 2024"}, runner.topics)
	assert.NotEmpty(t, runner.correlationID, "request id is propagated as correlation id")

	var got pipeline.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, pipeline.StatusSuccess, got.Status)
	assert.Equal(t, "job-1", got.Details.JobID)
	assert.Equal(t, 10, got.Details.ItemsCount)
}

func TestAnalyzeFailureReturnsReport(t *testing.T) {
	runner := &stubRunner{report: &pipeline.Report{
		Status: pipeline.StatusFailure,
		Stage:  pipeline.StageResolve,
		Error:  `dataset "Top10Rankings" not found`,
	}}
	s := New(runner)

	rec := do(t, s, http.MethodPost, "/analyze", `{"topic":"Best Editors"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var got pipeline.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, pipeline.StageResolve, got.Stage)
	assert.NotEmpty(t, got.Error)
}

func TestAnalyzeRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `topic=x`},
		{"too short", `{"topic":"Go"}`},
		{"blank", `{"topic":"    "}`},
		{"too long", `{"topic":"` + strings.Repeat("x", 51) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &stubRunner{}
			rec := do(t, New(runner), http.MethodPost, "/analyze", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, runner.topics)
		})
	}
}

func TestHealth(t *testing.T) {
	rec := do(t, New(&stubRunner{}), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestOptionalRoutes(t *testing.T) {
	s := New(&stubRunner{})
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/metrics", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/history", "").Code)

	s = New(&stubRunner{}, WithMetrics())
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/metrics", "").Code)
}

func TestHistory(t *testing.T) {
	rec, err := history.NewFileRecorder(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, status := range []string{history.StatusFailed, history.StatusSucceeded} {
		require.NoError(t, rec.Record(ctx, history.Record{
			Topic:      "Best Editors",
			Dataset:    "Top10Rankings",
			BatchID:    "Best Editors_20240101000000",
			Status:     status,
			StartedAt:  now.Add(time.Duration(i) * time.Minute),
			FinishedAt: now.Add(time.Duration(i) * time.Minute),
		}))
	}

	s := New(&stubRunner{}, WithHistory(rec))
	resp := do(t, s, http.MethodGet, "/history?limit=1", "")
	require.Equal(t, http.StatusOK, resp.Code)

	var got []history.Record
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, history.StatusSucceeded, got[0].Status)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/history?limit=zero", "").Code)
}
