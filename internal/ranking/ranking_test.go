package ranking_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/top10-publisher/internal/ranking"
	"github.com/withObsrvr/top10-publisher/internal/ranking/rankingtest"
)

var generatedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestValidateAcceptsSample(t *testing.T) {
	r := rankingtest.Sample("Best Programming Languages 2024", generatedAt)
	require.NoError(t, r.Validate())
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *ranking.Result)
		want   string
	}{
		{"short topic", func(r *ranking.Result) { r.Topic = "ab" }, "topic"},
		{"nine items", func(r *ranking.Result) { r.Items = r.Items[:9] }, "expected 10 items"},
		{"no sources", func(r *ranking.Result) { r.Sources = nil }, "source"},
		{"short methodology", func(r *ranking.Result) { r.Methodology = "too short" }, "methodology"},
		{"duplicate rank", func(r *ranking.Result) { r.Items[9].Rank = 1 }, "duplicate rank"},
		{"rank out of range", func(r *ranking.Result) { r.Items[0].Rank = 11 }, "out of range"},
		{"bad name", func(r *ranking.Result) { r.Items[0].Name = "Py<thon>" }, "unsupported characters"},
		{"short description", func(r *ranking.Result) { r.Items[0].Description = "short" }, "description"},
		{"two advantages", func(r *ranking.Result) { r.Items[0].Advantages = []string{"a", "b"} }, "advantages"},
		{"duplicate advantage", func(r *ranking.Result) { r.Items[0].Advantages = []string{"a", "b", "a"} }, "duplicate advantage"},
		{"score too high", func(r *ranking.Result) { s := 10.5; r.Items[0].Score = &s }, "score"},
		{"NaN score", func(r *ranking.Result) { s := math.NaN(); r.Items[1].Score = &s }, "score"},
		{"infinite score", func(r *ranking.Result) { s := math.Inf(1); r.Items[1].Score = &s }, "score"},
		{"NaN metric", func(r *ranking.Result) {
			r.Items[0].Metrics = map[string]float64{"speed": 9.5, "bad": math.NaN()}
		}, `metric "bad"`},
		{"infinite metric", func(r *ranking.Result) {
			r.Items[2].Metrics = map[string]float64{"growth": math.Inf(-1)}
		}, "finite"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := rankingtest.Sample("Best Programming Languages 2024", generatedAt)
			tt.mutate(r)
			err := r.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ranking.ErrInvalid)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestScoreOrZero(t *testing.T) {
	s := 7.5
	assert.Equal(t, 7.5, ranking.Item{Score: &s}.ScoreOrZero())
	assert.Equal(t, 0.0, ranking.Item{}.ScoreOrZero())
}

func TestEnsureYearInMethodology(t *testing.T) {
	r := &ranking.Result{Methodology: "Survey of developers."}
	r.EnsureYearInMethodology(2024)
	assert.Equal(t, "Analysis performed in 2024. Survey of developers.", r.Methodology)

	r.EnsureYearInMethodology(2024)
	assert.Equal(t, "Analysis performed in 2024. Survey of developers.", r.Methodology, "year already present")
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "best-programming-languages-2024", ranking.Slug("Best Programming Languages 2024"))
	assert.Equal(t, "c-c-tools", ranking.Slug("  C/C++ Tools! "))
}

func TestLoadFileAndFixtureGenerator(t *testing.T) {
	dir := t.TempDir()
	sample := rankingtest.Sample("Best Programming Languages 2024", generatedAt)
	sample.Methodology = strings.Repeat("Benchmarks and surveys. ", 6)
	data, err := json.Marshal(sample)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "best-programming-languages-2024.json"), data, 0o644))

	loaded, err := ranking.LoadFile(filepath.Join(dir, "best-programming-languages-2024.json"))
	require.NoError(t, err)
	assert.Equal(t, sample.Topic, loaded.Topic)
	assert.Len(t, loaded.Items, ranking.ItemCount)

	gen := ranking.NewFixtureGenerator(dir)
	r, err := gen.Generate(context.Background(), "Best Programming Languages 2024")
	require.NoError(t, err)
	assert.False(t, r.GeneratedAt.IsZero())
	assert.Contains(t, r.Methodology, "Analysis performed in")

	_, err = gen.Generate(context.Background(), "Unknown Topic")
	var genErr *ranking.GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, "Unknown Topic", genErr.Topic)
}

func TestHTTPGenerator(t *testing.T) {
	sample := rankingtest.Sample("Best Programming Languages 2024", generatedAt)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		if req["topic"] == "boom" {
			http.Error(w, "model overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sample)
	}))
	defer srv.Close()

	gen := ranking.NewHTTPGenerator(srv.URL, time.Second)

	r, err := gen.Generate(context.Background(), sample.Topic)
	require.NoError(t, err)
	assert.True(t, r.GeneratedAt.Equal(generatedAt))
	require.NoError(t, r.Validate())

	_, err = gen.Generate(context.Background(), "boom")
	var genErr *ranking.GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Contains(t, genErr.Error(), "http 503")
	assert.False(t, errors.Is(err, ranking.ErrInvalid))
}
