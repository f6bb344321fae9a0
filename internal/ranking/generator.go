package ranking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/withObsrvr/top10-publisher/internal/logging"
)

// Generator produces a ranking for a topic. Implementations may retry
// internally; the pipeline never retries a failed generation.
type Generator interface {
	Generate(ctx context.Context, topic string) (*Result, error)
}

// GenerationError reports a failure of the upstream ranking generator.
type GenerationError struct {
	Topic string
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("ranking generation failed for %q: %v", e.Topic, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// LoadFile reads a ranking from a JSON file.
func LoadFile(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ranking %s: %w", path, err)
	}
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse ranking %s: %w", path, err)
	}
	return &r, nil
}

// HTTPGenerator calls an external ranking service.
// The service accepts POST {"topic": "..."} and answers with a Result.
type HTTPGenerator struct {
	endpoint string
	client   *http.Client
	now      func() time.Time
	log      *slog.Logger
}

// NewHTTPGenerator creates a generator posting to endpoint.
func NewHTTPGenerator(endpoint string, timeout time.Duration) *HTTPGenerator {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &HTTPGenerator{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		now:      time.Now,
		log:      logging.Component("generator"),
	}
}

// Generate requests a ranking for topic.
func (g *HTTPGenerator) Generate(ctx context.Context, topic string) (*Result, error) {
	body, err := json.Marshal(map[string]string{"topic": topic})
	if err != nil {
		return nil, &GenerationError{Topic: topic, Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &GenerationError{Topic: topic, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	g.log.Info("requesting ranking", "topic", topic, "endpoint", g.endpoint)
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &GenerationError{Topic: topic, Err: fmt.Errorf("http request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &GenerationError{Topic: topic, Err: fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))}
	}

	var r Result
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, &GenerationError{Topic: topic, Err: fmt.Errorf("decode response: %w", err)}
	}
	if r.GeneratedAt.IsZero() {
		r.GeneratedAt = g.now().UTC()
	}
	r.EnsureYearInMethodology(r.GeneratedAt.Year())
	return &r, nil
}

// FixtureGenerator serves pre-generated rankings from a directory of
// <slug>.json files. Useful for demos and offline runs.
type FixtureGenerator struct {
	dir string
	now func() time.Time
}

// NewFixtureGenerator creates a generator backed by dir.
func NewFixtureGenerator(dir string) *FixtureGenerator {
	return &FixtureGenerator{dir: dir, now: time.Now}
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slug converts a topic to its fixture file stem.
func Slug(topic string) string {
	return strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(topic), "-"), "-")
}

// Generate loads the fixture for topic and stamps it with the current time.
func (g *FixtureGenerator) Generate(ctx context.Context, topic string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, &GenerationError{Topic: topic, Err: err}
	}
	r, err := LoadFile(filepath.Join(g.dir, Slug(topic)+".json"))
	if err != nil {
		return nil, &GenerationError{Topic: topic, Err: err}
	}
	r.Topic = topic
	r.GeneratedAt = g.now().UTC()
	r.EnsureYearInMethodology(r.GeneratedAt.Year())
	return r, nil
}
