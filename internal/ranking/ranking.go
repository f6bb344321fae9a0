// Package ranking holds the top-10 ranking model produced by the generator
// and consumed by the extract pipeline.
package ranking

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// ItemCount is the number of items every ranking carries.
const ItemCount = 10

// Result is one generated top-10 ranking.
type Result struct {
	Topic       string    `json:"topic"`
	GeneratedAt time.Time `json:"generated_at"`
	Items       []Item    `json:"items"`
	Sources     []string  `json:"sources"`
	Methodology string    `json:"methodology"`
	Year        int       `json:"year"`
}

// Item is a single ranked entry.
type Item struct {
	Rank        int                `json:"rank"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Advantages  []string           `json:"advantages"`
	Metrics     map[string]float64 `json:"metrics"`
	Score       *float64           `json:"score,omitempty"`
}

// ScoreOrZero returns the item's score, or 0 when the generator left it out.
func (i Item) ScoreOrZero() float64 {
	if i.Score == nil {
		return 0
	}
	return *i.Score
}

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid ranking")

var itemNamePattern = regexp.MustCompile(`^[\p{L}\p{N} +#.\-_'&/()]+$`)

// Validate checks the structural invariants of a ranking: lengths, the
// 1..10 rank permutation, unique advantages and score bounds.
func (r *Result) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil result", ErrInvalid)
	}
	if n := utf8.RuneCountInString(r.Topic); n < 3 || n > 50 {
		return fmt.Errorf("%w: topic must be 3-50 characters, got %d", ErrInvalid, n)
	}
	if r.GeneratedAt.IsZero() {
		return fmt.Errorf("%w: generated_at is required", ErrInvalid)
	}
	if len(r.Items) != ItemCount {
		return fmt.Errorf("%w: expected %d items, got %d", ErrInvalid, ItemCount, len(r.Items))
	}
	if len(r.Sources) == 0 {
		return fmt.Errorf("%w: at least one source is required", ErrInvalid)
	}
	if n := utf8.RuneCountInString(r.Methodology); n < 100 {
		return fmt.Errorf("%w: methodology must be at least 100 characters, got %d", ErrInvalid, n)
	}

	seen := make(map[int]bool, ItemCount)
	for idx, item := range r.Items {
		if err := item.validate(); err != nil {
			return fmt.Errorf("%w: item %d: %v", ErrInvalid, idx, err)
		}
		if seen[item.Rank] {
			return fmt.Errorf("%w: duplicate rank %d", ErrInvalid, item.Rank)
		}
		seen[item.Rank] = true
	}
	return nil
}

func (i Item) validate() error {
	if i.Rank < 1 || i.Rank > ItemCount {
		return fmt.Errorf("rank %d out of range 1-%d", i.Rank, ItemCount)
	}
	if n := utf8.RuneCountInString(i.Name); n < 2 || n > 100 {
		return fmt.Errorf("name must be 2-100 characters, got %d", n)
	}
	if !itemNamePattern.MatchString(i.Name) {
		return fmt.Errorf("name %q contains unsupported characters", i.Name)
	}
	if n := utf8.RuneCountInString(i.Description); n < 50 || n > 500 {
		return fmt.Errorf("description must be 50-500 characters, got %d", n)
	}
	if n := len(i.Advantages); n < 3 || n > 5 {
		return fmt.Errorf("expected 3-5 advantages, got %d", n)
	}
	uniq := make(map[string]bool, len(i.Advantages))
	for _, a := range i.Advantages {
		if uniq[a] {
			return fmt.Errorf("duplicate advantage %q", a)
		}
		uniq[a] = true
	}
	if i.Score != nil && (!isFinite(*i.Score) || *i.Score < 0 || *i.Score > 10) {
		return fmt.Errorf("score %.2f out of range 0-10", *i.Score)
	}
	for name, v := range i.Metrics {
		if !isFinite(v) {
			return fmt.Errorf("metric %q is not a finite number", name)
		}
	}
	return nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// EnsureYearInMethodology prefixes the methodology with the analysis year
// when the generator did not mention it.
func (r *Result) EnsureYearInMethodology(year int) {
	y := fmt.Sprintf("%d", year)
	if strings.Contains(r.Methodology, y) {
		return
	}
	r.Methodology = fmt.Sprintf("Analysis performed in %s. %s", y, r.Methodology)
}
