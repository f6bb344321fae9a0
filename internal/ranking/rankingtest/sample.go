// Package rankingtest builds valid rankings for tests.
package rankingtest

import (
	"fmt"
	"strings"
	"time"

	"github.com/withObsrvr/top10-publisher/internal/ranking"
)

var languages = []string{
	"Python", "JavaScript", "TypeScript", "Java", "C++",
	"Go", "Rust", "C#", "Kotlin", "Swift",
}

// Sample returns a valid ten-item ranking for topic generated at at.
// Item i (0-based) has rank i+1 and score 10-i*0.5; the last item has no score.
func Sample(topic string, at time.Time) *ranking.Result {
	items := make([]ranking.Item, 0, ranking.ItemCount)
	for i, name := range languages {
		item := ranking.Item{
			Rank:        i + 1,
			Name:        name,
			Description: fmt.Sprintf("%s is a widely used programming language with a mature ecosystem and tooling.", name),
			Advantages:  []string{name + " ecosystem", name + " community", name + " performance"},
			Metrics: map[string]float64{
				"popularity": 10 - float64(i)*0.7,
				"growth":     float64(i) * 0.3,
			},
		}
		if i < len(languages)-1 {
			score := 10 - float64(i)*0.5
			item.Score = &score
		}
		items = append(items, item)
	}

	return &ranking.Result{
		Topic:       topic,
		GeneratedAt: at,
		Items:       items,
		Sources:     []string{"https://example.com/rankings", "https://survey.example.org/2024"},
		Methodology: "Combined analysis of GitHub activity, Stack Overflow trends, and industry adoption rates. " +
			strings.Repeat("Weighted by recency. ", 3),
		Year: at.Year(),
	}
}
