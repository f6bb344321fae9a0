// Package extract converts rankings into rows and writes them into a
// columnar extract file.
package extract

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/withObsrvr/top10-publisher/internal/ranking"
)

// Row is one record of the Extract.Rankings table.
type Row struct {
	Topic       string    `parquet:"topic"`
	GeneratedAt time.Time `parquet:"generated_at,timestamp(millisecond)"`
	Rank        int32     `parquet:"rank"`
	ItemName    string    `parquet:"item_name"`
	Score       float64   `parquet:"score"`
	Advantages  string    `parquet:"advantages"` // JSON array
	Metrics     string    `parquet:"metrics"`    // JSON object
	Sources     string    `parquet:"sources"`    // JSON array
	Methodology string    `parquet:"methodology"`
	BatchID     string    `parquet:"batch_id"`
}

// batchTimeLayout is YYYYMMDDHHMMSS.
const batchTimeLayout = "20060102150405"

// BatchID correlates every row produced from one ranking generation.
func BatchID(topic string, generatedAt time.Time) string {
	return topic + "_" + generatedAt.UTC().Format(batchTimeLayout)
}

// Convert maps a ranking to one row per item, preserving item order.
// It fails only when a collection cannot be encoded, which a validated
// ranking never triggers.
func Convert(r *ranking.Result) ([]Row, error) {
	batchID := BatchID(r.Topic, r.GeneratedAt)
	sources, err := encodeJSON(r.Sources, "[]")
	if err != nil {
		return nil, fmt.Errorf("encode sources: %w", err)
	}

	rows := make([]Row, 0, len(r.Items))
	for _, item := range r.Items {
		advantages, err := encodeJSON(item.Advantages, "[]")
		if err != nil {
			return nil, fmt.Errorf("encode advantages of rank %d: %w", item.Rank, err)
		}
		metrics, err := encodeJSON(item.Metrics, "{}")
		if err != nil {
			return nil, fmt.Errorf("encode metrics of rank %d: %w", item.Rank, err)
		}
		rows = append(rows, Row{
			Topic:       r.Topic,
			GeneratedAt: r.GeneratedAt.UTC(),
			Rank:        int32(item.Rank),
			ItemName:    item.Name,
			Score:       item.ScoreOrZero(),
			Advantages:  advantages,
			Metrics:     metrics,
			Sources:     sources,
			Methodology: r.Methodology,
			BatchID:     batchID,
		})
	}
	return rows, nil
}

// encodeJSON marshals v, substituting empty for nil collections.
func encodeJSON[T any](v T, empty string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return empty, nil
	}
	return string(b), nil
}

// DecodeAdvantages parses the advantages column.
func (r Row) DecodeAdvantages() ([]string, error) {
	var out []string
	err := json.Unmarshal([]byte(r.Advantages), &out)
	return out, err
}

// DecodeMetrics parses the metrics column.
func (r Row) DecodeMetrics() (map[string]float64, error) {
	var out map[string]float64
	err := json.Unmarshal([]byte(r.Metrics), &out)
	return out, err
}

// DecodeSources parses the sources column.
func (r Row) DecodeSources() ([]string, error) {
	var out []string
	err := json.Unmarshal([]byte(r.Sources), &out)
	return out, err
}
