// Dataset rows and their conversion into seeded knowledge base records.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kailas-cloud/mathroute/internal/domain/kb"
)

// datasetRow is one entry of a normalized math dataset.
type datasetRow struct {
	Question   flexText `json:"question"`
	Answer     flexText `json:"answer"`
	Steps      flexText `json:"steps"`
	Topic      flexText `json:"topic"`
	Subtopic   flexText `json:"subtopic"`
	Difficulty flexText `json:"difficulty"`
}

// flexText accepts a string, a number, null or a list of those (joined by newlines).
// Dataset generators disagree on whether steps and answers are scalars or lists.
type flexText string

func (f *flexText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*f = ""
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("text: %w", err)
		}
		*f = flexText(s)
		return nil
	case data[0] == '[':
		var items []flexText
		if err := json.Unmarshal(data, &items); err != nil {
			return fmt.Errorf("text list: %w", err)
		}
		parts := make([]string, 0, len(items))
		for _, it := range items {
			if s := strings.TrimSpace(string(it)); s != "" {
				parts = append(parts, s)
			}
		}
		*f = flexText(strings.Join(parts, "\n"))
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("text: unsupported value %s", data)
		}
		*f = flexText(n.String())
		return nil
	}
}

// toRecord builds a seeded record from a row and its question embedding.
func toRecord(row *datasetRow, embedding []float32, now time.Time) (kb.Record, error) {
	rec, err := kb.New(kb.Params{
		Question:   string(row.Question),
		Answer:     string(row.Answer),
		Steps:      string(row.Steps),
		Embedding:  embedding,
		Topic:      string(row.Topic),
		Subtopic:   string(row.Subtopic),
		Difficulty: string(row.Difficulty),
		Provenance: kb.Seeded,
		CreatedAt:  now,
	})
	if err != nil {
		return kb.Record{}, fmt.Errorf("build record: %w", err)
	}
	return rec, nil
}

// valid reports whether the row can become a record.
func (r *datasetRow) valid() bool {
	return strings.TrimSpace(string(r.Question)) != "" && strings.TrimSpace(string(r.Answer)) != ""
}
