package kb

import (
	"encoding/binary"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/kailas-cloud/mathroute/internal/domain/kb"
	"github.com/kailas-cloud/mathroute/internal/domain/query"
)

// Hash field names.
const (
	fieldQuestion     = "question"
	fieldQuestionNorm = "question_norm"
	fieldQuestionKey  = "question_key"
	fieldAnswer       = "answer"
	fieldSteps        = "steps"
	fieldTopic        = "topic"
	fieldSubtopic     = "subtopic"
	fieldDifficulty   = "difficulty"
	fieldProvenance   = "provenance"
	fieldOrigin       = "origin"
	fieldCreatedAt    = "created_at"
	fieldVector       = "__vector"
)

// returnFields are fetched by searches; the vector blob is never read back.
var returnFields = []string{
	fieldQuestion, fieldAnswer, fieldSteps, fieldTopic, fieldSubtopic,
	fieldDifficulty, fieldProvenance, fieldOrigin, fieldCreatedAt,
}

// buildHashFields converts a record into a flat map for HSET.
func buildHashFields(rec *kb.Record) map[string]string {
	m := map[string]string{
		fieldQuestion:     rec.Question(),
		fieldQuestionNorm: rec.QuestionNorm(),
		fieldQuestionKey:  query.Hash(rec.QuestionNorm()),
		fieldAnswer:       rec.Answer(),
		fieldSteps:        rec.Steps(),
		fieldProvenance:   string(rec.Provenance()),
		fieldCreatedAt:    strconv.FormatInt(rec.CreatedAt().UnixMilli(), 10),
		fieldVector:       vectorToBytes(rec.Embedding()),
	}
	// Empty TAG values are left out so they never match a filter.
	setIfNotEmpty(m, fieldTopic, rec.Topic())
	setIfNotEmpty(m, fieldSubtopic, rec.Subtopic())
	setIfNotEmpty(m, fieldDifficulty, rec.Difficulty())
	setIfNotEmpty(m, fieldOrigin, string(rec.Origin()))
	return m
}

func setIfNotEmpty(m map[string]string, k, v string) {
	if v != "" {
		m[k] = v
	}
}

// parseHashFields converts hash fields back into a record.
func parseHashFields(id string, m map[string]string) kb.Record {
	var createdAt time.Time
	if ms, err := strconv.ParseInt(m[fieldCreatedAt], 10, 64); err == nil {
		createdAt = time.UnixMilli(ms).UTC()
	}
	var vec []float32
	if raw, ok := m[fieldVector]; ok {
		vec = bytesToVector(raw)
	}
	return kb.Reconstruct(id, kb.Params{
		Question:   m[fieldQuestion],
		Answer:     m[fieldAnswer],
		Steps:      m[fieldSteps],
		Embedding:  vec,
		Topic:      m[fieldTopic],
		Subtopic:   m[fieldSubtopic],
		Difficulty: m[fieldDifficulty],
		Provenance: kb.Provenance(m[fieldProvenance]),
		Origin:     kb.Origin(m[fieldOrigin]),
		CreatedAt:  createdAt,
	})
}

// recordID strips the key prefix from a hash key.
func recordID(key string) string {
	return strings.TrimPrefix(key, keyPrefix())
}

// vectorToBytes serializes []float32 to a binary string (4 bytes per float, little-endian).
func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}

// bytesToVector deserializes a binary string back to []float32.
func bytesToVector(s string) []float32 {
	b := []byte(s)
	n := len(b) / 4
	v := make([]float32, n)
	for i := range n {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
