package kb

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/kailas-cloud/mathroute/internal/domain/query"
)

// Provenance records how a record entered the knowledge base.
type Provenance string

// Provenance values.
const (
	Seeded        Provenance = "seeded"
	UserValidated Provenance = "user_validated"
)

// Origin records which tier produced a user-validated answer.
type Origin string

// Origin values.
const (
	OriginWeb Origin = "web"
	OriginAI  Origin = "ai"
)

// Record is a knowledge-base entry (immutable aggregate).
type Record struct {
	id           string
	question     string
	questionNorm string
	answer       string
	steps        string
	embedding    []float32
	topic        string
	subtopic     string
	difficulty   string
	provenance   Provenance
	origin       Origin
	createdAt    time.Time
}

// Params groups the inputs of New.
type Params struct {
	Question   string
	Answer     string
	Steps      string
	Embedding  []float32
	Topic      string
	Subtopic   string
	Difficulty string
	Provenance Provenance
	Origin     Origin
	CreatedAt  time.Time
}

// New validates and creates a Record.
// Question and answer are required; origin is required for user-validated records and forbidden otherwise.
func New(p Params) (Record, error) {
	question := strings.TrimSpace(p.Question)
	answer := strings.TrimSpace(p.Answer)
	if question == "" {
		return Record{}, fmt.Errorf("question is required")
	}
	if answer == "" {
		return Record{}, fmt.Errorf("answer is required")
	}
	switch p.Provenance {
	case Seeded:
		if p.Origin != "" {
			return Record{}, fmt.Errorf("origin is only allowed for user-validated records")
		}
	case UserValidated:
		if p.Origin != OriginWeb && p.Origin != OriginAI {
			return Record{}, fmt.Errorf("origin must be %q or %q for user-validated records", OriginWeb, OriginAI)
		}
	default:
		return Record{}, fmt.Errorf("unknown provenance %q", p.Provenance)
	}

	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	norm := query.Normalize(question)

	return Record{
		id:           ID(question, answer),
		question:     question,
		questionNorm: norm,
		answer:       answer,
		steps:        p.Steps,
		embedding:    p.Embedding,
		topic:        p.Topic,
		subtopic:     p.Subtopic,
		difficulty:   p.Difficulty,
		provenance:   p.Provenance,
		origin:       p.Origin,
		createdAt:    createdAt,
	}, nil
}

// Reconstruct creates a Record without validation (storage hydration).
func Reconstruct(id string, p Params) Record {
	return Record{
		id:           id,
		question:     p.Question,
		questionNorm: query.Normalize(p.Question),
		answer:       p.Answer,
		steps:        p.Steps,
		embedding:    p.Embedding,
		topic:        p.Topic,
		subtopic:     p.Subtopic,
		difficulty:   p.Difficulty,
		provenance:   p.Provenance,
		origin:       p.Origin,
		createdAt:    p.CreatedAt,
	}
}

// ID derives the record identity from the (question, answer) pair.
func ID(question, answer string) string {
	sum := sha256.Sum256([]byte(query.Normalize(question) + "\x00" + strings.TrimSpace(answer)))
	return hex.EncodeToString(sum[:])[:32]
}

// ID returns the pair-derived identifier.
func (r *Record) ID() string { return r.id }

// Question returns the original question text.
func (r *Record) Question() string { return r.question }

// QuestionNorm returns the normalized question used for exact matching.
func (r *Record) QuestionNorm() string { return r.questionNorm }

// Answer returns the answer text.
func (r *Record) Answer() string { return r.answer }

// Steps returns the worked solution.
func (r *Record) Steps() string { return r.steps }

// Embedding returns the question vector.
func (r *Record) Embedding() []float32 { return r.embedding }

// Topic returns the topic label.
func (r *Record) Topic() string { return r.topic }

// Subtopic returns the subtopic label.
func (r *Record) Subtopic() string { return r.subtopic }

// Difficulty returns the difficulty label.
func (r *Record) Difficulty() string { return r.difficulty }

// Provenance returns how the record entered the store.
func (r *Record) Provenance() Provenance { return r.provenance }

// Origin returns the producing tier of a user-validated record.
func (r *Record) Origin() Origin { return r.origin }

// CreatedAt returns the insertion time.
func (r *Record) CreatedAt() time.Time { return r.createdAt }

// WithEmbedding returns a copy with the given vector set.
func (r *Record) WithEmbedding(v []float32) Record {
	c := *r
	c.embedding = v
	return c
}

// Candidate is a similarity hit.
type Candidate struct {
	Record Record
	Score  float64
}
