package trace

import (
	"time"

	"github.com/google/uuid"

	"github.com/kailas-cloud/mathroute/internal/domain/route"
)

// IDGenerator mints trace ids.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator mints random (v4) UUIDs.
type UUIDGenerator struct{}

// NewID returns a new random UUID string.
func (UUIDGenerator) NewID() string { return uuid.NewString() }

// Entry is a ledger record of one routing decision (write-once).
type Entry struct {
	id              string
	query           string
	normalizedQuery string
	tag             route.Tag
	answer          route.Answer
	confidence      *float64
	createdAt       time.Time
}

// FromDecision builds the ledger entry for d under its trace id.
func FromDecision(d route.Decision, normalizedQuery string) Entry {
	return Entry{
		id:              d.TraceID(),
		query:           d.Query(),
		normalizedQuery: normalizedQuery,
		tag:             d.Tag(),
		answer:          d.Answer(),
		confidence:      d.Confidence(),
		createdAt:       d.CreatedAt(),
	}
}

// Reconstruct creates an Entry without validation (storage hydration).
func Reconstruct(
	id, q, normalized string, tag route.Tag, answer route.Answer, confidence *float64, createdAt time.Time,
) Entry {
	return Entry{
		id: id, query: q, normalizedQuery: normalized, tag: tag,
		answer: answer, confidence: confidence, createdAt: createdAt,
	}
}

// ID returns the trace id.
func (e Entry) ID() string { return e.id }

// Query returns the query text as received.
func (e Entry) Query() string { return e.query }

// NormalizedQuery returns the normalized query text.
func (e Entry) NormalizedQuery() string { return e.normalizedQuery }

// Tag returns the route that answered.
func (e Entry) Tag() route.Tag { return e.tag }

// Answer returns the served answer.
func (e Entry) Answer() route.Answer { return e.answer }

// Confidence returns the KB score, nil for other routes.
func (e Entry) Confidence() *float64 { return e.confidence }

// CreatedAt returns when the decision was made.
func (e Entry) CreatedAt() time.Time { return e.createdAt }
