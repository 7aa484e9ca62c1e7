package router

import (
	"context"
	"time"

	"github.com/kailas-cloud/mathroute/internal/domain/kb"
	"github.com/kailas-cloud/mathroute/internal/domain/route"
	"github.com/kailas-cloud/mathroute/internal/domain/trace"
	"github.com/kailas-cloud/mathroute/internal/usecase/guardrail"
)

// Guardrail screens questions and cleans answers.
type Guardrail interface {
	Check(raw string) guardrail.Verdict
	Sanitize(a route.Answer, tag route.Tag) route.Answer
}

// ResponseCache holds decisions by query key and collapses concurrent misses.
type ResponseCache interface {
	Get(key string) (route.Decision, bool)
	Peek(key string) (route.Decision, bool)
	Put(key string, d route.Decision, ttl time.Duration)
	Do(ctx context.Context, key string, compute func(ctx context.Context) (route.Decision, error)) (route.Decision, bool, error)
}

// KnowledgeBase is the fast-lookup store.
type KnowledgeBase interface {
	FindExact(ctx context.Context, questionNorm string) (kb.Record, error)
	Search(ctx context.Context, vector []float32, k int) ([]kb.Candidate, error)
}

// Ledger records served decisions for later feedback.
type Ledger interface {
	Record(ctx context.Context, e trace.Entry) error
}
