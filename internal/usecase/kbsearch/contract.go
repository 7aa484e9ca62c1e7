package kbsearch

import (
	"context"

	"github.com/kailas-cloud/mathroute/internal/domain"
	"github.com/kailas-cloud/mathroute/internal/domain/kb"
	"github.com/kailas-cloud/mathroute/internal/usecase/guardrail"
)

// Guardrail screens questions before they reach the store.
type Guardrail interface {
	Check(raw string) guardrail.Verdict
}

// KnowledgeBase is the store being searched.
type KnowledgeBase interface {
	FindExact(ctx context.Context, questionNorm string) (kb.Record, error)
	Search(ctx context.Context, vector []float32, k int) ([]kb.Candidate, error)
}

// Embedder vectorizes search text.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}
