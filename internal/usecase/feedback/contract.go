package feedback

import (
	"context"

	"github.com/kailas-cloud/mathroute/internal/domain"
	domfb "github.com/kailas-cloud/mathroute/internal/domain/feedback"
	"github.com/kailas-cloud/mathroute/internal/domain/kb"
	"github.com/kailas-cloud/mathroute/internal/domain/trace"
)

// Ledger resolves trace ids and keeps the feedback log.
type Ledger interface {
	Get(ctx context.Context, id string) (trace.Entry, error)
	AppendFeedback(ctx context.Context, rec domfb.Record) error
	ListFeedback(ctx context.Context, limit int) ([]domfb.Record, error)
	FeedbackCounts(ctx context.Context) (domfb.Counts, error)
}

// KnowledgeBase receives promoted answers.
type KnowledgeBase interface {
	Insert(ctx context.Context, rec *kb.Record) (inserted bool, err error)
}

// Embedder vectorizes promoted questions.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// ResponseCache drops stale decisions after a promotion.
type ResponseCache interface {
	Invalidate(key string) bool
}
