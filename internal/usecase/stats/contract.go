package stats

import (
	"context"

	domfb "github.com/kailas-cloud/mathroute/internal/domain/feedback"
	"github.com/kailas-cloud/mathroute/internal/domain/kb"
	"github.com/kailas-cloud/mathroute/internal/repository/respcache"
	"github.com/kailas-cloud/mathroute/internal/usecase/generation"
	"github.com/kailas-cloud/mathroute/internal/usecase/guardrail"
	"github.com/kailas-cloud/mathroute/internal/usecase/router"
)

// RouteReader exposes in-process routing counters.
type RouteReader interface {
	Stats() router.Snapshot
}

// CacheReader exposes response cache counters.
type CacheReader interface {
	Stats() respcache.Stats
}

// KBReader counts knowledge-base records.
type KBReader interface {
	Count(ctx context.Context) (int, error)
	CountByProvenance(ctx context.Context, p kb.Provenance) (int, error)
}

// LedgerReader counts traces and feedback.
type LedgerReader interface {
	Count(ctx context.Context) (int, error)
	FeedbackCounts(ctx context.Context) (domfb.Counts, error)
}

// GuardrailReader exposes the violation log summary.
type GuardrailReader interface {
	Stats() guardrail.Stats
}

// BudgetReader provides read-only access to generation budget state.
type BudgetReader interface {
	Snapshot() generation.Snapshot
}
