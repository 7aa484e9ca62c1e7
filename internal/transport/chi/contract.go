package chi

import (
	"context"

	domfb "github.com/kailas-cloud/mathroute/internal/domain/feedback"
	"github.com/kailas-cloud/mathroute/internal/domain/route"
	feedbackuc "github.com/kailas-cloud/mathroute/internal/usecase/feedback"
	"github.com/kailas-cloud/mathroute/internal/usecase/guardrail"
	healthuc "github.com/kailas-cloud/mathroute/internal/usecase/health"
	"github.com/kailas-cloud/mathroute/internal/usecase/kbsearch"
	routeruc "github.com/kailas-cloud/mathroute/internal/usecase/router"
	statsuc "github.com/kailas-cloud/mathroute/internal/usecase/stats"
)

// Router answers questions.
type Router interface {
	Route(ctx context.Context, raw, locale string) (route.Decision, error)
	Capabilities() []routeruc.Capability
	Policy() routeruc.Policy
}

// Feedback records verdicts.
type Feedback interface {
	Submit(ctx context.Context, sub feedbackuc.Submission) (domfb.Outcome, error)
	Stats(ctx context.Context) (feedbackuc.Stats, error)
}

// KBSearcher finds the closest knowledge base record.
type KBSearcher interface {
	Search(ctx context.Context, raw string) (kbsearch.Result, error)
}

// StatsReader builds the operational snapshot.
type StatsReader interface {
	Snapshot(ctx context.Context) statsuc.Report
}

// GuardrailReader exposes violation stats.
type GuardrailReader interface {
	Stats() guardrail.Stats
}

// CacheFlusher empties the response cache.
type CacheFlusher interface {
	Flush() int
}

// HealthChecker probes collaborators.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}
