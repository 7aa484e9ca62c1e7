// Package router picks the answering tier for each question: knowledge base,
// web search, generative model or human review, in that order.
package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/mathroute/internal/domain"
	"github.com/kailas-cloud/mathroute/internal/domain/query"
	"github.com/kailas-cloud/mathroute/internal/domain/route"
	"github.com/kailas-cloud/mathroute/internal/domain/trace"
	"github.com/kailas-cloud/mathroute/internal/logger"
	"github.com/kailas-cloud/mathroute/internal/metrics"
)

// HumanReview texts.
const (
	humanReviewMessage     = "This complex query requires human expertise: '%s'"
	humanReviewExplanation = "Our automated systems (Knowledge Base, Web Search, and AI) " +
		"could not provide a satisfactory answer."
	opinionExplanation = "The question asks for an opinion, which needs a human expert."
)

// Service routes questions through the tier chain.
type Service struct {
	guard  Guardrail
	cache  ResponseCache
	ledger Ledger
	policy Policy

	kb         *kbTier
	web        *webTier
	generative *generativeTier

	ids    trace.IDGenerator
	now    func() time.Time
	stats  *routeStats
	logger *zap.Logger
}

// New creates a router over the knowledge base. Web search and generation are
// added with WithWebSearch and WithGenerator; without them those tiers are disabled.
func New(
	guard Guardrail, cache ResponseCache, ledger Ledger,
	store KnowledgeBase, embedder domain.Embedder, log *zap.Logger,
) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		guard:  guard,
		cache:  cache,
		ledger: ledger,
		policy: DefaultPolicy(),
		ids:    trace.UUIDGenerator{},
		now:    func() time.Time { return time.Now().UTC() },
		stats:  newRouteStats(),
		logger: log,
	}
	s.kb = &kbTier{store: store, embedder: embedder, policy: &s.policy}
	return s
}

// WithPolicy replaces the routing policy. Zero fields take defaults.
func (s *Service) WithPolicy(p Policy) *Service {
	s.policy = p.withDefaults()
	return s
}

// WithWebSearch enables the web tier.
func (s *Service) WithWebSearch(searcher domain.WebSearcher, provider string) *Service {
	if searcher != nil {
		s.web = &webTier{searcher: searcher, provider: provider, policy: &s.policy}
	}
	return s
}

// WithGenerator enables the generative tier.
func (s *Service) WithGenerator(gen domain.Generator, provider string) *Service {
	if gen != nil {
		s.generative = &generativeTier{generator: gen, provider: provider, policy: &s.policy}
	}
	return s
}

// WithIDGenerator sets the trace id source.
func (s *Service) WithIDGenerator(ids trace.IDGenerator) *Service {
	s.ids = ids
	return s
}

// WithClock sets the decision timestamp source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Policy returns the active routing policy.
func (s *Service) Policy() Policy { return s.policy }

func (s *Service) tiers() []tier {
	out := []tier{s.kb}
	if s.web != nil {
		out = append(out, s.web)
	}
	if s.generative != nil {
		out = append(out, s.generative)
	}
	return out
}

// Route answers one question. Rejected questions come back as Blocked decisions, not
// errors. The only error is a knowledge base fault wrapping domain.ErrStoreUnavailable
// (or the caller's own context error).
func (s *Service) Route(ctx context.Context, raw, locale string) (route.Decision, error) {
	start := time.Now()
	log := logger.FromContextOr(ctx, s.logger)

	verdict := s.guard.Check(raw)
	if !verdict.Allowed {
		d := route.NewDecision(raw, route.Blocked,
			route.NewAnswer(verdict.Reason, "", nil, ""), nil,
			"Blocked by guardrail: "+verdict.Reason, "", s.now())
		s.finish(log, d, start)
		return d, nil
	}

	q, err := query.New(raw, locale)
	if err != nil {
		d := route.NewDecision(raw, route.Blocked,
			route.NewAnswer(err.Error(), "", nil, ""), nil, "Invalid query", "", s.now())
		s.finish(log, d, start)
		return d, nil
	}
	if err := ctx.Err(); err != nil {
		return route.Decision{}, err //nolint:wrapcheck // caller's own cancellation
	}
	key := q.KeyWith(s.policy.CanonicalKeys)

	if d, ok := s.cache.Get(key); ok {
		d = s.onCacheHit(ctx, log, q, d)
		s.finish(log, d, start)
		return d, nil
	}

	d, shared, err := s.cache.Do(ctx, key, func(ctx context.Context) (route.Decision, error) {
		if d, ok := s.cache.Peek(key); ok {
			return d.WithCached(), nil
		}
		return s.compute(logger.ContextWithLogger(ctx, log), q, key, verdict.OpinionSeeking)
	})
	if err != nil {
		if errors.Is(err, domain.ErrStoreUnavailable) {
			log.Error("Routing failed", zap.Error(err))
		}
		return route.Decision{}, err
	}
	if shared {
		log.Debug("Joined in-flight routing", zap.String("trace_id", d.TraceID()))
	}
	s.finish(log, d, start)
	return d, nil
}

// compute runs the tier chain on a cache miss, caches the decision and records it.
func (s *Service) compute(ctx context.Context, q query.Query, key string, opinion bool) (route.Decision, error) {
	var d route.Decision
	if opinion {
		d = s.humanReview(q, opinionExplanation)
	} else {
		var err error
		d, err = s.runTiers(ctx, q)
		if err != nil {
			return route.Decision{}, err
		}
	}

	// Cache before recording: once the trace is readable, feedback may invalidate the key.
	s.cache.Put(key, d, s.policy.CacheTTL)
	s.record(ctx, d, q)
	return d, nil
}

func (s *Service) runTiers(ctx context.Context, q query.Query) (route.Decision, error) {
	for _, t := range s.tiers() {
		out, err := t.Attempt(ctx, q)
		if err != nil {
			return route.Decision{}, fmt.Errorf("%s tier: %w", t.Name(), err)
		}
		if !out.ok {
			continue
		}
		answer := s.guard.Sanitize(out.answer, t.Name())
		return route.NewDecision(q.Raw(), t.Name(), answer, out.confidence,
			out.explanation, s.ids.NewID(), s.now()), nil
	}
	return s.humanReview(q, humanReviewExplanation), nil
}

func (s *Service) humanReview(q query.Query, explanation string) route.Decision {
	answer := route.NewAnswer(fmt.Sprintf(humanReviewMessage, q.Raw()), "", nil, "")
	return route.NewDecision(q.Raw(), route.HumanReview, answer, nil, explanation, s.ids.NewID(), s.now())
}

// record writes d to the ledger. A failed write is logged and the answer is still served.
func (s *Service) record(ctx context.Context, d route.Decision, q query.Query) {
	if d.TraceID() == "" {
		return
	}
	if err := s.ledger.Record(ctx, trace.FromDecision(d, q.Normalized())); err != nil {
		logger.FromContextOr(ctx, s.logger).Warn("Trace ledger write failed",
			zap.String("trace_id", d.TraceID()),
			zap.Error(err),
		)
	}
}

// onCacheHit applies the trace policy to a cached decision.
func (s *Service) onCacheHit(ctx context.Context, log *zap.Logger, q query.Query, d route.Decision) route.Decision {
	if s.policy.TraceOnCacheHit == TraceMint {
		d = d.WithTraceID(s.ids.NewID())
		s.record(logger.ContextWithLogger(ctx, log), d, q)
	}
	return d.WithCached()
}

func (s *Service) finish(log *zap.Logger, d route.Decision, start time.Time) {
	elapsed := time.Since(start)
	s.stats.observe(d.Tag(), d.Cached(), elapsed)
	metrics.RouteDecisionsTotal.WithLabelValues(string(d.Tag()), strconv.FormatBool(d.Cached())).Inc()
	metrics.RouteDuration.WithLabelValues(string(d.Tag())).Observe(elapsed.Seconds())

	log.Info("Query routed",
		zap.String("route", string(d.Tag())),
		zap.String("trace_id", d.TraceID()),
		zap.Bool("cached", d.Cached()),
		zap.Duration("duration", elapsed),
	)
}
