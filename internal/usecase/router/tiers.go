package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/mathroute/internal/domain"
	"github.com/kailas-cloud/mathroute/internal/domain/kb"
	"github.com/kailas-cloud/mathroute/internal/domain/query"
	"github.com/kailas-cloud/mathroute/internal/domain/route"
	"github.com/kailas-cloud/mathroute/internal/logger"
	"github.com/kailas-cloud/mathroute/internal/metrics"
	"github.com/kailas-cloud/mathroute/internal/retry"
)

// Tier attempt outcomes, used as the metric label.
const (
	outcomeAccepted    = "accepted"
	outcomeFallthrough = "fallthrough"
	outcomeSkipped     = "skipped"
	outcomeTimeout     = "timeout"
	outcomeError       = "error"
)

// outcome is the result of one tier attempt. ok=false means fall through to the next tier.
type outcome struct {
	ok          bool
	answer      route.Answer
	confidence  *float64
	explanation string
}

// tier is one answer-producing strategy. A non-nil error is fatal for the request.
type tier interface {
	Name() route.Tag
	Attempt(ctx context.Context, q query.Query) (outcome, error)
}

func observeTier(t route.Tag, result string) {
	metrics.TierAttemptsTotal.WithLabelValues(string(t), result).Inc()
}

// --- knowledge base ---

type kbTier struct {
	store    KnowledgeBase
	embedder domain.Embedder
	policy   *Policy
}

func (t *kbTier) Name() route.Tag { return route.KnowledgeBase }

func (t *kbTier) Attempt(ctx context.Context, q query.Query) (outcome, error) {
	log := logger.FromContext(ctx)

	rec, err := boundedCall(ctx, route.KnowledgeBase, t.policy, func(ctx context.Context) (kb.Record, error) {
		return t.store.FindExact(ctx, q.Normalized())
	})
	switch {
	case err == nil:
		observeTier(route.KnowledgeBase, outcomeAccepted)
		return kbOutcome(&rec, 1.0, "Exact match in the knowledge base"), nil
	case !errors.Is(err, domain.ErrNotFound):
		observeTier(route.KnowledgeBase, outcomeError)
		return outcome{}, storeError(err)
	}

	if t.policy.NumericExactOnly && q.HasDigit() {
		observeTier(route.KnowledgeBase, outcomeFallthrough)
		return outcome{}, nil
	}
	if t.embedder == nil {
		observeTier(route.KnowledgeBase, outcomeSkipped)
		return outcome{}, nil
	}

	emb, err := boundedCall(ctx, route.KnowledgeBase, t.policy, func(ctx context.Context) (domain.EmbeddingResult, error) {
		return t.embedder.Embed(ctx, q.Raw())
	})
	if err != nil {
		log.Warn("Query embedding failed, skipping similarity search", zap.Error(err))
		observeTier(route.KnowledgeBase, outcomeError)
		return outcome{}, nil
	}

	candidates, err := boundedCall(ctx, route.KnowledgeBase, t.policy, func(ctx context.Context) ([]kb.Candidate, error) {
		return t.store.Search(ctx, emb.Embedding, t.policy.TopK)
	})
	if err != nil {
		observeTier(route.KnowledgeBase, outcomeError)
		return outcome{}, storeError(err)
	}

	for i := range candidates {
		c := &candidates[i]
		if c.Score >= t.threshold(&c.Record) {
			observeTier(route.KnowledgeBase, outcomeAccepted)
			return kbOutcome(&c.Record, c.Score,
				fmt.Sprintf("Matched a knowledge base entry (similarity %.2f)", c.Score)), nil
		}
	}

	if len(candidates) > 0 {
		log.Debug("Best knowledge base match below threshold",
			zap.Float64("score", candidates[0].Score),
			zap.Float64("threshold", t.threshold(&candidates[0].Record)),
		)
	}
	observeTier(route.KnowledgeBase, outcomeFallthrough)
	return outcome{}, nil
}

func (t *kbTier) threshold(rec *kb.Record) float64 {
	if rec.Provenance() == kb.UserValidated {
		return t.policy.ValidatedThreshold
	}
	return t.policy.Threshold
}

func kbOutcome(rec *kb.Record, score float64, explanation string) outcome {
	if rec.Provenance() == kb.UserValidated {
		explanation += "; previously validated by user feedback"
	}
	return outcome{
		ok:          true,
		answer:      route.NewAnswer(rec.Answer(), rec.Steps(), nil, string(route.KnowledgeBase)),
		confidence:  &score,
		explanation: explanation,
	}
}

func storeError(err error) error {
	if errors.Is(err, domain.ErrStoreUnavailable) {
		return fmt.Errorf("knowledge base: %w", err)
	}
	return fmt.Errorf("knowledge base: %w: %w", domain.ErrStoreUnavailable, err)
}

// --- web search ---

type webTier struct {
	searcher domain.WebSearcher
	provider string
	policy   *Policy
}

func (t *webTier) Name() route.Tag { return route.WebSearch }

func (t *webTier) Attempt(ctx context.Context, q query.Query) (outcome, error) {
	if t.policy.generativeFirst(q.Normalized()) {
		observeTier(route.WebSearch, outcomeSkipped)
		return outcome{}, nil
	}

	res, err := callProvider(ctx, route.WebSearch, t.policy, func(ctx context.Context) (domain.WebResult, error) {
		return t.searcher.Search(ctx, q.Raw())
	})
	if err != nil {
		return outcome{}, nil
	}
	if strings.TrimSpace(res.Answer) == "" {
		observeTier(route.WebSearch, outcomeFallthrough)
		return outcome{}, nil
	}

	observeTier(route.WebSearch, outcomeAccepted)
	return outcome{
		ok:          true,
		answer:      route.NewAnswer(res.Answer, "", res.Sources, t.provider),
		explanation: "Answered from web search results",
	}, nil
}

// --- generative ---

type generativeTier struct {
	generator domain.Generator
	provider  string
	policy    *Policy
}

func (t *generativeTier) Name() route.Tag { return route.Generative }

func (t *generativeTier) Attempt(ctx context.Context, q query.Query) (outcome, error) {
	res, err := callProvider(ctx, route.Generative, t.policy, func(ctx context.Context) (domain.GenerationResult, error) {
		return t.generator.Generate(ctx, q.Raw())
	})
	if err != nil {
		return outcome{}, nil
	}
	if strings.TrimSpace(res.Answer) == "" {
		observeTier(route.Generative, outcomeFallthrough)
		return outcome{}, nil
	}

	provider := t.provider
	if res.Model != "" {
		provider = res.Model
	}
	observeTier(route.Generative, outcomeAccepted)
	return outcome{
		ok:          true,
		answer:      route.NewAnswer(res.Answer, res.Steps, nil, provider),
		explanation: "Generated step-by-step by the AI model",
	}, nil
}

// callProvider runs call through boundedCall. Failures are logged and counted here
// so callers only need to fall through.
func callProvider[T any](
	ctx context.Context, tag route.Tag, p *Policy, call func(ctx context.Context) (T, error),
) (T, error) {
	res, err := boundedCall(ctx, tag, p, call)
	if err != nil {
		result := outcomeError
		if errors.Is(err, domain.ErrProviderTimeout) {
			result = outcomeTimeout
		}
		observeTier(tag, result)
		logger.FromContext(ctx).Warn("Tier failed, falling through",
			zap.String("tier", string(tag)),
			zap.String("outcome", result),
			zap.Error(err),
		)
	}
	return res, err
}

// boundedCall bounds each call by the tier timeout and retries a timeout after the
// policy backoff, up to TimeoutRetries times. Other errors are returned at once.
func boundedCall[T any](
	ctx context.Context, tag route.Tag, p *Policy, call func(ctx context.Context) (T, error),
) (T, error) {
	log := logger.FromContext(ctx).With(zap.String("tier", string(tag)))
	timeout := p.timeoutFor(tag)

	cfg := retry.Config{
		MaxAttempts:     1 + p.TimeoutRetries,
		InitialDelay:    p.RetryBackoff,
		JitterFraction:  0.1,
		RetryableErrors: []error{domain.ErrProviderTimeout},
		Logger:          log,
	}
	return retry.DoWithResult(ctx, cfg, func(ctx context.Context) (T, error) {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		start := time.Now()
		v, err := call(callCtx)
		if err == nil {
			return v, nil
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrProviderTimeout) {
			err = fmt.Errorf("%s after %s: %w: %w", tag, time.Since(start).Round(time.Millisecond), domain.ErrProviderTimeout, err)
		}
		return v, err
	})
}
