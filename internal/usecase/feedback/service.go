// Package feedback records user verdicts on routed answers and promotes
// approved web and generated answers into the knowledge base.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/mathroute/internal/domain"
	domfb "github.com/kailas-cloud/mathroute/internal/domain/feedback"
	"github.com/kailas-cloud/mathroute/internal/domain/kb"
	"github.com/kailas-cloud/mathroute/internal/domain/query"
	"github.com/kailas-cloud/mathroute/internal/domain/route"
	"github.com/kailas-cloud/mathroute/internal/domain/trace"
	"github.com/kailas-cloud/mathroute/internal/logger"
	"github.com/kailas-cloud/mathroute/internal/metrics"
)

const (
	stripes     = 64
	recentLimit = 5

	promotedTopic      = "user_validated"
	promotedDifficulty = "unknown"
)

// Outcome labels for the feedback metric.
const (
	outcomePromoted   = "promoted"
	outcomeRecorded   = "recorded"
	outcomeUnresolved = "unresolved"
	outcomeFailed     = "failed"
)

// Client messages.
const (
	msgPromoted   = "Thank you! This answer has been added to our knowledge base."
	msgPositive   = "Thank you for the positive feedback!"
	msgNegative   = "Thank you for the feedback. We'll use it to improve our answers."
	msgDetailed   = "Thank you for the detailed feedback."
	msgUnresolved = "Feedback recorded. The original answer could not be found (it may have expired), " +
		"so it was not added to the knowledge base."
)

// Submission is one feedback request. Query, Route and Response are kept for
// analytics only; promotion always uses the ledger entry.
type Submission struct {
	TraceID  string
	Verdict  string
	Comment  string
	Query    string
	Route    string
	Response string
}

// Stats summarizes the feedback log.
type Stats struct {
	Counts           domfb.Counts
	SatisfactionRate float64
	Recent           []domfb.Record
	PositiveTokens   []string
	NegativeTokens   []string
}

// Service processes feedback. Submissions for the same trace are serialized.
type Service struct {
	ledger   Ledger
	kb       KnowledgeBase
	embedder Embedder
	cache    ResponseCache

	canonicalKeys bool
	locks         [stripes]sync.Mutex
	now           func() time.Time
	logger        *zap.Logger
}

// New creates a feedback service.
func New(ledger Ledger, store KnowledgeBase, embedder Embedder, cache ResponseCache, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		ledger:   ledger,
		kb:       store,
		embedder: embedder,
		cache:    cache,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   log,
	}
}

// WithCanonicalKeys must match the router setting so invalidation hits the cached key.
func (s *Service) WithCanonicalKeys(canonical bool) *Service {
	s.canonicalKeys = canonical
	return s
}

// WithClock sets the timestamp source for feedback records.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Submit records one verdict. An unknown or expired trace is recorded as unresolved
// and is not an error. A failed promotion returns an error wrapping
// domain.ErrStoreUnavailable after the record has been appended.
func (s *Service) Submit(ctx context.Context, sub Submission) (domfb.Outcome, error) {
	id := strings.TrimSpace(sub.TraceID)
	if id == "" {
		return domfb.Outcome{}, fmt.Errorf("%w: trace_id is required", domain.ErrInvalidFeedback)
	}
	log := logger.FromContextOr(ctx, s.logger).With(zap.String("trace_id", id))

	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	verdict := domfb.Classify(sub.Verdict)
	rec := domfb.Record{
		TraceID:    id,
		Verdict:    verdict,
		RawVerdict: sub.Verdict,
		Comment:    sub.Comment,
		Query:      sub.Query,
		ReceivedAt: s.now(),
	}
	if tag, err := route.ParseTag(sub.Route); err == nil {
		rec.Route = tag
	}

	entry, err := s.ledger.Get(ctx, id)
	switch {
	case errors.Is(err, domain.ErrTraceNotFound):
		if err := s.append(ctx, rec); err != nil {
			return domfb.Outcome{}, err
		}
		observe(verdict, outcomeUnresolved)
		log.Info("Feedback on unknown trace", zap.String("verdict", string(verdict)))
		return domfb.Outcome{Message: msgUnresolved}, nil
	case err != nil:
		observe(verdict, outcomeFailed)
		return domfb.Outcome{}, fmt.Errorf("resolve trace: %w", storeError(err))
	}

	rec.Resolved = true
	rec.Query = entry.Query()
	rec.Route = entry.Tag()

	out := domfb.Outcome{TraceFound: true, Message: message(verdict)}
	if verdict != domfb.Positive || !entry.Tag().Promotable() {
		if err := s.append(ctx, rec); err != nil {
			return domfb.Outcome{}, err
		}
		observe(verdict, outcomeRecorded)
		return out, nil
	}

	inserted, promoteErr := s.promote(ctx, entry)
	if promoteErr != nil {
		observe(verdict, outcomeFailed)
		log.Error("Feedback promotion failed", zap.Error(promoteErr))
		if err := s.append(ctx, rec); err != nil {
			log.Error("Feedback append failed", zap.Error(err))
		}
		return domfb.Outcome{}, promoteErr
	}

	rec.Promoted = true
	if err := s.append(ctx, rec); err != nil {
		return domfb.Outcome{}, err
	}
	observe(verdict, outcomePromoted)
	log.Info("Answer promoted to knowledge base",
		zap.String("route", string(entry.Tag())),
		zap.Bool("inserted", inserted),
	)
	out.StoredInKB = true
	out.Message = msgPromoted
	return out, nil
}

// promote embeds the question and inserts the validated record. An existing
// (question, answer) pair is a no-op and counts as stored.
func (s *Service) promote(ctx context.Context, entry trace.Entry) (bool, error) {
	origin := kb.OriginWeb
	if entry.Tag() == route.Generative {
		origin = kb.OriginAI
	}

	emb, err := s.embedder.Embed(ctx, entry.Query())
	if err != nil {
		return false, fmt.Errorf("embed question: %w", storeError(err))
	}

	answer := entry.Answer()
	rec, err := kb.New(kb.Params{
		Question:   entry.Query(),
		Answer:     answer.Text(),
		Steps:      answer.Steps(),
		Embedding:  emb.Embedding,
		Topic:      promotedTopic,
		Subtopic:   string(origin),
		Difficulty: promotedDifficulty,
		Provenance: kb.UserValidated,
		Origin:     origin,
		CreatedAt:  s.now(),
	})
	if err != nil {
		return false, fmt.Errorf("build record: %w: %w", domain.ErrStoreUnavailable, err)
	}

	inserted, err := s.kb.Insert(ctx, &rec)
	if err != nil {
		return false, fmt.Errorf("insert record: %w", storeError(err))
	}

	key := query.Reconstruct(entry.Query(), entry.NormalizedQuery(), "").KeyWith(s.canonicalKeys)
	s.cache.Invalidate(key)
	return inserted, nil
}

// Stats aggregates the whole feedback log and returns the latest records.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	counts, err := s.ledger.FeedbackCounts(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("feedback counts: %w", storeError(err))
	}
	recent, err := s.ledger.ListFeedback(ctx, recentLimit)
	if err != nil {
		return Stats{}, fmt.Errorf("recent feedback: %w", storeError(err))
	}
	pos, neg := domfb.SupportedTokens()
	return Stats{
		Counts:           counts,
		SatisfactionRate: counts.SatisfactionRate(),
		Recent:           recent,
		PositiveTokens:   pos,
		NegativeTokens:   neg,
	}, nil
}

func (s *Service) append(ctx context.Context, rec domfb.Record) error {
	if err := s.ledger.AppendFeedback(ctx, rec); err != nil {
		observe(rec.Verdict, outcomeFailed)
		return fmt.Errorf("append feedback: %w", storeError(err))
	}
	return nil
}

func (s *Service) lockFor(traceID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(traceID))
	return &s.locks[h.Sum32()%stripes]
}

func message(v domfb.Verdict) string {
	switch v {
	case domfb.Positive:
		return msgPositive
	case domfb.Negative:
		return msgNegative
	default:
		return msgDetailed
	}
}

func storeError(err error) error {
	if errors.Is(err, domain.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
}

func observe(v domfb.Verdict, outcome string) {
	metrics.FeedbackTotal.WithLabelValues(string(v), outcome).Inc()
}
