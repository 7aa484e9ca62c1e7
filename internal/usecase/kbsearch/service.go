// Package kbsearch looks up the closest knowledge base record for a question
// without routing it through the answer tiers.
package kbsearch

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/mathroute/internal/domain"
	"github.com/kailas-cloud/mathroute/internal/domain/kb"
	"github.com/kailas-cloud/mathroute/internal/domain/query"
	"github.com/kailas-cloud/mathroute/internal/logger"
)

// DefaultTopK is the number of neighbours fetched per search.
const DefaultTopK = 5

// Result is the best match for one question. Score is 1 for an exact question match.
type Result struct {
	Found  bool
	Exact  bool
	Record kb.Record
	Score  float64
}

// Service searches the knowledge base.
type Service struct {
	guard    Guardrail
	store    KnowledgeBase
	embedder Embedder
	topK     int
	logger   *zap.Logger
}

// New creates a search service. Without an embedder only exact matches are found.
func New(guard Guardrail, store KnowledgeBase, embedder Embedder, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{guard: guard, store: store, embedder: embedder, topK: DefaultTopK, logger: log}
}

// WithTopK sets how many neighbours are compared.
func (s *Service) WithTopK(k int) *Service {
	if k > 0 {
		s.topK = k
	}
	return s
}

// Search returns the best record for raw. A question the guardrail refuses fails with
// domain.ErrInvalidQuery and domain.ErrGuardrailRejected.
func (s *Service) Search(ctx context.Context, raw string) (Result, error) {
	if v := s.guard.Check(raw); !v.Allowed {
		return Result{}, fmt.Errorf("%w: %w: %s", domain.ErrInvalidQuery, domain.ErrGuardrailRejected, v.Reason)
	}
	q, err := query.New(raw, "")
	if err != nil {
		return Result{}, err //nolint:wrapcheck // already wraps ErrInvalidQuery
	}
	log := logger.FromContextOr(ctx, s.logger)

	rec, err := s.store.FindExact(ctx, q.Normalized())
	switch {
	case err == nil:
		return Result{Found: true, Exact: true, Record: rec, Score: 1}, nil
	case !errors.Is(err, domain.ErrNotFound):
		return Result{}, storeError(err)
	}

	if s.embedder == nil {
		return Result{}, nil
	}
	emb, err := s.embedder.Embed(ctx, q.Raw())
	if err != nil {
		return Result{}, fmt.Errorf("vectorize query: %w: %w", domain.ErrProviderUnavailable, err)
	}

	candidates, err := s.store.Search(ctx, emb.Embedding, s.topK)
	if err != nil {
		return Result{}, storeError(err)
	}
	best, ok := bestCandidate(candidates)
	if !ok {
		log.Debug("No knowledge base candidates", zap.String("query", q.Normalized()))
		return Result{}, nil
	}
	return Result{Found: true, Record: best.Record, Score: best.Score}, nil
}

// bestCandidate picks the highest score; ties go to the most recent record.
func bestCandidate(cs []kb.Candidate) (kb.Candidate, bool) {
	if len(cs) == 0 {
		return kb.Candidate{}, false
	}
	best := cs[0]
	for _, c := range cs[1:] {
		if c.Score > best.Score || (c.Score == best.Score && c.Record.CreatedAt().After(best.Record.CreatedAt())) {
			best = c
		}
	}
	return best, true
}

func storeError(err error) error {
	if errors.Is(err, domain.ErrStoreUnavailable) {
		return fmt.Errorf("knowledge base: %w", err)
	}
	return fmt.Errorf("knowledge base: %w: %w", domain.ErrStoreUnavailable, err)
}
