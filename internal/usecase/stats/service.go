// Package stats assembles the read-only operational snapshot.
package stats

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	domfb "github.com/kailas-cloud/mathroute/internal/domain/feedback"
	"github.com/kailas-cloud/mathroute/internal/domain/kb"
	"github.com/kailas-cloud/mathroute/internal/logger"
	"github.com/kailas-cloud/mathroute/internal/repository/respcache"
	"github.com/kailas-cloud/mathroute/internal/usecase/generation"
	"github.com/kailas-cloud/mathroute/internal/usecase/guardrail"
	"github.com/kailas-cloud/mathroute/internal/usecase/router"
)

const defaultSourceTimeout = 2 * time.Second

// Report is an eventually consistent view. Nil fields mark sources that could not be read.
type Report struct {
	Routing      router.Snapshot
	Cache        respcache.Stats
	Guardrail    guardrail.Stats
	KBSize       *int
	KBValidated  *int
	TraceCount   *int
	Feedback     *domfb.Counts
	Satisfaction *float64
	Budget       *generation.Snapshot
	GeneratedAt  time.Time
}

// Service reads every source; failures are logged and leave the field empty.
type Service struct {
	routes  RouteReader
	cache   CacheReader
	guard   GuardrailReader
	kb      KBReader
	ledger  LedgerReader
	budget  BudgetReader
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// New creates a Service.
func New(routes RouteReader, cache CacheReader, guard GuardrailReader, store KBReader, ledger LedgerReader) *Service {
	return &Service{
		routes:  routes,
		cache:   cache,
		guard:   guard,
		kb:      store,
		ledger:  ledger,
		timeout: defaultSourceTimeout,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  zap.NewNop(),
	}
}

// WithBudget adds the generation budget. br can be nil (unlimited mode).
func (s *Service) WithBudget(br BudgetReader) *Service {
	s.budget = br
	return s
}

// WithTimeout bounds each storage read.
func (s *Service) WithTimeout(d time.Duration) *Service {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// WithLogger sets the fallback logger.
func (s *Service) WithLogger(l *zap.Logger) *Service {
	if l != nil {
		s.logger = l
	}
	return s
}

// WithClock sets the report timestamp source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Snapshot builds the report. Storage reads run concurrently.
func (s *Service) Snapshot(ctx context.Context) Report {
	log := logger.FromContextOr(ctx, s.logger)
	r := Report{
		Routing:     s.routes.Stats(),
		Cache:       s.cache.Stats(),
		Guardrail:   s.guard.Stats(),
		GeneratedAt: s.now(),
	}
	if s.budget != nil {
		b := s.budget.Snapshot()
		r.Budget = &b
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	read := func(source string, fn func(ctx context.Context) error) {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			if err := fn(cctx); err != nil {
				log.Warn("Stats source unavailable", zap.String("source", source), zap.Error(err))
			}
			return nil
		})
	}

	read("kb_size", func(ctx context.Context) error {
		n, err := s.kb.Count(ctx)
		if err != nil {
			return err
		}
		mu.Lock()
		r.KBSize = &n
		mu.Unlock()
		return nil
	})
	read("kb_validated", func(ctx context.Context) error {
		n, err := s.kb.CountByProvenance(ctx, kb.UserValidated)
		if err != nil {
			return err
		}
		mu.Lock()
		r.KBValidated = &n
		mu.Unlock()
		return nil
	})
	read("trace_count", func(ctx context.Context) error {
		n, err := s.ledger.Count(ctx)
		if err != nil {
			return err
		}
		mu.Lock()
		r.TraceCount = &n
		mu.Unlock()
		return nil
	})
	read("feedback", func(ctx context.Context) error {
		c, err := s.ledger.FeedbackCounts(ctx)
		if err != nil {
			return err
		}
		rate := c.SatisfactionRate()
		mu.Lock()
		r.Feedback = &c
		r.Satisfaction = &rate
		mu.Unlock()
		return nil
	})
	_ = g.Wait()

	return r
}
