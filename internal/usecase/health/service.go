// Package health probes every collaborator of the router concurrently.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
	// Unhealthy indicates total failure.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Component names.
const (
	KBStore    = "kb_store"
	Ledger     = "ledger"
	Embedding  = "embedding"
	Generative = "generative"
	WebSearch  = "web_search"
)

// DefaultTimeout bounds each check.
const DefaultTimeout = 2 * time.Second

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

type check struct {
	name string
	fn   func(ctx context.Context) error
}

// Service coordinates health checks.
type Service struct {
	checks  []check
	timeout time.Duration
	logger  *zap.Logger
}

// New creates a Service over the required stores.
func New(kb, ledger Pinger) *Service {
	s := &Service{timeout: DefaultTimeout, logger: zap.NewNop()}
	s.add(KBStore, kb.Ping)
	s.add(Ledger, ledger.Ping)
	return s
}

// WithEmbedding adds the embedding provider check. Nil is ignored.
func (s *Service) WithEmbedding(c ProviderChecker) *Service { return s.withProvider(Embedding, c) }

// WithGenerative adds the generative provider check. Nil is ignored.
func (s *Service) WithGenerative(c ProviderChecker) *Service { return s.withProvider(Generative, c) }

// WithWebSearch adds the web search provider check. Nil is ignored.
func (s *Service) WithWebSearch(c ProviderChecker) *Service { return s.withProvider(WebSearch, c) }

// WithTimeout sets the per-check timeout.
func (s *Service) WithTimeout(d time.Duration) *Service {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// WithLogger sets the logger for failed checks.
func (s *Service) WithLogger(l *zap.Logger) *Service {
	if l != nil {
		s.logger = l
	}
	return s
}

func (s *Service) withProvider(name string, c ProviderChecker) *Service {
	if c != nil {
		s.add(name, c.HealthCheck)
	}
	return s
}

func (s *Service) add(name string, fn func(ctx context.Context) error) {
	s.checks = append(s.checks, check{name: name, fn: fn})
}

// Check runs all checks concurrently. A failing check never cancels the others.
func (s *Service) Check(ctx context.Context) Report {
	var (
		mu     sync.Mutex
		checks = make(map[string]CheckResult, len(s.checks))
	)

	var g errgroup.Group
	for _, c := range s.checks {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()

			result := CheckOK
			if err := c.fn(cctx); err != nil {
				result = CheckError
				s.logger.Warn("Health check failed", zap.String("component", c.name), zap.Error(err))
			}
			mu.Lock()
			checks[c.name] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, v := range checks {
		if v == CheckError {
			failed++
		}
	}

	status := Healthy
	switch {
	case failed == len(checks) && failed > 0:
		status = Unhealthy
	case failed > 0:
		status = Degraded
	}
	return Report{Status: status, Checks: checks}
}
