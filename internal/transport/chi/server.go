// Package chi serves the HTTP API on a chi router.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/mathroute/internal/domain"
	"github.com/kailas-cloud/mathroute/internal/logger"
	feedbackuc "github.com/kailas-cloud/mathroute/internal/usecase/feedback"
	healthuc "github.com/kailas-cloud/mathroute/internal/usecase/health"
)

const maxBodyBytes = 64 << 10

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server holds the HTTP handlers.
type Server struct {
	router        Router
	feedback      Feedback
	kb            KBSearcher
	stats         StatsReader
	guard         GuardrailReader
	cache         CacheFlusher
	health        HealthChecker
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	router Router,
	feedback Feedback,
	kb KBSearcher,
	stats StatsReader,
	guard GuardrailReader,
	cache CacheFlusher,
	health HealthChecker,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:   router,
		feedback: feedback,
		kb:       kb,
		stats:    stats,
		guard:    guard,
		cache:    cache,
		health:   health,
		logger:   logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrInvalidQuery, http.StatusBadRequest, ErrorCodeValidationFailed),
		sentinelHandler(domain.ErrInvalidFeedback, http.StatusBadRequest, ErrorCodeValidationFailed),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, ErrorCodeNotFound),
		sentinelHandler(domain.ErrStoreUnavailable, http.StatusServiceUnavailable, ErrorCodeStoreUnavailable),
		sentinelHandler(domain.ErrProviderUnavailable, http.StatusBadGateway, ErrorCodeProviderUnavailable),
		sentinelHandler(context.DeadlineExceeded, http.StatusGatewayTimeout, ErrorCodeTimeout),
	}
	return s
}

// Register mounts every route on r.
func (s *Server) Register(r chi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/route", s.RouteQuery)
		r.Post("/feedback", s.SubmitFeedback)
		r.Get("/feedback/stats", s.FeedbackStats)
		r.Post("/kb/search", s.SearchKB)
		r.Get("/stats", s.Stats)
		r.Get("/guardrails/stats", s.GuardrailStats)
		r.Get("/capabilities", s.Capabilities)
		r.Delete("/cache", s.FlushCache)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, ErrorCodeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrorCodeBadRequest, "method not allowed")
	})
}

// RouteQuery handles POST /api/v1/route. Guardrail rejections are 200 responses with route "blocked".
func (s *Server) RouteQuery(w http.ResponseWriter, r *http.Request) {
	var req RouteRequest
	if !s.decode(w, r, &req) {
		return
	}

	d, err := s.router.Route(r.Context(), req.Query, req.Locale)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, decisionToDTO(&d))
}

// SubmitFeedback handles POST /api/v1/feedback.
func (s *Server) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.TraceID == "" {
		writeError(w, http.StatusBadRequest, ErrorCodeValidationFailed, "trace_id is required")
		return
	}
	if req.Verdict == "" {
		writeError(w, http.StatusBadRequest, ErrorCodeValidationFailed, "verdict is required")
		return
	}

	out, err := s.feedback.Submit(r.Context(), feedbackuc.Submission{
		TraceID:  req.TraceID,
		Verdict:  req.Verdict,
		Comment:  req.Comment,
		Query:    req.Query,
		Route:    req.Route,
		Response: req.Response,
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, FeedbackResponse{
		Status:     "success",
		Message:    out.Message,
		StoredInKB: out.StoredInKB,
		TraceFound: out.TraceFound,
	})
}

// SearchKB handles POST /api/v1/kb/search. No match is a 200 with found=false.
func (s *Server) SearchKB(w http.ResponseWriter, r *http.Request) {
	var req KBSearchRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, ErrorCodeValidationFailed, "query is required")
		return
	}

	res, err := s.kb.Search(r.Context(), req.Query)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, kbSearchToDTO(&res))
}

// FeedbackStats handles GET /api/v1/feedback/stats.
func (s *Server) FeedbackStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.feedback.Stats(r.Context())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, feedbackStatsToDTO(&st))
}

// Stats handles GET /api/v1/stats.
func (s *Server) Stats(w http.ResponseWriter, r *http.Request) {
	report := s.stats.Snapshot(r.Context())
	writeJSON(w, http.StatusOK, statsToDTO(&report))
}

// GuardrailStats handles GET /api/v1/guardrails/stats.
func (s *Server) GuardrailStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.guard.Stats())
}

// Capabilities handles GET /api/v1/capabilities.
func (s *Server) Capabilities(w http.ResponseWriter, _ *http.Request) {
	p := s.router.Policy()
	writeJSON(w, http.StatusOK, capabilitiesToDTO(s.router.Capabilities(), &p))
}

// FlushCache handles DELETE /api/v1/cache.
func (s *Server) FlushCache(w http.ResponseWriter, r *http.Request) {
	n := s.cache.Flush()
	logger.FromContextOr(r.Context(), s.logger).Info("Response cache flushed", zap.Int("entries", n))
	writeJSON(w, http.StatusOK, FlushResponse{Flushed: n})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status: string(report.Status),
		Checks: checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrGuardrailRejected,
		domain.ErrInvalidQuery,
		domain.ErrInvalidFeedback,
		domain.ErrNotFound,
		domain.ErrStoreUnavailable,
		domain.ErrProviderUnavailable,
		context.DeadlineExceeded,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContextOr(r.Context(), s.logger)
	log.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, "internal error")
}
