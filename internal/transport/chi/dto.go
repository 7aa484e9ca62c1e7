package chi

import (
	"time"

	domfb "github.com/kailas-cloud/mathroute/internal/domain/feedback"
	"github.com/kailas-cloud/mathroute/internal/domain/route"
	"github.com/kailas-cloud/mathroute/internal/repository/respcache"
	feedbackuc "github.com/kailas-cloud/mathroute/internal/usecase/feedback"
	"github.com/kailas-cloud/mathroute/internal/usecase/generation"
	"github.com/kailas-cloud/mathroute/internal/usecase/kbsearch"
	routeruc "github.com/kailas-cloud/mathroute/internal/usecase/router"
	statsuc "github.com/kailas-cloud/mathroute/internal/usecase/stats"
)

// ErrorCode is the machine-readable error kind in ErrorResponse.
type ErrorCode string

// Error codes.
const (
	ErrorCodeBadRequest       ErrorCode = "bad_request"
	ErrorCodeUnauthorized     ErrorCode = "unauthorized"
	ErrorCodeValidationFailed ErrorCode = "validation_failed"
	ErrorCodeNotFound         ErrorCode = "not_found"
	ErrorCodeStoreUnavailable ErrorCode = "store_unavailable"
	ErrorCodeTimeout          ErrorCode = "timeout"
	ErrorCodeInternalError    ErrorCode = "internal_error"

	ErrorCodeProviderUnavailable ErrorCode = "provider_unavailable"
)

// ErrorResponse is the error envelope.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// RouteRequest is the body of POST /api/v1/route.
type RouteRequest struct {
	Query  string `json:"query"`
	Locale string `json:"locale,omitempty"`
}

// RouteResponse is a routing decision.
type RouteResponse struct {
	Route       string    `json:"route"`
	Answer      string    `json:"answer"`
	Steps       string    `json:"steps,omitempty"`
	Sources     []string  `json:"sources,omitempty"`
	Provider    string    `json:"provider,omitempty"`
	Disclaimer  string    `json:"disclaimer,omitempty"`
	Confidence  *float64  `json:"confidence,omitempty"`
	Explanation string    `json:"explanation"`
	TraceID     string    `json:"trace_id,omitempty"`
	Cached      bool      `json:"cached"`
	CreatedAt   time.Time `json:"created_at"`
}

// KBSearchRequest is the body of POST /api/v1/kb/search.
type KBSearchRequest struct {
	Query string `json:"query"`
}

// KBRecord is a knowledge base entry.
type KBRecord struct {
	ID         string    `json:"id"`
	Question   string    `json:"question"`
	Answer     string    `json:"answer"`
	Steps      string    `json:"steps,omitempty"`
	Topic      string    `json:"topic,omitempty"`
	Subtopic   string    `json:"subtopic,omitempty"`
	Difficulty string    `json:"difficulty,omitempty"`
	Provenance string    `json:"provenance"`
	Origin     string    `json:"origin,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// KBSearchResponse is the best knowledge base match.
type KBSearchResponse struct {
	Found  bool      `json:"found"`
	Exact  bool      `json:"exact"`
	Score  float64   `json:"score"`
	Record *KBRecord `json:"record,omitempty"`
}

// FeedbackRequest is the body of POST /api/v1/feedback.
type FeedbackRequest struct {
	TraceID  string `json:"trace_id"`
	Verdict  string `json:"verdict"`
	Comment  string `json:"comment,omitempty"`
	Query    string `json:"query,omitempty"`
	Route    string `json:"route,omitempty"`
	Response string `json:"response,omitempty"`
}

// FeedbackResponse acknowledges a submission.
type FeedbackResponse struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	StoredInKB bool   `json:"stored_in_kb"`
	TraceFound bool   `json:"trace_found"`
}

// FeedbackCounts aggregates the feedback log.
type FeedbackCounts struct {
	Total            int     `json:"total"`
	Positive         int     `json:"positive"`
	Negative         int     `json:"negative"`
	Detailed         int     `json:"detailed"`
	Unresolved       int     `json:"unresolved"`
	Promoted         int     `json:"promoted"`
	SatisfactionRate float64 `json:"satisfaction_rate"`
}

// FeedbackRecord is one logged submission.
type FeedbackRecord struct {
	TraceID    string    `json:"trace_id"`
	Verdict    string    `json:"verdict"`
	Comment    string    `json:"comment,omitempty"`
	Query      string    `json:"query,omitempty"`
	Route      string    `json:"route,omitempty"`
	Resolved   bool      `json:"resolved"`
	Promoted   bool      `json:"promoted"`
	ReceivedAt time.Time `json:"received_at"`
}

// FeedbackStatsResponse is GET /api/v1/feedback/stats.
type FeedbackStatsResponse struct {
	FeedbackCounts
	Recent          []FeedbackRecord    `json:"recent_feedback"`
	SupportedTokens map[string][]string `json:"supported_tokens"`
}

// RouteStats is one route's share of traffic.
type RouteStats struct {
	Count        int64   `json:"count"`
	Cached       int64   `json:"cached"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
}

// CacheStats describes the response cache.
type CacheStats struct {
	Entries   int     `json:"entries"`
	Capacity  int     `json:"capacity"`
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	HitRate   float64 `json:"hit_rate"`
	Evictions uint64  `json:"evictions"`
	InFlight  int64   `json:"in_flight"`
}

// BudgetStatus is the generation token budget.
type BudgetStatus struct {
	Provider         string `json:"provider"`
	Action           string `json:"action"`
	DailyLimit       int64  `json:"daily_limit"`
	DailyUsed        int64  `json:"daily_used"`
	DailyRemaining   int64  `json:"daily_remaining"`
	MonthlyLimit     int64  `json:"monthly_limit"`
	MonthlyUsed      int64  `json:"monthly_used"`
	MonthlyRemaining int64  `json:"monthly_remaining"`
}

// StatsResponse is GET /api/v1/stats. Absent fields mark unreadable sources.
type StatsResponse struct {
	TotalQueries int64                 `json:"total_queries"`
	Routes       map[string]RouteStats `json:"routes"`
	Cache        CacheStats            `json:"cache"`
	KBSize       *int                  `json:"kb_size,omitempty"`
	KBValidated  *int                  `json:"kb_user_validated,omitempty"`
	TraceCount   *int                  `json:"trace_count,omitempty"`
	Feedback     *FeedbackCounts       `json:"feedback,omitempty"`
	Guardrail    GuardrailSummary      `json:"guardrail"`
	Budget       *BudgetStatus         `json:"generation_budget,omitempty"`
	GeneratedAt  time.Time             `json:"generated_at"`
}

// GuardrailSummary is the short form of guardrail stats embedded in StatsResponse.
type GuardrailSummary struct {
	TotalViolations  int            `json:"total_violations"`
	InputViolations  int            `json:"input_violations"`
	OutputViolations int            `json:"output_violations"`
	ByReason         map[string]int `json:"by_reason"`
}

// Capability is one tier in the fallback chain.
type Capability struct {
	Route       string `json:"route"`
	Order       int    `json:"order"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
}

// CapabilitiesResponse is GET /api/v1/capabilities.
type CapabilitiesResponse struct {
	Tiers               []Capability `json:"tiers"`
	SimilarityThreshold float64      `json:"similarity_threshold"`
	ValidatedThreshold  float64      `json:"validated_threshold"`
	CacheTTLSeconds     int64        `json:"cache_ttl_seconds"`
}

// FlushResponse is DELETE /api/v1/cache.
type FlushResponse struct {
	Flushed int `json:"flushed"`
}

// HealthResponse is GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func decisionToDTO(d *route.Decision) RouteResponse {
	a := d.Answer()
	return RouteResponse{
		Route:       string(d.Tag()),
		Answer:      a.Text(),
		Steps:       a.Steps(),
		Sources:     a.Sources(),
		Provider:    a.Provider(),
		Disclaimer:  a.Disclaimer(),
		Confidence:  d.Confidence(),
		Explanation: d.Explanation(),
		TraceID:     d.TraceID(),
		Cached:      d.Cached(),
		CreatedAt:   d.CreatedAt(),
	}
}

func kbSearchToDTO(res *kbsearch.Result) KBSearchResponse {
	if !res.Found {
		return KBSearchResponse{}
	}
	r := &res.Record
	return KBSearchResponse{
		Found: true,
		Exact: res.Exact,
		Score: res.Score,
		Record: &KBRecord{
			ID:         r.ID(),
			Question:   r.Question(),
			Answer:     r.Answer(),
			Steps:      r.Steps(),
			Topic:      r.Topic(),
			Subtopic:   r.Subtopic(),
			Difficulty: r.Difficulty(),
			Provenance: string(r.Provenance()),
			Origin:     string(r.Origin()),
			CreatedAt:  r.CreatedAt(),
		},
	}
}

func countsToDTO(c domfb.Counts) FeedbackCounts {
	return FeedbackCounts{
		Total:            c.Total,
		Positive:         c.Positive,
		Negative:         c.Negative,
		Detailed:         c.Detailed,
		Unresolved:       c.Unresolved,
		Promoted:         c.Promoted,
		SatisfactionRate: c.SatisfactionRate(),
	}
}

func feedbackStatsToDTO(s *feedbackuc.Stats) FeedbackStatsResponse {
	recent := make([]FeedbackRecord, len(s.Recent))
	for i, r := range s.Recent {
		recent[i] = FeedbackRecord{
			TraceID:    r.TraceID,
			Verdict:    string(r.Verdict),
			Comment:    r.Comment,
			Query:      r.Query,
			Route:      string(r.Route),
			Resolved:   r.Resolved,
			Promoted:   r.Promoted,
			ReceivedAt: r.ReceivedAt,
		}
	}
	return FeedbackStatsResponse{
		FeedbackCounts: countsToDTO(s.Counts),
		Recent:         recent,
		SupportedTokens: map[string][]string{
			"positive": s.PositiveTokens,
			"negative": s.NegativeTokens,
		},
	}
}

func statsToDTO(r *statsuc.Report) StatsResponse {
	routes := make(map[string]RouteStats, len(r.Routing.Routes))
	for tag, rs := range r.Routing.Routes {
		routes[string(tag)] = RouteStats{
			Count:        rs.Count,
			Cached:       rs.Cached,
			AvgLatencyMS: float64(rs.AvgLatency.Microseconds()) / 1000,
		}
	}
	resp := StatsResponse{
		TotalQueries: r.Routing.Total,
		Routes:       routes,
		Cache:        cacheToDTO(r.Cache),
		KBSize:       r.KBSize,
		KBValidated:  r.KBValidated,
		TraceCount:   r.TraceCount,
		Guardrail: GuardrailSummary{
			TotalViolations:  r.Guardrail.TotalViolations,
			InputViolations:  r.Guardrail.InputViolations,
			OutputViolations: r.Guardrail.OutputViolations,
			ByReason:         r.Guardrail.ByReason,
		},
		GeneratedAt: r.GeneratedAt,
	}
	if r.Feedback != nil {
		c := countsToDTO(*r.Feedback)
		resp.Feedback = &c
	}
	if r.Budget != nil {
		b := budgetToDTO(r.Budget)
		resp.Budget = &b
	}
	return resp
}

func cacheToDTO(s respcache.Stats) CacheStats {
	return CacheStats{
		Entries:   s.Entries,
		Capacity:  s.Capacity,
		Hits:      s.Hits,
		Misses:    s.Misses,
		HitRate:   s.HitRate,
		Evictions: s.Evictions,
		InFlight:  s.InFlight,
	}
}

func budgetToDTO(b *generation.Snapshot) BudgetStatus {
	return BudgetStatus{
		Provider:         b.Provider,
		Action:           string(b.Action),
		DailyLimit:       b.DailyLimit,
		DailyUsed:        b.DailyUsed,
		DailyRemaining:   b.DailyRemaining,
		MonthlyLimit:     b.MonthlyLimit,
		MonthlyUsed:      b.MonthlyUsed,
		MonthlyRemaining: b.MonthlyRemaining,
	}
}

func capabilitiesToDTO(caps []routeruc.Capability, p *routeruc.Policy) CapabilitiesResponse {
	tiers := make([]Capability, len(caps))
	for i, c := range caps {
		tiers[i] = Capability{
			Route:       string(c.Route),
			Order:       c.Order,
			Description: c.Description,
			Enabled:     c.Enabled,
		}
	}
	return CapabilitiesResponse{
		Tiers:               tiers,
		SimilarityThreshold: p.Threshold,
		ValidatedThreshold:  p.ValidatedThreshold,
		CacheTTLSeconds:     int64(p.CacheTTL / time.Second),
	}
}
