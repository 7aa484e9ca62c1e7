package mathroute

import (
	"time"

	"github.com/kailas-cloud/mathroute/internal/domain/route"
	healthuc "github.com/kailas-cloud/mathroute/internal/usecase/health"
)

// Route tags.
const (
	RouteKnowledgeBase = string(route.KnowledgeBase)
	RouteWebSearch     = string(route.WebSearch)
	RouteGenerative    = string(route.Generative)
	RouteHumanReview   = string(route.HumanReview)
	RouteBlocked       = string(route.Blocked)
)

// Health states.
const (
	HealthOK       = string(healthuc.Healthy)
	HealthDegraded = string(healthuc.Degraded)
	HealthError    = string(healthuc.Unhealthy)
)

// Answer is a routing decision.
type Answer struct {
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

// Answered reports whether the decision carries a usable answer.
func (a *Answer) Answered() bool {
	return a.Route != RouteBlocked && a.Route != RouteHumanReview
}

// Feedback is one verdict on a routed answer. Query, Route and Response are optional context.
type Feedback struct {
	TraceID  string `json:"trace_id"`
	Verdict  string `json:"verdict"`
	Comment  string `json:"comment,omitempty"`
	Query    string `json:"query,omitempty"`
	Route    string `json:"route,omitempty"`
	Response string `json:"response,omitempty"`
}

// FeedbackResult acknowledges a submission.
type FeedbackResult struct {
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

// FeedbackStats summarizes the feedback log.
type FeedbackStats struct {
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

// KBMatch is the result of SearchKB. Record is nil when nothing matched.
type KBMatch struct {
	Found  bool      `json:"found"`
	Exact  bool      `json:"exact"`
	Score  float64   `json:"score"`
	Record *KBRecord `json:"record,omitempty"`
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

// Violation is one guardrail rejection.
type Violation struct {
	Direction string    `json:"type"`
	Code      string    `json:"code"`
	Reason    string    `json:"reason"`
	Content   string    `json:"content"`
	At        time.Time `json:"timestamp"`
}

// GuardrailStats counts guardrail rejections. Recent is only filled by GuardrailStats.
type GuardrailStats struct {
	TotalViolations  int            `json:"total_violations"`
	InputViolations  int            `json:"input_violations"`
	OutputViolations int            `json:"output_violations"`
	ByReason         map[string]int `json:"by_reason"`
	Recent           []Violation    `json:"recent_violations,omitempty"`
}

// Stats is the service-wide report. Nil pointers mark sources the server could not read.
type Stats struct {
	TotalQueries int64                 `json:"total_queries"`
	Routes       map[string]RouteStats `json:"routes"`
	Cache        CacheStats            `json:"cache"`
	KBSize       *int                  `json:"kb_size,omitempty"`
	KBValidated  *int                  `json:"kb_user_validated,omitempty"`
	TraceCount   *int                  `json:"trace_count,omitempty"`
	Feedback     *FeedbackCounts       `json:"feedback,omitempty"`
	Guardrail    GuardrailStats        `json:"guardrail"`
	Budget       *BudgetStatus         `json:"generation_budget,omitempty"`
	GeneratedAt  time.Time             `json:"generated_at"`
}

// Tier is one step of the fallback chain.
type Tier struct {
	Route       string `json:"route"`
	Order       int    `json:"order"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
}

// Capabilities describes the configured fallback chain.
type Capabilities struct {
	Tiers               []Tier  `json:"tiers"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	ValidatedThreshold  float64 `json:"validated_threshold"`
	CacheTTLSeconds     int64   `json:"cache_ttl_seconds"`
}

// HealthStatus represents the aggregated system health.
type HealthStatus struct {
	Status string            `json:"status"` // "ok", "degraded", "error"
	Checks map[string]string `json:"checks"` // component -> "ok"/"error"
}
