package route

import (
	"fmt"
	"strings"
	"time"
)

// Tag identifies the tier that produced a decision.
type Tag string

// Route tags.
const (
	KnowledgeBase Tag = "knowledge_base"
	WebSearch     Tag = "web_search"
	Generative    Tag = "generative"
	HumanReview   Tag = "human_review"
	Blocked       Tag = "blocked"
)

var aliases = map[string]Tag{
	"kb":    KnowledgeBase,
	"web":   WebSearch,
	"ai":    Generative,
	"human": HumanReview,
}

// All returns the answer-producing tags in tier order.
func All() []Tag {
	return []Tag{KnowledgeBase, WebSearch, Generative, HumanReview}
}

// IsValid reports whether t is a known tag.
func (t Tag) IsValid() bool {
	switch t {
	case KnowledgeBase, WebSearch, Generative, HumanReview, Blocked:
		return true
	}
	return false
}

// Tier returns the position in the fallback order, -1 for Blocked and unknown tags.
func (t Tag) Tier() int {
	switch t {
	case KnowledgeBase:
		return 0
	case WebSearch:
		return 1
	case Generative:
		return 2
	case HumanReview:
		return 3
	default:
		return -1
	}
}

// Cacheable reports whether decisions with this tag may enter the response cache.
func (t Tag) Cacheable() bool {
	switch t {
	case KnowledgeBase, WebSearch, Generative:
		return true
	}
	return false
}

// Promotable reports whether positive feedback on this tag may add a KB record.
func (t Tag) Promotable() bool { return t == WebSearch || t == Generative }

// ParseTag accepts canonical tag values and short aliases (kb, web, ai, human).
func ParseTag(s string) (Tag, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if t := Tag(v); t.IsValid() {
		return t, nil
	}
	if t, ok := aliases[v]; ok {
		return t, nil
	}
	return "", fmt.Errorf("unknown route %q", s)
}

// Answer is the payload of a decision (value object).
type Answer struct {
	text       string
	steps      string
	sources    []string
	provider   string
	disclaimer string
}

// NewAnswer creates an Answer. Sources are copied.
func NewAnswer(text, steps string, sources []string, provider string) Answer {
	var src []string
	if len(sources) > 0 {
		src = append([]string(nil), sources...)
	}
	return Answer{text: text, steps: steps, sources: src, provider: provider}
}

// Text returns the answer text.
func (a Answer) Text() string { return a.text }

// Steps returns the worked solution, if any.
func (a Answer) Steps() string { return a.steps }

// Sources returns cited URLs.
func (a Answer) Sources() []string { return a.sources }

// Provider names the backend that produced the answer.
func (a Answer) Provider() string { return a.provider }

// Disclaimer returns the notice shown alongside the answer, empty when none applies.
func (a Answer) Disclaimer() string { return a.disclaimer }

// WithText returns a copy with replaced text.
func (a Answer) WithText(text string) Answer {
	a.text = text
	return a
}

// WithSteps returns a copy with replaced steps.
func (a Answer) WithSteps(steps string) Answer {
	a.steps = steps
	return a
}

// WithDisclaimer returns a copy carrying the given notice. The text is left as is.
func (a Answer) WithDisclaimer(d string) Answer {
	a.disclaimer = d
	return a
}

// Decision is the outcome of routing one query (immutable).
type Decision struct {
	query       string
	tag         Tag
	answer      Answer
	confidence  *float64
	explanation string
	traceID     string
	createdAt   time.Time
	cached      bool
}

// NewDecision creates a Decision. Confidence is kept only for KnowledgeBase and clamped to [0,1].
func NewDecision(
	q string, tag Tag, answer Answer, confidence *float64, explanation, traceID string, createdAt time.Time,
) Decision {
	var conf *float64
	if tag == KnowledgeBase && confidence != nil {
		c := min(max(*confidence, 0), 1)
		conf = &c
	}
	return Decision{
		query: q, tag: tag, answer: answer, confidence: conf,
		explanation: explanation, traceID: traceID, createdAt: createdAt,
	}
}

// Query returns the query text the decision answers.
func (d Decision) Query() string { return d.query }

// Tag returns the producing tier.
func (d Decision) Tag() Tag { return d.tag }

// Answer returns the answer payload.
func (d Decision) Answer() Answer { return d.answer }

// Confidence returns the KB similarity score, nil for other tiers.
func (d Decision) Confidence() *float64 {
	if d.confidence == nil {
		return nil
	}
	c := *d.confidence
	return &c
}

// Explanation returns a human-readable reason for the route.
func (d Decision) Explanation() string { return d.explanation }

// TraceID returns the ledger id for feedback, empty for Blocked.
func (d Decision) TraceID() string { return d.traceID }

// CreatedAt returns when the decision was computed.
func (d Decision) CreatedAt() time.Time { return d.createdAt }

// Cached reports whether the decision was served from the response cache.
func (d Decision) Cached() bool { return d.cached }

// WithCached returns a copy flagged as served from cache.
func (d Decision) WithCached() Decision {
	d.cached = true
	return d
}

// WithTraceID returns a copy with a different trace id.
func (d Decision) WithTraceID(id string) Decision {
	d.traceID = id
	return d
}
