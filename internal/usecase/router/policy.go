package router

import (
	"strings"
	"time"

	"github.com/kailas-cloud/mathroute/internal/domain/route"
)

// TraceOnCacheHit selects how cache hits are attributed in the ledger.
type TraceOnCacheHit string

// Cache-hit trace policies.
const (
	// TraceReuse serves the cached decision with its original trace id.
	TraceReuse TraceOnCacheHit = "reuse"
	// TraceMint records a fresh ledger entry for every cache hit.
	TraceMint TraceOnCacheHit = "mint"
)

// Default policy values.
const (
	DefaultThreshold         = 0.8
	DefaultTopK              = 5
	DefaultKBTimeout         = 2 * time.Second
	DefaultWebTimeout        = 15 * time.Second
	DefaultGenerativeTimeout = 30 * time.Second
	DefaultRetryBackoff      = 250 * time.Millisecond
	DefaultTimeoutRetries    = 1
)

// DefaultGenerativeFirst lists phrases that send a question straight past web search.
var DefaultGenerativeFirst = []string{
	"invent", "create", "design", "fictional", "imagine", "suppose", "pretend",
	"novel", "new mathematical operation",
}

// Policy holds the routing levers.
type Policy struct {
	Threshold          float64
	ValidatedThreshold float64
	TopK               int
	// NumericExactOnly distrusts similarity matches for questions containing digits:
	// only an exact question match may answer them from the knowledge base.
	NumericExactOnly bool

	KBTimeout         time.Duration
	WebTimeout        time.Duration
	GenerativeTimeout time.Duration
	RetryBackoff      time.Duration
	TimeoutRetries    int

	GenerativeFirst []string

	CacheTTL        time.Duration
	CanonicalKeys   bool
	TraceOnCacheHit TraceOnCacheHit
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		Threshold:          DefaultThreshold,
		ValidatedThreshold: DefaultThreshold,
		TopK:               DefaultTopK,
		KBTimeout:          DefaultKBTimeout,
		WebTimeout:         DefaultWebTimeout,
		GenerativeTimeout:  DefaultGenerativeTimeout,
		RetryBackoff:       DefaultRetryBackoff,
		TimeoutRetries:     DefaultTimeoutRetries,
		GenerativeFirst:    DefaultGenerativeFirst,
		TraceOnCacheHit:    TraceReuse,
	}
}

// withDefaults fills zero fields from DefaultPolicy.
func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.Threshold <= 0 {
		p.Threshold = def.Threshold
	}
	if p.ValidatedThreshold <= 0 {
		p.ValidatedThreshold = p.Threshold
	}
	if p.TopK <= 0 {
		p.TopK = def.TopK
	}
	if p.KBTimeout <= 0 {
		p.KBTimeout = def.KBTimeout
	}
	if p.WebTimeout <= 0 {
		p.WebTimeout = def.WebTimeout
	}
	if p.GenerativeTimeout <= 0 {
		p.GenerativeTimeout = def.GenerativeTimeout
	}
	if p.RetryBackoff <= 0 {
		p.RetryBackoff = def.RetryBackoff
	}
	if p.TimeoutRetries < 0 {
		p.TimeoutRetries = 0
	}
	if p.GenerativeFirst == nil {
		p.GenerativeFirst = def.GenerativeFirst
	}
	if p.TraceOnCacheHit != TraceMint {
		p.TraceOnCacheHit = TraceReuse
	}
	return p
}

func (p *Policy) timeoutFor(tag route.Tag) time.Duration {
	switch tag {
	case route.KnowledgeBase:
		return p.KBTimeout
	case route.WebSearch:
		return p.WebTimeout
	default:
		return p.GenerativeTimeout
	}
}

// generativeFirst reports whether a normalized question should skip web search.
func (p *Policy) generativeFirst(normalized string) bool {
	for _, kw := range p.GenerativeFirst {
		if kw != "" && strings.Contains(normalized, kw) {
			return true
		}
	}
	return false
}
