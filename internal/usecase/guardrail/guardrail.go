// Package guardrail keeps the service on topic: it screens incoming questions
// and cleans provider answers before they are served.
package guardrail

import (
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/kailas-cloud/mathroute/internal/domain/query"
)

// Rejection codes, also used as the metric reason label.
const (
	CodeEmpty     = "empty"
	CodeTooLong   = "too_long"
	CodeForbidden = "forbidden"
	CodeOffTopic  = "off_topic"
	CodeUnsafe    = "unsafe_output"
)

// Rejection messages shown to the user.
const (
	ReasonEmpty     = "Query cannot be empty"
	ReasonTooLong   = "Query too long (max 1000 characters)"
	ReasonForbidden = "Content policy violation: inappropriate content detected"
	ReasonOffTopic  = "I'm designed to focus only on educational mathematics. " +
		"Could you please ask me a math-related question?"
	reasonUnsafe = "Active content removed from answer"
)

const maxExpressionLen = 200

var mathKeywords = []string{
	"solve", "integrate", "integral", "differentiate", "derivative", "limit", "probability",
	"equation", "geometry", "algebra", "calculus", "function", "expression", "simplify",
	"expand", "proof", "prove", "theorem", "matrix", "vector", "trigonometry", "logarithm",
	"factorial", "permutation", "combination", "fraction", "prime", "step", "value", "find",
	"compute", "calculate", "explain", "detail", "graph", "plot", "math",
}

// forbiddenWords match whole words, plural "s" included. Words that also name
// common math topics (money, profit, game, match) are not listed.
var forbiddenWords = []string{
	"violence", "hate", "illegal", "drug", "drugs", "weapon", "bomb", "kill",
	"suicide", "self-harm", "adult", "sexual", "racist", "discriminatory",
	"election", "politics", "political", "vote", "voting", "candidate", "parliament", "congress",
	"president", "minister", "government", "democracy", "republican", "democrat", "conservative",
	"liberal", "campaign", "ballot", "polling", "constituency", "senator", "governor",
	"celebrity", "gossip", "entertainment", "movie", "actor", "actress", "singer", "musician",
	"sports", "football", "basketball", "cricket", "tennis", "tournament",
	"cryptocurrency", "bitcoin", "gambling", "betting", "casino",
}

const mathSymbols = "^+-*/=()[]{}√∫∑∏∆∇∞πθαβγδελμσΦ"

// opinionMarkers match whole words only, so "should integration" is not "should i".
var opinionMarkers = regexp.MustCompile(`(?i)\b(?:what\s+do\s+you\s+think|your\s+opinion|best\s+way\s+to\s+feel|should\s+i|do\s+you\s+believe|do\s+you\s+feel)\b`)

var simpleExpression = regexp.MustCompile(`^[\s0-9a-zA-Z+\-*/^=()\[\]{}.]+$`)

// Verdict is the outcome of screening one question.
type Verdict struct {
	Allowed bool
	Code    string
	Reason  string
	// OpinionSeeking marks allowed questions that need a human rather than a tier.
	OpinionSeeking bool
}

// Guardrail screens questions and sanitizes answers. Safe for concurrent use.
type Guardrail struct {
	forbidden map[string]struct{}

	mu         sync.Mutex
	violations []Violation
	total      int
	now        func() time.Time
}

// New creates a Guardrail.
func New() *Guardrail {
	forbidden := make(map[string]struct{}, len(forbiddenWords))
	for _, w := range forbiddenWords {
		forbidden[w] = struct{}{}
	}
	return &Guardrail{forbidden: forbidden, now: time.Now}
}

// Check screens a raw question. Rejections are logged as input violations.
func (g *Guardrail) Check(raw string) Verdict {
	v := g.check(raw)
	if !v.Allowed {
		g.logViolation(Input, raw, v.Code, v.Reason)
	}
	return v
}

func (g *Guardrail) check(raw string) Verdict {
	text := strings.TrimSpace(raw)
	if text == "" {
		return reject(CodeEmpty, ReasonEmpty)
	}
	if utf8.RuneCountInString(text) > query.MaxLength {
		return reject(CodeTooLong, ReasonTooLong)
	}

	lower := strings.ToLower(text)
	if g.hasForbiddenWord(lower) {
		return reject(CodeForbidden, ReasonForbidden)
	}

	if isSimpleExpression(text) {
		return Verdict{Allowed: true}
	}

	if !containsAny(lower, mathKeywords) && !strings.ContainsAny(text, mathSymbols) {
		return reject(CodeOffTopic, ReasonOffTopic)
	}

	return Verdict{Allowed: true, OpinionSeeking: opinionMarkers.MatchString(text)}
}

func (g *Guardrail) hasForbiddenWord(lower string) bool {
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '-'
	})
	for _, w := range words {
		if g.isForbidden(w) {
			return true
		}
		if strings.Contains(w, "-") {
			for part := range strings.SplitSeq(w, "-") {
				if g.isForbidden(part) {
					return true
				}
			}
		}
	}
	return false
}

func (g *Guardrail) isForbidden(w string) bool {
	if _, ok := g.forbidden[w]; ok {
		return true
	}
	_, ok := g.forbidden[strings.TrimSuffix(w, "s")]
	return ok
}

// isSimpleExpression accepts terse input such as "2*x+3" that carries no keyword.
func isSimpleExpression(s string) bool {
	return len(s) <= maxExpressionLen &&
		strings.ContainsAny(s, "+-*/^=") &&
		simpleExpression.MatchString(s)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func reject(code, reason string) Verdict {
	return Verdict{Code: code, Reason: reason}
}
