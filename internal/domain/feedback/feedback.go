package feedback

import (
	"strings"
	"time"

	"github.com/kailas-cloud/mathroute/internal/domain/route"
)

// Verdict is the classified feedback signal.
type Verdict string

// Verdict values.
const (
	Positive Verdict = "positive"
	Negative Verdict = "negative"
	Detailed Verdict = "detailed"
)

// Negative tokens are matched first: several of them contain a positive token ("unhelpful").
var (
	negativeTokens = []string{"👎", "down", "downvote", "negative", "unhelpful", "bad", "incorrect", "poor", "useless", "wrong"}
	positiveTokens = []string{"👍", "up", "upvote", "positive", "helpful", "good", "excellent", "accurate", "useful", "correct"}
)

// Classify maps a raw verdict token onto a Verdict. Matching is case-insensitive;
// anything unrecognized is Detailed.
func Classify(token string) Verdict {
	t := strings.ToLower(strings.TrimSpace(token))
	if t == "" {
		return Detailed
	}
	for _, n := range negativeTokens {
		if strings.Contains(t, n) {
			return Negative
		}
	}
	for _, p := range positiveTokens {
		if strings.Contains(t, p) {
			return Positive
		}
	}
	return Detailed
}

// SupportedTokens lists the recognized positive and negative tokens.
func SupportedTokens() (positive, negative []string) {
	return append([]string(nil), positiveTokens...), append([]string(nil), negativeTokens...)
}

// Record is one appended feedback submission.
type Record struct {
	TraceID    string
	Verdict    Verdict
	RawVerdict string
	Comment    string
	Query      string
	Route      route.Tag
	Resolved   bool
	Promoted   bool
	ReceivedAt time.Time
}

// Outcome is returned to the client.
type Outcome struct {
	StoredInKB bool
	TraceFound bool
	Message    string
}

// Counts aggregates the feedback log.
type Counts struct {
	Total      int
	Positive   int
	Negative   int
	Detailed   int
	Unresolved int
	Promoted   int
}

// Add folds one record into the counts.
func (c *Counts) Add(r Record) {
	c.Total++
	switch r.Verdict {
	case Positive:
		c.Positive++
	case Negative:
		c.Negative++
	default:
		c.Detailed++
	}
	if !r.Resolved {
		c.Unresolved++
	}
	if r.Promoted {
		c.Promoted++
	}
}

// SatisfactionRate is positive / (positive + negative), 0 when no votes.
func (c Counts) SatisfactionRate() float64 {
	votes := c.Positive + c.Negative
	if votes == 0 {
		return 0
	}
	return float64(c.Positive) / float64(votes)
}
