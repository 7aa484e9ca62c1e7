package guardrail

import (
	"time"
	"unicode/utf8"

	"github.com/kailas-cloud/mathroute/internal/metrics"
)

const (
	maxViolations     = 100
	recentViolations  = 10
	maxLoggedContents = 100
)

// Direction tells whether a violation was found in a question or an answer.
type Direction string

// Violation directions.
const (
	Input  Direction = "input"
	Output Direction = "output"
)

// Violation is one logged guardrail hit.
type Violation struct {
	Direction Direction `json:"type"`
	Content   string    `json:"content"`
	Code      string    `json:"code"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"timestamp"`
}

// Stats summarizes the violation log.
type Stats struct {
	TotalViolations  int            `json:"total_violations"`
	InputViolations  int            `json:"input_violations"`
	OutputViolations int            `json:"output_violations"`
	ByReason         map[string]int `json:"by_reason"`
	Recent           []Violation    `json:"recent_violations"`
}

func (g *Guardrail) logViolation(dir Direction, content, code, reason string) {
	metrics.GuardrailViolationsTotal.WithLabelValues(code).Inc()

	if utf8.RuneCountInString(content) > maxLoggedContents {
		content = string([]rune(content)[:maxLoggedContents]) + "..."
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.total++
	g.violations = append(g.violations, Violation{
		Direction: dir,
		Content:   content,
		Code:      code,
		Reason:    reason,
		At:        g.now(),
	})
	if len(g.violations) > maxViolations {
		g.violations = append(g.violations[:0:0], g.violations[len(g.violations)-maxViolations:]...)
	}
}

// Stats returns counts over the retained log (the last 100 violations) and the 10 most recent.
// TotalViolations counts every violation since start.
func (g *Guardrail) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := Stats{TotalViolations: g.total, ByReason: make(map[string]int)}
	for _, v := range g.violations {
		switch v.Direction {
		case Input:
			s.InputViolations++
		case Output:
			s.OutputViolations++
		}
		s.ByReason[v.Code]++
	}
	start := max(len(g.violations)-recentViolations, 0)
	s.Recent = append([]Violation(nil), g.violations[start:]...)
	return s
}
