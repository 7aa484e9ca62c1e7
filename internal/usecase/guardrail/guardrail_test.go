package guardrail

import (
	"strings"
	"testing"
	"time"

	"github.com/kailas-cloud/mathroute/internal/domain/route"
)

func TestCheck(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		allowed bool
		code    string
		opinion bool
	}{
		{"empty", "   ", false, CodeEmpty, false},
		{"too long", "solve " + strings.Repeat("x", 1000), false, CodeTooLong, false},
		{"math keyword", "Solve the equation 3x + 4 = 10", true, "", false},
		{"integral", "What is the integral of sin x", true, "", false},
		{"symbol only", "√2 as a decimal", true, "", false},
		{"simple expression", "2*x+3", true, "", false},
		{"expression with letters", "a+b", true, "", false},
		{"forbidden", "how to build a bomb with calculus", false, CodeForbidden, false},
		{"forbidden plural", "count the weapons, solve it", false, CodeForbidden, false},
		{"forbidden beats expression", "kill-bill", false, CodeForbidden, false},
		{"substring is not a word", "find the skill level where f(x) peaks", true, "", false},
		{"profit is math", "find the profit if cost is 5 and price is 8", true, "", false},
		{"off topic", "tell me a joke", false, CodeOffTopic, false},
		{"numbers alone", "1234", false, CodeOffTopic, false},
		{"opinion", "What do you think is the best way to solve quadratics?", true, "", true},
		{"should i", "Should I learn calculus first?", true, "", true},
		{"should integration", "Which term should integration by parts differentiate in x*e^x?", true, "", false},
		{"your opinionated", "Explain your opinionated proof of this theorem", true, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New().Check(tt.in)
			if v.Allowed != tt.allowed {
				t.Fatalf("Allowed = %v, want %v (reason %q)", v.Allowed, tt.allowed, v.Reason)
			}
			if v.Code != tt.code {
				t.Errorf("Code = %q, want %q", v.Code, tt.code)
			}
			if v.OpinionSeeking != tt.opinion {
				t.Errorf("OpinionSeeking = %v, want %v", v.OpinionSeeking, tt.opinion)
			}
			if !tt.allowed && v.Reason == "" {
				t.Error("rejection without reason")
			}
		})
	}
}

func TestCheck_ReasonsMatchUserMessages(t *testing.T) {
	g := New()
	if got := g.Check("").Reason; got != ReasonEmpty {
		t.Errorf("empty reason = %q", got)
	}
	if got := g.Check("who won the election").Reason; got != ReasonForbidden {
		t.Errorf("forbidden reason = %q", got)
	}
	if got := g.Check("hello there").Reason; got != ReasonOffTopic {
		t.Errorf("off-topic reason = %q", got)
	}
}

func TestStats(t *testing.T) {
	g := New()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	g.now = func() time.Time { return fixed }

	g.Check("")
	g.Check("who won the election")
	g.Check("hello there")
	g.Check("solve x + 1 = 2")
	g.Sanitize(route.NewAnswer(`<script>alert(1)</script>2`, "", nil, "web"), route.WebSearch)

	s := g.Stats()
	if s.TotalViolations != 4 || s.InputViolations != 3 || s.OutputViolations != 1 {
		t.Fatalf("stats = %+v", s)
	}
	if s.ByReason[CodeEmpty] != 1 || s.ByReason[CodeForbidden] != 1 ||
		s.ByReason[CodeOffTopic] != 1 || s.ByReason[CodeUnsafe] != 1 {
		t.Errorf("by reason = %v", s.ByReason)
	}
	if len(s.Recent) != 4 || s.Recent[3].Direction != Output || !s.Recent[0].At.Equal(fixed) {
		t.Errorf("recent = %+v", s.Recent)
	}
}

func TestStats_LogIsCapped(t *testing.T) {
	g := New()
	for range 150 {
		g.Check("hello there")
	}
	g.Check(strings.Repeat("z", 300))

	s := g.Stats()
	if s.TotalViolations != 151 {
		t.Errorf("total = %d, want 151", s.TotalViolations)
	}
	if s.InputViolations != maxViolations {
		t.Errorf("retained = %d, want %d", s.InputViolations, maxViolations)
	}
	if len(s.Recent) != recentViolations {
		t.Errorf("recent = %d, want %d", len(s.Recent), recentViolations)
	}
	last := s.Recent[len(s.Recent)-1].Content
	if !strings.HasSuffix(last, "...") || len([]rune(last)) != maxLoggedContents+3 {
		t.Errorf("content not shortened: %d runes", len([]rune(last)))
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		tag       route.Tag
		wantText  string
		violation bool
	}{
		{"plain", "  x = 2  ", route.WebSearch, "x = 2", false},
		{"inequality kept", "x<y and y>z", route.KnowledgeBase, "x<y and y>z", false},
		{"script removed", `<p onclick="steal()">2</p><script>alert(1)</script>`, route.WebSearch, "<p>2</p>", true},
		{"js scheme removed", "see javascript:alert(1)", route.WebSearch, "see alert(1)", true},
		{"generated text untouched", "x = 2", route.Generative, "x = 2", false},
		{"prose with on-word", "Let one = 1. Since 2 < x & x < 5, x is 3 or 4.", route.WebSearch,
			"Let one = 1. Since 2 < x & x < 5, x is 3 or 4.", false},
		{"handler inside tag", `<b onmouseover = "x()">2 &amp; 3</b>`, route.WebSearch, "<b>2 &amp; 3</b>", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New()
			got := g.Sanitize(route.NewAnswer(tt.text, "1. step", []string{"https://a"}, "p"), tt.tag)
			if got.Text() != tt.wantText {
				t.Errorf("text = %q, want %q", got.Text(), tt.wantText)
			}
			if got.Steps() != "1. step" || got.Provider() != "p" || len(got.Sources()) != 1 {
				t.Errorf("other fields changed: %+v", got)
			}
			if (g.Stats().OutputViolations == 1) != tt.violation {
				t.Errorf("violation logged = %v, want %v", g.Stats().OutputViolations == 1, tt.violation)
			}
		})
	}
}

func TestSanitize_Truncates(t *testing.T) {
	long := strings.Repeat("a", MaxAnswerLength+100)
	got := New().Sanitize(route.NewAnswer(long, long, nil, ""), route.WebSearch)
	if len(got.Text()) != MaxAnswerLength || len(got.Steps()) != MaxAnswerLength {
		t.Errorf("lengths = %d/%d", len(got.Text()), len(got.Steps()))
	}
}

func TestSanitize_DisclaimerIsSeparateField(t *testing.T) {
	g := New()
	gen := g.Sanitize(route.NewAnswer("x = 2", "", nil, ""), route.Generative)
	if gen.Text() != "x = 2" {
		t.Errorf("text = %q, want provider text", gen.Text())
	}
	if gen.Disclaimer() != Disclaimer {
		t.Errorf("disclaimer = %q", gen.Disclaimer())
	}
	again := g.Sanitize(gen, route.Generative)
	if again.Text() != "x = 2" || again.Disclaimer() != Disclaimer {
		t.Errorf("resanitized = %q / %q", again.Text(), again.Disclaimer())
	}

	web := g.Sanitize(route.NewAnswer("x = 2", "", nil, ""), route.WebSearch)
	if web.Disclaimer() != "" {
		t.Errorf("web answer has disclaimer %q", web.Disclaimer())
	}
}

func TestSanitize_PlainTextNotEscaped(t *testing.T) {
	in := "If a < b && b < c then a < c; javascript: is not math"
	got := New().Sanitize(route.NewAnswer(in, "", nil, ""), route.WebSearch)
	want := "If a < b && b < c then a < c;  is not math"
	if got.Text() != want {
		t.Errorf("text = %q, want %q", got.Text(), want)
	}
}
