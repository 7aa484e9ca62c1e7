package route

import (
	"testing"
	"time"
)

func TestTag_Properties(t *testing.T) {
	tests := []struct {
		tag        Tag
		tier       int
		cacheable  bool
		promotable bool
	}{
		{KnowledgeBase, 0, true, false},
		{WebSearch, 1, true, true},
		{Generative, 2, true, true},
		{HumanReview, 3, false, false},
		{Blocked, -1, false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.tag), func(t *testing.T) {
			if !tt.tag.IsValid() {
				t.Error("IsValid() = false")
			}
			if got := tt.tag.Tier(); got != tt.tier {
				t.Errorf("Tier() = %d, want %d", got, tt.tier)
			}
			if got := tt.tag.Cacheable(); got != tt.cacheable {
				t.Errorf("Cacheable() = %v, want %v", got, tt.cacheable)
			}
			if got := tt.tag.Promotable(); got != tt.promotable {
				t.Errorf("Promotable() = %v, want %v", got, tt.promotable)
			}
		})
	}
	if Tag("other").IsValid() {
		t.Error("unknown tag reported valid")
	}
}

func TestParseTag(t *testing.T) {
	tests := map[string]Tag{
		"knowledge_base": KnowledgeBase,
		"KB":             KnowledgeBase,
		" web ":          WebSearch,
		"ai":             Generative,
		"generative":     Generative,
		"human":          HumanReview,
		"blocked":        Blocked,
	}
	for in, want := range tests {
		got, err := ParseTag(in)
		if err != nil {
			t.Errorf("ParseTag(%q) error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseTag(%q) = %q, want %q", in, got, want)
		}
	}
	if _, err := ParseTag("oracle"); err == nil {
		t.Error("expected error for unknown route")
	}
}

func TestNewDecision_ConfidenceOnlyForKB(t *testing.T) {
	c := 0.9
	web := NewDecision("q", WebSearch, NewAnswer("a", "", nil, "web"), &c, "", "t1", time.Now())
	if web.Confidence() != nil {
		t.Error("web decision must not carry confidence")
	}

	over := 1.4
	kb := NewDecision("q", KnowledgeBase, NewAnswer("a", "", nil, "kb"), &over, "", "t1", time.Now())
	if kb.Confidence() == nil || *kb.Confidence() != 1 {
		t.Errorf("Confidence() = %v, want clamped 1", kb.Confidence())
	}
}

func TestDecision_WithCachedIsCopy(t *testing.T) {
	d := NewDecision("q", Generative, NewAnswer("a", "", []string{"x"}, "openai"), nil, "e", "t1", time.Now())
	cached := d.WithCached()
	if d.Cached() {
		t.Error("original must not change")
	}
	if !cached.Cached() || cached.TraceID() != "t1" || cached.Answer().Text() != "a" {
		t.Errorf("unexpected copy: %+v", cached)
	}

	minted := d.WithTraceID("t2")
	if minted.TraceID() != "t2" || d.TraceID() != "t1" {
		t.Error("WithTraceID must return a copy")
	}
}

func TestNewAnswer_CopiesSources(t *testing.T) {
	src := []string{"https://a"}
	a := NewAnswer("x", "", src, "web")
	src[0] = "mutated"
	if a.Sources()[0] != "https://a" {
		t.Error("source mutation leaked into answer")
	}
}

func TestAnswer_WithDisclaimerKeepsText(t *testing.T) {
	a := NewAnswer("x = 1", "", nil, "ai")
	b := a.WithDisclaimer("verify")
	if b.Text() != "x = 1" || b.Disclaimer() != "verify" {
		t.Errorf("got %q / %q", b.Text(), b.Disclaimer())
	}
	if a.Disclaimer() != "" {
		t.Error("WithDisclaimer mutated the original")
	}
}
