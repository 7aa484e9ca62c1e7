package feedback

import "testing"

func TestClassify(t *testing.T) {
	tests := map[string]Verdict{
		"👍":                            Positive,
		"UP":                           Positive,
		"helpful":                      Positive,
		"correct":                      Positive,
		"very useful":                  Positive,
		"👎":                            Negative,
		"unhelpful":                    Negative,
		"incorrect":                    Negative,
		"Wrong":                        Negative,
		"downvote":                     Negative,
		"":                             Detailed,
		"the second step skips a sign": Detailed,
	}
	for in, want := range tests {
		if got := Classify(in); got != want {
			t.Errorf("Classify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCounts(t *testing.T) {
	var c Counts
	c.Add(Record{Verdict: Positive, Resolved: true, Promoted: true})
	c.Add(Record{Verdict: Positive, Resolved: true})
	c.Add(Record{Verdict: Negative, Resolved: false})
	c.Add(Record{Verdict: Detailed, Resolved: true})

	if c.Total != 4 || c.Positive != 2 || c.Negative != 1 || c.Detailed != 1 {
		t.Errorf("counts = %+v", c)
	}
	if c.Unresolved != 1 || c.Promoted != 1 {
		t.Errorf("unresolved/promoted = %d/%d", c.Unresolved, c.Promoted)
	}
	if got := c.SatisfactionRate(); got < 0.66 || got > 0.67 {
		t.Errorf("SatisfactionRate() = %v", got)
	}
	if (Counts{}).SatisfactionRate() != 0 {
		t.Error("empty rate must be 0")
	}
}

func TestSupportedTokens_Copies(t *testing.T) {
	pos, _ := SupportedTokens()
	pos[0] = "mutated"
	if Classify("👍") != Positive {
		t.Error("token list mutated through SupportedTokens")
	}
}
