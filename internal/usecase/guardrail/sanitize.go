package guardrail

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/kailas-cloud/mathroute/internal/domain/route"
)

const (
	// MaxAnswerLength bounds answer text and steps, in characters.
	MaxAnswerLength = 5000

	// Disclaimer accompanies generated answers as a separate field.
	Disclaimer = "This solution is generated by AI and should be verified by a human expert."
)

var (
	activeContent = regexp.MustCompile(`(?i)<\s*script|javascript\s*:|<[a-z][^>]*\son[a-z]+\s*=`)
	jsScheme      = regexp.MustCompile(`(?i)javascript\s*:`)
	htmlTag       = regexp.MustCompile(`(?i)</?[a-z][a-z0-9]*(?:\s[^<>]*)?/?>`)
)

// Sanitize cleans a provider answer: active content is stripped, text and steps are
// truncated to MaxAnswerLength and generated answers carry the AI disclaimer.
// The disclaimer never becomes part of the answer text.
func (g *Guardrail) Sanitize(a route.Answer, tag route.Tag) route.Answer {
	text, textDirty := stripActive(a.Text())
	steps, stepsDirty := stripActive(a.Steps())
	if textDirty || stepsDirty {
		g.logViolation(Output, a.Text(), CodeUnsafe, reasonUnsafe)
	}

	text = truncate(strings.TrimSpace(text), MaxAnswerLength)
	steps = truncate(strings.TrimSpace(steps), MaxAnswerLength)
	out := a.WithText(text).WithSteps(steps)
	if tag == route.Generative {
		out = out.WithDisclaimer(Disclaimer)
	}
	return out
}

// stripActive removes scripts, event-handler attributes and javascript: URLs.
// Text without any of them is returned untouched so math like "x<y" survives.
// Text without HTML tags is never reparsed, so "<" and "&" stay unescaped.
func stripActive(s string) (string, bool) {
	if !activeContent.MatchString(s) {
		return s, false
	}
	if !htmlTag.MatchString(s) {
		out := jsScheme.ReplaceAllString(s, "")
		return out, out != s
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return jsScheme.ReplaceAllString(s, ""), true
	}
	doc.Find("script").Remove()
	doc.Find("*").Each(func(_ int, sel *goquery.Selection) {
		for _, n := range sel.Nodes {
			n.Attr = filterAttrs(n.Attr)
		}
	})

	out, err := doc.Find("body").Html()
	if err != nil {
		out = doc.Find("body").Text()
	}
	return jsScheme.ReplaceAllString(out, ""), true
}

func filterAttrs(attrs []html.Attribute) []html.Attribute {
	kept := attrs[:0]
	for _, a := range attrs {
		if strings.HasPrefix(strings.ToLower(a.Key), "on") {
			continue
		}
		if jsScheme.MatchString(a.Val) {
			continue
		}
		kept = append(kept, a)
	}
	return kept
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
