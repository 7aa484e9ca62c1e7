package query

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kailas-cloud/mathroute/internal/domain"
)

// MaxLength is the maximum query length in runes.
const MaxLength = 1000

var synonyms = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`\b(find|calculate|compute|determine)\b`), "solve"},
	{regexp.MustCompile(`\bderivative\b`), "differentiate"},
	{regexp.MustCompile(`\bintegral\b`), "integrate"},
}

// Query is a user question (immutable value object).
type Query struct {
	raw        string
	normalized string
	locale     string
}

// New validates and creates a Query. Empty text (after trim) and text longer
// than MaxLength runes are rejected with domain.ErrInvalidQuery.
func New(raw, locale string) (Query, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Query{}, fmt.Errorf("%w: query is empty", domain.ErrInvalidQuery)
	}
	if utf8.RuneCountInString(trimmed) > MaxLength {
		return Query{}, fmt.Errorf("%w: query too long (max %d characters)", domain.ErrInvalidQuery, MaxLength)
	}
	return Query{raw: trimmed, normalized: Normalize(trimmed), locale: locale}, nil
}

// Reconstruct creates a Query without validation (storage hydration).
func Reconstruct(raw, normalized, locale string) Query {
	return Query{raw: raw, normalized: normalized, locale: locale}
}

// Raw returns the trimmed user text.
func (q Query) Raw() string { return q.raw }

// Normalized returns the case-folded, whitespace-collapsed text.
func (q Query) Normalized() string { return q.normalized }

// Locale returns the optional locale hint.
func (q Query) Locale() string { return q.locale }

// Key returns the cache and single-flight key.
func (q Query) Key() string { return q.KeyWith(false) }

// KeyWith returns the key, optionally after synonym canonicalization.
func (q Query) KeyWith(canonical bool) string {
	s := q.normalized
	if canonical {
		s = Canonicalize(s)
	}
	return Hash(s)
}

// HasDigit reports whether the query contains any decimal digit.
func (q Query) HasDigit() bool {
	return strings.IndexFunc(q.normalized, unicode.IsDigit) >= 0
}

// Normalize lower-cases s, collapses whitespace runs to a single space and trims.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Canonicalize maps common verb and noun synonyms onto one form so that
// "find x" and "solve x" share a key. Input is expected to be normalized.
func Canonicalize(s string) string {
	for _, syn := range synonyms {
		s = syn.re.ReplaceAllString(s, syn.repl)
	}
	return s
}

// Hash returns hex(sha256(s)).
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
