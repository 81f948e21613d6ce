// Package context manages COCO's working memory: token estimation, the
// pressure-adaptive episodic buffer, and the rolling summary buffer.
package context

import (
	"strings"
	"unicode/utf8"
)

// Estimator approximates token counts for budget management. The heuristic
// is calibrated against Claude's tokenizer and deliberately conservative:
// budget logic assumes it never under-reports by more than ~10% on ASCII
// prose. It is monotonic in string length.
type Estimator struct{}

// NewEstimator returns the default token estimator.
func NewEstimator() *Estimator {
	return &Estimator{}
}

// Estimate returns an approximate token count for the text.
//
// English prose averages ~4 characters per token, but code, punctuation, and
// non-Latin scripts tokenize denser. bytes/3 is the conservative upper bound;
// blending in a word-based floor keeps prose estimates from collapsing for
// texts with very long words.
func (e *Estimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	byBytes := (len(text) + 2) / 3
	byWords := len(strings.Fields(text)) * 4 / 3
	if byWords > byBytes {
		return byWords
	}
	return byBytes
}

// EstimateRunes is a variant for callers holding rune counts already.
func (e *Estimator) EstimateRunes(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 2) / 3
}
