package facts

import (
	"strings"
	"unicode"
)

// Base importance per type. High group: things a personal assistant must not
// lose. Medium: contextual signals. Low: technical breadcrumbs.
var baseImportance = map[Type]float64{
	TypeAppointment:   0.9,
	TypeContact:       0.8,
	TypeCommunication: 0.8,
	TypeTask:          0.8,
	TypePreference:    0.75,
	TypeNote:          0.7,

	TypeLocation:       0.6,
	TypeRecommendation: 0.6,
	TypeRoutine:        0.6,
	TypeHealth:         0.65,
	TypeFinancial:      0.65,
	TypeToolUse:        0.5,

	TypeCommand: 0.4,
	TypeCode:    0.4,
	TypeFile:    0.35,
	TypeURL:     0.35,
	TypeError:   0.45,
	TypeConfig:  0.4,
}

var urgencyKeywords = []string{"today", "tomorrow", "urgent", "asap", "deadline"}

var emphasisKeywords = []string{"important", "must", "required"}

// ComputeImportance scores a fact at insert time. The score blends the base
// score for the type with temporal urgency and emphasis bonuses, clamped to
// [0, 1].
func ComputeImportance(factType Type, content, context string) float64 {
	score, ok := baseImportance[factType]
	if !ok {
		score = 0.5
	}

	text := strings.ToLower(content + " " + context)

	for _, kw := range urgencyKeywords {
		if strings.Contains(text, kw) {
			score += 0.2
			break
		}
	}

	if hasEmphasis(content) || hasEmphasis(context) {
		score += 0.1
	}

	if score > 1.0 {
		score = 1.0
	}
	if score < 0.0 {
		score = 0.0
	}
	return score
}

// hasEmphasis detects emphasis markers: emphasis keywords, a trailing
// exclamation mark, or all-caps words of length >= 3.
func hasEmphasis(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range emphasisKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	if strings.HasSuffix(strings.TrimSpace(text), "!") {
		return true
	}
	for _, word := range strings.Fields(text) {
		if isAllCapsWord(word) {
			return true
		}
	}
	return false
}

func isAllCapsWord(word string) bool {
	letters := 0
	for _, r := range word {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) {
			letters++
		}
	}
	return letters >= 3
}
