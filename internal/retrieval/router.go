// Package retrieval routes natural-language queries between the exact-recall
// facts store and the fuzzy semantic store, and assembles document context for
// the engine's system prompt.
package retrieval

import (
	"strings"

	"coco/internal/facts"
	"coco/internal/logging"
)

// Target names the memory system a query is routed to.
type Target string

const (
	TargetFacts    Target = "facts"
	TargetSemantic Target = "semantic"
)

// Confidence weights. They sum to 1.0; each signal fires at most once per
// query.
const (
	weightExactRecall = 0.4
	weightFactType    = 0.3
	weightTemporal    = 0.3

	// FactsThreshold is the confidence at which a query is answered from the
	// facts store instead of semantic retrieval. The engine reuses it to gate
	// automatic fact injection into the system prompt.
	FactsThreshold = 0.6
)

// Decision is the outcome of routing a single query.
type Decision struct {
	Target         Target
	Confidence     float64
	SuggestedTypes []facts.Type
}

// exactRecallKeywords signal that the user wants a specific remembered value
// rather than a discussion.
var exactRecallKeywords = []string{
	"what was", "what is", "show me", "which", "when", "where", "who",
	"how much", "how many", "list my", "do i have",
}

// temporalKeywords signal a time-anchored lookup.
var temporalKeywords = []string{
	"yesterday", "today", "tomorrow", "last week", "last month",
	"this week", "this morning", "tonight", "ago", "earlier", "recently",
}

// typeKeywords maps query vocabulary to the fact types it suggests. A keyword
// may suggest more than one type; suggestions are emitted in taxonomy order.
var typeKeywords = map[string][]facts.Type{
	"meeting":        {facts.TypeAppointment},
	"appointment":    {facts.TypeAppointment},
	"call":           {facts.TypeAppointment, facts.TypeContact},
	"schedule":       {facts.TypeAppointment, facts.TypeRoutine},
	"calendar":       {facts.TypeAppointment},
	"contact":        {facts.TypeContact},
	"email":          {facts.TypeContact, facts.TypeCommunication},
	"phone":          {facts.TypeContact},
	"address":        {facts.TypeContact, facts.TypeLocation},
	"task":           {facts.TypeTask},
	"todo":           {facts.TypeTask},
	"remind":         {facts.TypeTask},
	"deadline":       {facts.TypeTask},
	"prefer":         {facts.TypePreference},
	"preference":     {facts.TypePreference},
	"favorite":       {facts.TypePreference},
	"like":           {facts.TypePreference},
	"note":           {facts.TypeNote},
	"remember":       {facts.TypeNote},
	"place":          {facts.TypeLocation},
	"location":       {facts.TypeLocation},
	"restaurant":     {facts.TypeLocation, facts.TypeRecommendation},
	"recommend":      {facts.TypeRecommendation},
	"suggestion":     {facts.TypeRecommendation},
	"routine":        {facts.TypeRoutine},
	"habit":          {facts.TypeRoutine},
	"health":         {facts.TypeHealth},
	"doctor":         {facts.TypeHealth, facts.TypeAppointment},
	"medication":     {facts.TypeHealth},
	"money":          {facts.TypeFinancial},
	"paid":           {facts.TypeFinancial},
	"price":          {facts.TypeFinancial},
	"budget":         {facts.TypeFinancial},
	"invoice":        {facts.TypeFinancial},
	"message":        {facts.TypeCommunication},
	"sent":           {facts.TypeCommunication},
	"tool":           {facts.TypeToolUse},
	"command":        {facts.TypeCommand},
	"ran":            {facts.TypeCommand},
	"terminal":       {facts.TypeCommand},
	"code":           {facts.TypeCode},
	"function":       {facts.TypeCode},
	"file":           {facts.TypeFile},
	"document":       {facts.TypeFile},
	"folder":         {facts.TypeFile},
	"url":            {facts.TypeURL},
	"link":           {facts.TypeURL},
	"website":        {facts.TypeURL},
	"error":          {facts.TypeError},
	"bug":            {facts.TypeError},
	"failed":         {facts.TypeError},
	"config":         {facts.TypeConfig},
	"setting":        {facts.TypeConfig},
	"password":       {facts.TypeConfig},
	"api key":        {facts.TypeConfig},
}

// Route scores a query and decides which memory system answers it. The
// scoring is purely lexical and deterministic; the same query always yields
// the same decision.
func Route(query string) Decision {
	q := strings.ToLower(query)

	var confidence float64
	if containsAny(q, exactRecallKeywords) {
		confidence += weightExactRecall
	}
	if containsAny(q, temporalKeywords) {
		confidence += weightTemporal
	}

	suggested := suggestTypes(q)
	if len(suggested) > 0 {
		confidence += weightFactType
	}

	d := Decision{Confidence: confidence, SuggestedTypes: suggested}
	if confidence >= FactsThreshold {
		d.Target = TargetFacts
	} else {
		d.Target = TargetSemantic
	}

	logging.Router("Routed query to %s (confidence %.2f, %d suggested types)",
		d.Target, d.Confidence, len(d.SuggestedTypes))
	return d
}

func containsAny(q string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}

// suggestTypes collects the fact types implied by the query's vocabulary, in
// taxonomy order with duplicates removed.
func suggestTypes(q string) []facts.Type {
	seen := make(map[facts.Type]bool)
	for kw, types := range typeKeywords {
		if !strings.Contains(q, kw) {
			continue
		}
		for _, t := range types {
			seen[t] = true
		}
	}
	if len(seen) == 0 {
		return nil
	}

	out := make([]facts.Type, 0, len(seen))
	for _, t := range facts.AllTypes {
		if seen[t] {
			out = append(out, t)
		}
	}
	return out
}
