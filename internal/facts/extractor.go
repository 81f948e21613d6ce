package facts

import (
	"regexp"
	"strings"
)

// Extraction heuristics for conversational text. Each extractor scans one
// exchange (user text plus agent text) and emits zero or more facts. The
// extractors are deliberately regex/keyword based: cheap enough to run on
// every exchange without an LLM call.

var (
	urlPattern     = regexp.MustCompile(`https?://[^\s<>"')\]]+`)
	commandPattern = regexp.MustCompile(`(?m)^\s*(?:\$ .+|(?:git|docker|kubectl|ls|cd|pwd|mv|cp|rm|grep|find|make|curl|ssh|npm|pip|cargo)\s+\S.*)$`)
	filePattern    = regexp.MustCompile(`(?:~|\.{0,2})/[\w./-]+\.\w{1,8}`)
	codeFence      = regexp.MustCompile("(?s)```(?:\\w+)?\\n(.*?)```")
	moneyPattern   = regexp.MustCompile(`[$€£]\s?\d[\d,]*(?:\.\d{2})?`)
	envAssignment  = regexp.MustCompile(`\b[A-Z][A-Z0-9_]{2,}=\S+`)

	appointmentPattern = regexp.MustCompile(`(?i)\b(?:meeting with [\w .]+ (?:at|on) [\w: ]+|call at [\w:]+(?: ?[ap]m)?|appointment (?:at|on|with) [\w .:]+)`)
	contactPattern     = regexp.MustCompile(`(?i)\b(?:email [\w .]+ at [\w.+-]+@[\w.-]+|call [A-Z][a-z]+\b|reach out to [A-Z][a-z]+\b)`)
	preferencePattern  = regexp.MustCompile(`(?i)\b(?:i prefer [^.!?\n]+|i (?:really )?like [^.!?\n]+|i always [^.!?\n]+|i never [^.!?\n]+|i don't [^.!?\n]+|(?:my )?favorite [^.!?\n]+)`)
	taskPattern        = regexp.MustCompile(`(?i)\b(?:(?:i )?need to [^.!?\n]+|remind me to [^.!?\n]+|TODO:\s*[^\n]+|(?:i )?(?:should|must) [^.!?\n]+)`)
	notePattern        = regexp.MustCompile(`(?i)(?:^|\n|\b)(?:note|fyi|important|remember):\s*([^\n]+)`)
	errorPattern       = regexp.MustCompile(`(?i)(?:error:\s*[^\n]+|panic:\s*[^\n]+|\w+ failed(?: with [^\n.]+)?|exception[^\n.]*)`)
	routinePattern     = regexp.MustCompile(`(?i)\bevery (?:morning|evening|night|day|week|monday|tuesday|wednesday|thursday|friday|saturday|sunday|weekday)[^.!?\n]*`)
	recommendPattern   = regexp.MustCompile(`(?i)\b(?:recommends? [^.!?\n]+|recommended [^.!?\n]+)`)
	healthPattern      = regexp.MustCompile(`(?i)\b(?:doctor|dentist|medication|prescription|allergic to [^.!?\n]+|workout|therapy)[^.!?\n]*`)
	commPattern        = regexp.MustCompile(`(?i)\b(?:sent (?:an )?email to [^.!?\n]+|messaged [A-Z][a-z]+[^.!?\n]*|replied to [^.!?\n]+)`)
	locationPattern    = regexp.MustCompile(`(?i)\b(?:located at [^.!?\n]+|address is [^.!?\n]+|lives? (?:at|in|on) [^.!?\n]+)`)
)

// maxFactsPerExchange bounds a single exchange's yield so a pathological
// message cannot flood the store.
const maxFactsPerExchange = 12

// ExtractFromExchange runs every per-type extractor over one exchange's text
// and returns deduplicated facts with importance already computed. EpisodeID,
// SessionID, and Timestamp are left for the caller to fill.
func ExtractFromExchange(userText, agentText string) []*Fact {
	combined := userText + "\n" + agentText

	var out []*Fact
	emit := func(t Type, content string) {
		content = strings.TrimSpace(content)
		if content == "" {
			return
		}
		out = append(out, &Fact{
			Type:       t,
			Content:    clampContent(content),
			Context:    ClampContext(combined),
			Importance: ComputeImportance(t, content, combined),
		})
	}

	for _, m := range commandPattern.FindAllString(combined, 3) {
		emit(TypeCommand, strings.TrimPrefix(strings.TrimSpace(m), "$ "))
	}
	for _, m := range urlPattern.FindAllString(combined, 3) {
		emit(TypeURL, m)
	}
	for _, m := range appointmentPattern.FindAllString(combined, 2) {
		emit(TypeAppointment, m)
	}
	for _, m := range contactPattern.FindAllString(combined, 2) {
		emit(TypeContact, m)
	}
	// Preferences and routines are only trusted from the user's own words.
	for _, m := range preferencePattern.FindAllString(userText, 2) {
		emit(TypePreference, m)
	}
	for _, m := range routinePattern.FindAllString(userText, 2) {
		emit(TypeRoutine, m)
	}
	for _, m := range taskPattern.FindAllString(userText, 2) {
		emit(TypeTask, m)
	}
	for _, m := range notePattern.FindAllStringSubmatch(combined, 2) {
		emit(TypeNote, m[1])
	}
	for _, m := range errorPattern.FindAllString(combined, 2) {
		emit(TypeError, m)
	}
	for _, m := range recommendPattern.FindAllString(combined, 2) {
		emit(TypeRecommendation, m)
	}
	for _, m := range healthPattern.FindAllString(userText, 2) {
		emit(TypeHealth, m)
	}
	for _, m := range commPattern.FindAllString(combined, 2) {
		emit(TypeCommunication, m)
	}
	for _, m := range locationPattern.FindAllString(combined, 2) {
		emit(TypeLocation, m)
	}
	for _, m := range moneyPattern.FindAllString(combined, 2) {
		emit(TypeFinancial, m)
	}
	for _, m := range filePattern.FindAllString(combined, 2) {
		emit(TypeFile, m)
	}
	for _, m := range envAssignment.FindAllString(combined, 2) {
		emit(TypeConfig, m)
	}
	if m := codeFence.FindStringSubmatch(combined); m != nil {
		emit(TypeCode, firstLine(m[1]))
	}

	return dedupe(out)
}

// clampContent keeps fact content short and canonical.
func clampContent(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}

// dedupe drops repeated (type, content) pairs, keeping first occurrence, and
// applies the per-exchange cap.
func dedupe(in []*Fact) []*Fact {
	type key struct {
		t Type
		c string
	}
	seen := make(map[key]bool, len(in))
	var out []*Fact
	for _, f := range in {
		k := key{f.Type, strings.ToLower(f.Content)}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, f)
		if len(out) == maxFactsPerExchange {
			break
		}
	}
	return out
}
