// Package facts defines the typed fact model: the closed taxonomy of fact
// types, importance scoring, and extraction of facts from exchanges and tool
// calls. Persistence lives in internal/store.
package facts

import "time"

// Type classifies a fact. The taxonomy is a closed set; new types are new
// extractor implementations, not ad-hoc strings.
type Type string

const (
	// Personal-assistant-primary types.
	TypeAppointment    Type = "appointment"
	TypeContact        Type = "contact"
	TypeTask           Type = "task"
	TypePreference     Type = "preference"
	TypeNote           Type = "note"
	TypeLocation       Type = "location"
	TypeRecommendation Type = "recommendation"
	TypeRoutine        Type = "routine"
	TypeHealth         Type = "health"
	TypeFinancial      Type = "financial"

	// Communication and tool usage.
	TypeCommunication Type = "communication"
	TypeToolUse       Type = "tool_use"

	// Technical types.
	TypeCommand Type = "command"
	TypeCode    Type = "code"
	TypeFile    Type = "file"
	TypeURL     Type = "url"
	TypeError   Type = "error"
	TypeConfig  Type = "config"
)

// AllTypes lists every fact type in the taxonomy, in a stable order.
var AllTypes = []Type{
	TypeAppointment, TypeContact, TypeTask, TypePreference, TypeNote,
	TypeLocation, TypeRecommendation, TypeRoutine, TypeHealth, TypeFinancial,
	TypeCommunication, TypeToolUse,
	TypeCommand, TypeCode, TypeFile, TypeURL, TypeError, TypeConfig,
}

// Valid reports whether t is a member of the taxonomy.
func (t Type) Valid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Fact is a small typed claim extracted from conversation or tool use.
type Fact struct {
	ID          int64          `json:"id"`
	Type        Type           `json:"fact_type"`
	Content     string         `json:"content"`
	Context     string         `json:"context"`
	EpisodeID   int64          `json:"episode_id"` // 0 when not tied to an exchange
	SessionID   string         `json:"session_id"`
	Timestamp   time.Time      `json:"timestamp"`
	Importance  float64        `json:"importance"`
	AccessCount int            `json:"access_count"`
	LastAccess  time.Time      `json:"last_accessed"`
	Tags        []string       `json:"tags,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// maxContextChars bounds the surrounding-text context stored with a fact.
const maxContextChars = 500

// ClampContext trims context text to the storage bound, keeping the head.
func ClampContext(text string) string {
	if len(text) <= maxContextChars {
		return text
	}
	return text[:maxContextChars]
}
