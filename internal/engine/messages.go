package engine

import (
	"fmt"
)

// Role is a conversation side.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolResult is one tool_result block sent back to the LLM.
type ToolResult struct {
	ToolUseID string
	Content   string
	IsError   bool
}

// Message is one turn in the wire conversation. A user message carries text
// or tool results; an assistant message carries text and tool calls.
type Message struct {
	Role        Role
	Text        string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// Transcript accumulates the message sequence for one engine turn. It
// enforces the tool protocol: after an assistant message containing tool_use
// blocks, the next message must be a single user message carrying exactly one
// tool_result per tool_use id. AddToolResults is the only way to answer tool
// calls, and it refuses partial or mismatched answers, so a protocol
// violation cannot be constructed.
type Transcript struct {
	messages []Message
	pending  map[string]bool
}

// NewTranscript starts a transcript with the user's message.
func NewTranscript(userText string) *Transcript {
	return &Transcript{
		messages: []Message{{Role: RoleUser, Text: userText}},
		pending:  make(map[string]bool),
	}
}

// Messages returns the current sequence.
func (t *Transcript) Messages() []Message {
	return append([]Message(nil), t.messages...)
}

// PendingToolIDs returns the tool_use ids awaiting results.
func (t *Transcript) PendingToolIDs() []string {
	var ids []string
	for _, m := range t.messages {
		if m.Role != RoleAssistant {
			continue
		}
		for _, tc := range m.ToolCalls {
			if t.pending[tc.ID] {
				ids = append(ids, tc.ID)
			}
		}
	}
	return ids
}

// AddAssistant appends the LLM's response. Its tool_use ids become pending.
func (t *Transcript) AddAssistant(c *Completion) error {
	if len(t.pending) > 0 {
		return fmt.Errorf("cannot add assistant message with %d tool results outstanding", len(t.pending))
	}
	msg := Message{Role: RoleAssistant, Text: c.Text, ToolCalls: c.ToolCalls}
	for _, tc := range c.ToolCalls {
		if tc.ID == "" {
			return fmt.Errorf("tool call for %s has no id", tc.Name)
		}
		if t.pending[tc.ID] {
			return fmt.Errorf("duplicate tool_use id %s", tc.ID)
		}
		t.pending[tc.ID] = true
	}
	t.messages = append(t.messages, msg)
	return nil
}

// AddToolResults appends the single user message answering every pending
// tool_use id. The result set must match the pending set exactly.
func (t *Transcript) AddToolResults(results []ToolResult) error {
	if len(results) != len(t.pending) {
		return fmt.Errorf("got %d tool results, %d tool calls pending", len(results), len(t.pending))
	}
	seen := make(map[string]bool, len(results))
	for _, r := range results {
		if !t.pending[r.ToolUseID] {
			return fmt.Errorf("tool result for unknown id %s", r.ToolUseID)
		}
		if seen[r.ToolUseID] {
			return fmt.Errorf("duplicate tool result for id %s", r.ToolUseID)
		}
		seen[r.ToolUseID] = true
	}

	t.messages = append(t.messages, Message{Role: RoleUser, ToolResults: results})
	t.pending = make(map[string]bool)
	return nil
}

// ResolveToolCalls answers every tool call through fn, in order, and appends
// the results message. Because results are produced by ranging over the
// calls, coverage of every tool_use id holds by construction.
func (t *Transcript) ResolveToolCalls(calls []ToolCall, fn func(ToolCall) (string, bool)) error {
	results := make([]ToolResult, 0, len(calls))
	for _, call := range calls {
		content, isErr := fn(call)
		results = append(results, ToolResult{ToolUseID: call.ID, Content: content, IsError: isErr})
	}
	return t.AddToolResults(results)
}
