package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType identifies the kind of audit event.
type AuditEventType string

const (
	// Turn lifecycle
	AuditTurnStart AuditEventType = "turn_start"
	AuditTurnEnd   AuditEventType = "turn_end"

	// LLM API
	AuditLLMRequest  AuditEventType = "llm_request"
	AuditLLMResponse AuditEventType = "llm_response"
	AuditLLMError    AuditEventType = "llm_error"

	// Tool execution
	AuditToolInvoke   AuditEventType = "tool_invoke"
	AuditToolComplete AuditEventType = "tool_complete"
	AuditToolError    AuditEventType = "tool_error"

	// Memory operations
	AuditMemoryStore  AuditEventType = "memory_store"
	AuditMemoryRecall AuditEventType = "memory_recall"
	AuditSummarize    AuditEventType = "summarize"

	// Scheduler
	AuditTaskFire     AuditEventType = "task_fire"
	AuditTaskComplete AuditEventType = "task_complete"
	AuditTaskError    AuditEventType = "task_error"
)

// AuditEvent is one structured entry in the audit trail. Events are written
// as JSON lines so they can be grepped or replayed offline.
type AuditEvent struct {
	Timestamp int64          `json:"ts"`
	Type      AuditEventType `json:"type"`
	SessionID string         `json:"session,omitempty"`
	Subject   string         `json:"subject,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// AuditTrail appends structured events to an audit log file.
type AuditTrail struct {
	mu   sync.Mutex
	file *os.File
}

// NewAuditTrail opens (or creates) the audit log inside the workspace.
// Returns a no-op trail when the file cannot be opened; auditing must never
// block normal operation.
func NewAuditTrail(workspace string) *AuditTrail {
	dir := filepath.Join(workspace, ".coco", "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		Get(CategoryBoot).Warn("audit trail disabled: %v", err)
		return &AuditTrail{}
	}
	f, err := os.OpenFile(filepath.Join(dir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		Get(CategoryBoot).Warn("audit trail disabled: %v", err)
		return &AuditTrail{}
	}
	return &AuditTrail{file: f}
}

// Record appends one event. Errors are swallowed; the audit trail is
// best-effort by contract.
func (a *AuditTrail) Record(eventType AuditEventType, sessionID, subject string, detail map[string]any) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return
	}
	ev := AuditEvent{
		Timestamp: time.Now().UnixMilli(),
		Type:      eventType,
		SessionID: sessionID,
		Subject:   subject,
		Detail:    detail,
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_, _ = a.file.Write(append(line, '\n'))
}

// Close flushes and closes the underlying file.
func (a *AuditTrail) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}
