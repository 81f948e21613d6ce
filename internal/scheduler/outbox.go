package scheduler

import (
	"context"
	"fmt"

	"coco/internal/logging"
	"coco/internal/store"
	"coco/internal/tools"
)

// Outbox holds external actions awaiting manual approval. Templates route
// requires-approval tool calls here instead of executing them; the approval
// path performs the deferred call through the same registry.
type Outbox struct {
	persist *store.LocalStore
}

// NewOutbox wraps the durable outbox table.
func NewOutbox(persist *store.LocalStore) *Outbox {
	return &Outbox{persist: persist}
}

// Defer queues a tool call for approval and returns the entry id.
func (o *Outbox) Defer(toolName string, payload map[string]any, origin string) (string, error) {
	entry := &store.OutboxEntry{
		ToolName: toolName,
		Payload:  payload,
		Origin:   origin,
	}
	if err := o.persist.InsertOutbox(entry); err != nil {
		return "", fmt.Errorf("failed to queue %s for approval: %w", toolName, err)
	}
	logging.Scheduler("Queued %s to outbox (%s) from %s", toolName, entry.ID[:8], origin)
	return entry.ID, nil
}

// Pending lists unresolved entries, oldest first.
func (o *Outbox) Pending() ([]*store.OutboxEntry, error) {
	return o.persist.PendingOutbox()
}

// Approve resolves an entry by id prefix and performs the deferred call.
// The entry is marked approved even when the call then fails; the failure is
// reported to the caller, not retried.
func (o *Outbox) Approve(ctx context.Context, registry *tools.Registry, idPrefix string) (*tools.Result, error) {
	entry, err := o.persist.ResolveOutbox(idPrefix, store.OutboxApproved)
	if err != nil {
		return nil, err
	}
	res := registry.Dispatch(ctx, entry.ToolName, entry.Payload)
	if res.OK {
		logging.Scheduler("Outbox %s approved: %s sent", entry.ID[:8], entry.ToolName)
	} else {
		logging.Scheduler("Outbox %s approved but %s failed: %s", entry.ID[:8], entry.ToolName, res.ErrorMessage)
	}
	return res, nil
}

// Reject resolves an entry by id prefix without executing it.
func (o *Outbox) Reject(idPrefix string) (*store.OutboxEntry, error) {
	entry, err := o.persist.ResolveOutbox(idPrefix, store.OutboxRejected)
	if err != nil {
		return nil, err
	}
	logging.Scheduler("Outbox %s rejected: %s dropped", entry.ID[:8], entry.ToolName)
	return entry, nil
}
