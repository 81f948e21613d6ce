// Package tools defines the typed tool catalog the engine exposes to the LLM
// and the scheduler invokes for autonomous tasks. Each tool couples a JSON
// schema with a handler; the registry validates inputs, enforces timeouts,
// and translates failures into the error taxonomy in errors.go.
package tools

import (
	"context"
	"time"
)

// Category groups tools by capability area. Used for catalog listings, not
// for dispatch.
type Category string

const (
	CategoryCore     Category = "core"
	CategoryShell    Category = "shell"
	CategoryResearch Category = "research"
	CategoryComms    Category = "comms"
	CategoryMedia    Category = "media"
	CategorySocial   Category = "social"
)

// Property describes one input parameter in a tool schema.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Default     any    `json:"default,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
	Items       *Items `json:"items,omitempty"`
}

// Items describes array element schemas.
type Items struct {
	Type string `json:"type"`
}

// Schema is the JSON-Schema-shaped input contract of a tool.
type Schema struct {
	Required   []string            `json:"required,omitempty"`
	Properties map[string]Property `json:"properties"`
}

// Map renders the schema as a plain JSON-Schema object document, the shape
// the LLM API and the validator both consume.
func (s Schema) Map() map[string]any {
	props := make(map[string]any, len(s.Properties))
	for name, p := range s.Properties {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Items != nil {
			prop["items"] = map[string]any{"type": p.Items.Type}
		}
		props[name] = prop
	}
	doc := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(s.Required) > 0 {
		req := make([]any, len(s.Required))
		for i, r := range s.Required {
			req[i] = r
		}
		doc["required"] = req
	}
	return doc
}

// Handler executes a tool. The input has already passed schema validation.
// The returned string must be short and human-readable; it is fed back to
// the LLM verbatim.
type Handler func(ctx context.Context, input map[string]any) (string, error)

// DefaultTimeout bounds a handler that declares none.
const DefaultTimeout = 30 * time.Second

// Tool fully describes one capability.
type Tool struct {
	Name        string
	Description string
	Category    Category
	Schema      Schema
	Handler     Handler

	// Timeout bounds one invocation; zero means DefaultTimeout.
	Timeout time.Duration

	// Available reports whether the tool's dependencies are satisfied
	// (credentials present, binary installed). Nil means always available.
	// Unavailable tools are omitted from SchemasForLLM and refuse dispatch.
	Available func() bool

	// RequiresApproval marks outward-facing tools whose autonomous
	// invocations are deferred to the outbox instead of executed directly.
	RequiresApproval bool
}

// Validate checks the definition is usable.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if t.Handler == nil {
		return ErrHandlerNil
	}
	return nil
}

func (t *Tool) timeout() time.Duration {
	if t.Timeout > 0 {
		return t.Timeout
	}
	return DefaultTimeout
}

func (t *Tool) available() bool {
	return t.Available == nil || t.Available()
}

// Result is the outcome of one dispatch.
type Result struct {
	ToolName     string
	OK           bool
	Value        string
	ErrorKind    ErrorKind
	ErrorMessage string
	ElapsedMs    int64
}

// LLMSchema is one entry of the schema list handed to the LLM.
type LLMSchema struct {
	Name        string
	Description string
	InputSchema map[string]any
}
