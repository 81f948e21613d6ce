package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"coco/internal/logging"
)

// Registry holds the tool catalog. Thread-safe; registration normally
// happens once at startup but is allowed at any time.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*entry
}

type entry struct {
	tool     *Tool
	compiled *jsonschema.Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*entry)}
}

// Register adds a tool, compiling its input schema. Duplicate names are
// rejected.
func (r *Registry) Register(tool *Tool) error {
	if err := tool.Validate(); err != nil {
		return fmt.Errorf("invalid tool: %w", err)
	}

	compiled, err := compileSchema(tool)
	if err != nil {
		return fmt.Errorf("tool %s schema: %w", tool.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, tool.Name)
	}
	r.tools[tool.Name] = &entry{tool: tool, compiled: compiled}

	logging.ToolsDebug("Registered tool %s (category=%s, approval=%v)",
		tool.Name, tool.Category, tool.RequiresApproval)
	return nil
}

// MustRegister registers a tool and panics on error. For static catalogs
// built at startup.
func (r *Registry) MustRegister(tool *Tool) {
	if err := r.Register(tool); err != nil {
		panic(fmt.Sprintf("failed to register tool %s: %v", tool.Name, err))
	}
}

func compileSchema(tool *Tool) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(tool.Schema.Map())
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile("schema.json")
}

// Get returns a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.tools[name]; ok {
		return e.tool
	}
	return nil
}

// Has reports whether a tool name is registered, available or not.
func (r *Registry) Has(name string) bool { return r.Get(name) != nil }

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SchemasForLLM emits schemas for every available tool in stable name order.
// Unavailable tools (missing credentials, absent binaries) are filtered so
// the LLM never sees a tool it cannot call.
func (r *Registry) SchemasForLLM() []LLMSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name, e := range r.tools {
		if e.tool.available() {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := make([]LLMSchema, 0, len(names))
	for _, name := range names {
		t := r.tools[name].tool
		out = append(out, LLMSchema{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Schema.Map(),
		})
	}
	return out
}

// Dispatch validates input against the tool's schema and invokes the handler
// under its timeout. Every failure mode is folded into the Result; Dispatch
// itself never panics and never returns a nil Result.
func (r *Registry) Dispatch(ctx context.Context, name string, input map[string]any) *Result {
	start := time.Now()

	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok || !e.tool.available() {
		return failure(name, start, fmt.Errorf("%w: %s", ErrUnknownTool, name))
	}

	normalized, err := validateInput(e.compiled, input)
	if err != nil {
		return failure(name, start, fmt.Errorf("%w: %v", ErrInvalidInput, err))
	}

	timer := logging.StartTimer(logging.CategoryTools, name)
	value, err := invoke(ctx, e.tool, normalized)
	timer.Stop()

	if err != nil {
		logging.Tools("Tool %s failed (%s): %v", name, KindOf(err), err)
		return failure(name, start, err)
	}
	return &Result{
		ToolName:  name,
		OK:        true,
		Value:     value,
		ElapsedMs: time.Since(start).Milliseconds(),
	}
}

// validateInput checks input against the compiled schema and returns the
// JSON-normalized form. Handlers always see wire shapes (float64 numbers,
// []any arrays) regardless of how the caller built the map.
func validateInput(schema *jsonschema.Schema, input map[string]any) (map[string]any, error) {
	if input == nil {
		input = map[string]any{}
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if err := schema.Validate(any(doc)); err != nil {
		return nil, err
	}
	return doc, nil
}

// invoke runs the handler with a deadline and converts panics into
// ErrInternal. A handler that outlives its deadline is abandoned; its context
// is cancelled so a well-behaved handler unwinds promptly.
func invoke(ctx context.Context, tool *Tool, input map[string]any) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, tool.timeout())
	defer cancel()

	type outcome struct {
		value string
		err   error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- outcome{err: fmt.Errorf("%w: panic in %s: %v", ErrInternal, tool.Name, rec)}
			}
		}()
		value, err := tool.Handler(ctx, input)
		ch <- outcome{value: value, err: err}
	}()

	select {
	case o := <-ch:
		return o.value, o.err
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %s timed out after %s", ErrExternalFailure, tool.Name, tool.timeout())
	}
}

func failure(name string, start time.Time, err error) *Result {
	return &Result{
		ToolName:     name,
		ErrorKind:    KindOf(err),
		ErrorMessage: err.Error(),
		ElapsedMs:    time.Since(start).Milliseconds(),
	}
}
