// Package engine hosts the consciousness loop: context assembly, the LLM
// conversation protocol, tool execution, and end-of-turn persistence.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"

	"coco/internal/config"
	"coco/internal/logging"
	"coco/internal/tools"
)

// ErrNoAPIKey is returned when the client is constructed without credentials.
var ErrNoAPIKey = errors.New("anthropic API key required")

// ErrLLMUnavailable wraps transport and server-side failures after retries
// are exhausted.
var ErrLLMUnavailable = errors.New("LLM unavailable")

// ToolCall is one tool_use block in an LLM response.
type ToolCall struct {
	ID    string
	Name  string
	Input map[string]any
}

// Completion is the decoded result of one LLM call.
type Completion struct {
	Text         string
	ToolCalls    []ToolCall
	StopReason   string
	InputTokens  int64
	OutputTokens int64
}

// CompletionRequest is everything one call carries.
type CompletionRequest struct {
	System    string
	Messages  []Message
	Tools     []tools.LLMSchema
	MaxTokens int64
}

// LLMClient abstracts the model API so the engine is testable without a
// network. Complete drives the main conversation; Summarize uses the small
// model for memory compression.
type LLMClient interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
	Summarize(ctx context.Context, prompt string) (string, error)
}

// AnthropicClient is the production LLMClient.
type AnthropicClient struct {
	client       sdk.Client
	model        sdk.Model
	summaryModel sdk.Model
	maxTokens    int64
	timeout      time.Duration
}

// NewAnthropicClient builds a client from config. The API key must already
// be resolved (config.Load applies the ANTHROPIC_API_KEY override).
func NewAnthropicClient(cfg config.LLMConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	return &AnthropicClient{
		client:       sdk.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:        sdk.Model(cfg.Model),
		summaryModel: sdk.Model(cfg.SummaryModel),
		maxTokens:    int64(cfg.MaxTokens),
		timeout:      time.Duration(cfg.TimeoutSeconds) * time.Second,
	}, nil
}

// Complete performs one non-streaming message call with retry on transient
// failures.
func (c *AnthropicClient) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	params := sdk.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  encodeMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = req.MaxTokens
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = encodeTools(req.Tools)
	}

	msg, err := c.callWithRetry(ctx, params)
	if err != nil {
		return nil, err
	}
	return decodeCompletion(msg), nil
}

// Summarize calls the small model with a bare prompt and returns its text.
func (c *AnthropicClient) Summarize(ctx context.Context, prompt string) (string, error) {
	params := sdk.MessageNewParams{
		Model:     c.summaryModel,
		MaxTokens: 1024,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	}
	msg, err := c.callWithRetry(ctx, params)
	if err != nil {
		return "", err
	}
	out := decodeCompletion(msg)
	if out.Text == "" {
		return "", fmt.Errorf("%w: empty summarization response", ErrLLMUnavailable)
	}
	return out.Text, nil
}

func (c *AnthropicClient) callWithRetry(ctx context.Context, params sdk.MessageNewParams) (*sdk.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var msg *sdk.Message
	operation := func() error {
		start := time.Now()
		m, err := c.client.Messages.New(ctx, params)
		if err != nil {
			logging.API("Messages.New failed after %s: %v", time.Since(start).Round(time.Millisecond), err)
			if !isRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		logging.APIDebug("Messages.New ok: in=%d out=%d stop=%s (%s)",
			m.Usage.InputTokens, m.Usage.OutputTokens, m.StopReason,
			time.Since(start).Round(time.Millisecond))
		msg = m
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLLMUnavailable, err)
	}
	return msg, nil
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

func encodeMessages(msgs []Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		var blocks []sdk.ContentBlockParamUnion
		if m.Text != "" {
			blocks = append(blocks, sdk.NewTextBlock(m.Text))
		}
		for _, tc := range m.ToolCalls {
			blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, tc.Input, tc.Name))
		}
		for _, tr := range m.ToolResults {
			blocks = append(blocks, sdk.NewToolResultBlock(tr.ToolUseID, tr.Content, tr.IsError))
		}
		if len(blocks) == 0 {
			continue
		}
		if m.Role == RoleAssistant {
			out = append(out, sdk.NewAssistantMessage(blocks...))
		} else {
			out = append(out, sdk.NewUserMessage(blocks...))
		}
	}
	return out
}

func encodeTools(schemas []tools.LLMSchema) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(schemas))
	for _, s := range schemas {
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: s.InputSchema}, s.Name)
		if u.OfTool != nil && s.Description != "" {
			u.OfTool.Description = sdk.String(s.Description)
		}
		out = append(out, u)
	}
	return out
}

func decodeCompletion(msg *sdk.Message) *Completion {
	out := &Completion{
		StopReason:   string(msg.StopReason),
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if out.Text != "" && block.Text != "" {
				out.Text += "\n"
			}
			out.Text += block.Text
		case "tool_use":
			input := map[string]any{}
			if len(block.Input) > 0 {
				// Malformed tool input surfaces as an empty map; the schema
				// validator reports it on dispatch.
				_ = json.Unmarshal(block.Input, &input)
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: input,
			})
		}
	}
	return out
}
