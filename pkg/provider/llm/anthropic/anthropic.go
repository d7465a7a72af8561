// Package anthropic provides an LLM provider backed by the Anthropic Messages
// API, using the official github.com/anthropics/anthropic-sdk-go client.
//
// Anthropic's streaming protocol differs from OpenAI's in shape (content
// blocks with start/delta/stop events, keyed by block index, rather than a
// single delta.tool_calls array keyed by an "index" field) but the contract
// this package exposes is the same uniform [llm.Provider] the rest of the
// broker drives: StreamCompletion accumulates tool_use blocks across
// ContentBlockDeltaEvents and emits the consolidated list exactly once, on
// the terminal chunk (§4.5).
package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/MrWong99/voicebroker/pkg/provider/llm"
	"github.com/MrWong99/voicebroker/pkg/types"
)

// DefaultMaxTokens is used when a [llm.CompletionRequest] does not specify
// MaxTokens — Anthropic's Messages API requires a positive value on every
// request, unlike OpenAI's optional field.
const DefaultMaxTokens = 4096

// Provider implements llm.Provider using the Anthropic Messages API.
type Provider struct {
	client    anthropicsdk.Client
	model     string
	maxTokens int
}

// config holds optional configuration for the provider.
type config struct {
	baseURL   string
	timeout   time.Duration
	maxTokens int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default Anthropic API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxTokens sets the default max_tokens used when a request does not
// specify one. Must be positive.
func WithMaxTokens(n int) Option {
	return func(c *config) { c.maxTokens = n }
}

// New constructs a new Anthropic LLM Provider.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anthropic: model must not be empty")
	}

	cfg := &config{maxTokens: DefaultMaxTokens}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	client := anthropicsdk.NewClient(reqOpts...)
	return &Provider{client: client, model: model, maxTokens: cfg.maxTokens}, nil
}

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: build params: %w", err)
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		// toolCallAccum is keyed by content-block index, accumulating
		// input_json_delta fragments until the block (and the message) ends.
		toolCallAccum := map[int64]*types.ToolCall{}
		var blockOrder []int64
		var stopReason string

		for stream.Next() {
			event := stream.Current()

			switch variant := event.AsAny().(type) {
			case anthropicsdk.ContentBlockStartEvent:
				if tu, ok := variant.ContentBlock.AsAny().(anthropicsdk.ToolUseBlock); ok {
					toolCallAccum[variant.Index] = &types.ToolCall{ID: tu.ID, Name: tu.Name}
					blockOrder = append(blockOrder, variant.Index)
				}

			case anthropicsdk.ContentBlockDeltaEvent:
				switch delta := variant.Delta.AsAny().(type) {
				case anthropicsdk.TextDelta:
					select {
					case ch <- llm.Chunk{Text: delta.Text}:
					case <-ctx.Done():
						return
					}
				case anthropicsdk.InputJSONDelta:
					if tc, ok := toolCallAccum[variant.Index]; ok {
						tc.Arguments += delta.PartialJSON
					}
				}

			case anthropicsdk.MessageDeltaEvent:
				if variant.Delta.StopReason != "" {
					stopReason = string(variant.Delta.StopReason)
				}

			case anthropicsdk.MessageStopEvent:
				out := llm.Chunk{FinishReason: mapStopReason(stopReason, len(blockOrder) > 0)}
				for _, idx := range blockOrder {
					out.ToolCalls = append(out.ToolCalls, *toolCallAccum[idx])
				}
				select {
				case ch <- out:
				case <-ctx.Done():
				}
				return
			}
		}

		if err := stream.Err(); err != nil {
			select {
			case ch <- llm.Chunk{FinishReason: "error", Text: err.Error()}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// mapStopReason normalizes Anthropic's stop_reason vocabulary to the
// FinishReason values the rest of the broker expects ("stop", "length",
// "tool_calls") per §4.5's uniform contract.
func mapStopReason(reason string, hasToolCalls bool) string {
	if hasToolCalls || reason == "tool_use" {
		return "tool_calls"
	}
	switch reason {
	case "max_tokens":
		return "length"
	case "":
		return "stop"
	default:
		return "stop"
	}
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: build params: %w", err)
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: create message: %w", err)
	}

	result := &llm.CompletionResponse{
		Usage: llm.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}

	var text strings.Builder
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropicsdk.TextBlock:
			text.WriteString(b.Text)
		case anthropicsdk.ToolUseBlock:
			result.ToolCalls = append(result.ToolCalls, types.ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: string(b.Input),
			})
		}
	}
	result.Content = text.String()
	return result, nil
}

// CountTokens implements llm.Provider.
// TODO: call the Messages.CountTokens endpoint for exact counts once the
// broker's budget tracking needs precision beyond this approximation.
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	total := 0
	for _, m := range messages {
		total += (len(m.Content) + 3) / 4
		total += 4
	}
	return total, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() types.ModelCapabilities {
	return modelCapabilities(p.model)
}

func modelCapabilities(model string) types.ModelCapabilities {
	caps := types.ModelCapabilities{
		SupportsToolCalling: true,
		SupportsStreaming:   true,
		ContextWindow:       200_000,
		MaxOutputTokens:     8_192,
	}

	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "claude-3-5-haiku"), strings.Contains(lower, "claude-3-haiku"):
		caps.SupportsVision = true
		caps.MaxOutputTokens = 8_192
	case strings.Contains(lower, "claude-3-5-sonnet"), strings.Contains(lower, "claude-3-7-sonnet"):
		caps.SupportsVision = true
		caps.MaxOutputTokens = 8_192
	case strings.Contains(lower, "claude-3-opus"):
		caps.SupportsVision = true
		caps.MaxOutputTokens = 4_096
	case strings.Contains(lower, "opus-4"), strings.Contains(lower, "sonnet-4"):
		caps.SupportsVision = true
		caps.MaxOutputTokens = 64_000
	}
	return caps
}

// buildParams converts a CompletionRequest into Anthropic SDK params.
func (p *Provider) buildParams(req llm.CompletionRequest) (anthropicsdk.MessageNewParams, error) {
	var messages []anthropicsdk.MessageParam
	for _, m := range req.Messages {
		msg, skip, err := convertMessage(m)
		if err != nil {
			return anthropicsdk.MessageNewParams{}, err
		}
		if skip {
			continue
		}
		messages = append(messages, msg)
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = int64(p.maxTokens)
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(p.model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}

	if req.SystemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Temperature != 0 {
		params.Temperature = anthropicsdk.Float(req.Temperature)
	}

	for _, td := range req.Tools {
		params.Tools = append(params.Tools, anthropicsdk.ToolUnionParam{
			OfTool: &anthropicsdk.ToolParam{
				Name:        td.Name,
				Description: anthropicsdk.String(td.Description),
				InputSchema: anthropicsdk.ToolInputSchemaParam{
					Properties: td.Parameters["properties"],
					Required:   toStringSlice(td.Parameters["required"]),
				},
			},
		})
	}

	return params, nil
}

// convertMessage converts a types.Message into an Anthropic message param.
// System-role messages are skipped here: Anthropic carries the system
// prompt in a dedicated top-level field, set separately in buildParams.
func convertMessage(m types.Message) (msg anthropicsdk.MessageParam, skip bool, err error) {
	switch m.Role {
	case "system":
		return anthropicsdk.MessageParam{}, true, nil

	case "user":
		return anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(m.Content)), false, nil

	case "assistant":
		var blocks []anthropicsdk.ContentBlockParamUnion
		if m.Content != "" {
			blocks = append(blocks, anthropicsdk.NewTextBlock(m.Content))
		}
		for _, tc := range m.ToolCalls {
			blocks = append(blocks, anthropicsdk.NewToolUseBlock(tc.ID, tc.Arguments, tc.Name))
		}
		return anthropicsdk.NewAssistantMessage(blocks...), false, nil

	case "tool":
		return anthropicsdk.NewUserMessage(anthropicsdk.NewToolResultBlock(m.ToolCallID, m.Content, false)), false, nil

	default:
		return anthropicsdk.MessageParam{}, false, fmt.Errorf("anthropic: unknown message role %q", m.Role)
	}
}

func toStringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
