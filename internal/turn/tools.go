package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voicebroker/internal/tools"
	"github.com/MrWong99/voicebroker/pkg/types"
)

// buildToolDefinitions converts the session's statically-bound tool
// descriptors, plus any externally-hosted MCP tools visible at the
// orchestrator's configured budget tier, into the flat definition list the
// LLM driver expects. The returned set also identifies which names resolve
// against the static [tools.Executor] so dispatchTool can route calls
// correctly.
func (o *Orchestrator) buildToolDefinitions() ([]types.ToolDefinition, map[string]struct{}) {
	descs := o.sess.Executor.Definitions()
	static := make(map[string]struct{}, len(descs))
	defs := make([]types.ToolDefinition, 0, len(descs))

	for _, d := range descs {
		def, err := toToolDefinition(d)
		if err != nil {
			slog.Warn("turn: skipping tool with invalid parameter schema", "tool", d.Name, "error", err)
			continue
		}
		static[d.Name] = struct{}{}
		defs = append(defs, def)
	}

	if o.mcpHost != nil {
		for _, md := range o.mcpHost.AvailableTools(o.budgetTier) {
			defs = append(defs, types.ToolDefinition{
				Name:                md.Name,
				Description:         md.Description,
				Parameters:          md.Parameters,
				EstimatedDurationMs: md.EstimatedDurationMs,
				MaxDurationMs:       md.MaxDurationMs,
				Idempotent:          md.Idempotent,
				CacheableSeconds:    md.CacheableSeconds,
			})
		}
	}
	return defs, static
}

func toToolDefinition(d tools.Descriptor) (types.ToolDefinition, error) {
	params := map[string]any{}
	if len(d.Parameters) > 0 {
		if err := json.Unmarshal(d.Parameters, &params); err != nil {
			return types.ToolDefinition{}, fmt.Errorf("parameters: %w", err)
		}
	}
	return types.ToolDefinition{Name: d.Name, Description: d.Description, Parameters: params}, nil
}

// executeTools runs every call concurrently, routing each to either the
// session's static Executor or the orchestrator's MCP host depending on
// where the name was registered, and returns tool-role messages in the same
// order as calls regardless of completion order.
func (o *Orchestrator) executeTools(ctx context.Context, calls []types.ToolCall, static map[string]struct{}) []types.Message {
	results := make([]types.Message, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call types.ToolCall) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, o.toolTimeout)
			defer cancel()

			start := time.Now()
			content := o.dispatchTool(callCtx, call, static)
			o.recordToolCall(ctx, call.Name, time.Since(start), toolCallStatus(content))

			results[i] = types.Message{Role: "tool", Content: content, ToolCallID: call.ID}
		}(i, call)
	}
	wg.Wait()

	return results
}

// toolCallStatus reports whether a dispatchTool result body represents a
// successful call, for metrics labeling only.
func toolCallStatus(body string) string {
	if strings.Contains(body, `"success":true`) {
		return "ok"
	}
	return "error"
}

func (o *Orchestrator) dispatchTool(ctx context.Context, call types.ToolCall, static map[string]struct{}) string {
	_, isStatic := static[call.Name]
	if isStatic || o.mcpHost == nil {
		var args map[string]any
		if len(call.Arguments) > 0 {
			if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
				args = map[string]any{}
			}
		}
		result := o.sess.Executor.Execute(ctx, call.Name, args)
		body, err := json.Marshal(result)
		if err != nil {
			return fmt.Sprintf(`{"success":false,"error":%q}`, err.Error())
		}
		return string(body)
	}

	res, err := o.mcpHost.ExecuteTool(ctx, call.Name, call.Arguments)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":%q}`, err.Error())
	}
	if res.IsError {
		return fmt.Sprintf(`{"success":false,"error":%q}`, res.Content)
	}
	body, err := json.Marshal(map[string]any{"success": true, "message": res.Content})
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":%q}`, err.Error())
	}
	return string(body)
}
