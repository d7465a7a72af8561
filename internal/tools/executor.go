package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicebroker/internal/store/postgres"
)

// Call is a single tool invocation requested by the LLM in one round, in
// OpenAI function-calling shape.
type Call struct {
	ID        string
	ToolName  string
	Arguments json.RawMessage
}

// CallResult pairs a Call's ID with its serialized JSON content, ready to be
// appended as a `tool` role message.
type CallResult struct {
	ToolCallID string
	Content    string
}

// Executor resolves one agent session's enabled tool bindings against a
// Registry, caches one integration instance per tool_slug for the session's
// lifetime, and executes calls.
//
// A single mutex guards the integration cache against concurrent tool calls
// within one round. Calls from different turns of the same session are not
// serialized, here or by the turn orchestrator, which does not take the
// session's Lock.
type Executor struct {
	registry *Registry

	mu           sync.Mutex
	bindings     map[string]postgres.AgentTool // tool_slug -> binding
	integrations map[string]Integration        // tool_slug -> cached instance
}

// NewExecutor builds an Executor for one agent session from its configured
// tool bindings. Disabled bindings are dropped, matching
// ToolExecutor.__init__'s agent_tools filter.
func NewExecutor(registry *Registry, bindings []postgres.AgentTool) *Executor {
	enabled := make(map[string]postgres.AgentTool, len(bindings))
	for _, b := range bindings {
		if b.IsEnabled {
			enabled[b.ToolSlug] = b
		}
	}
	return &Executor{
		registry:     registry,
		bindings:     enabled,
		integrations: make(map[string]Integration),
	}
}

// Definitions returns the LLM-facing tool definitions for every enabled
// binding that has a registered descriptor.
func (e *Executor) Definitions() []Descriptor {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Descriptor, 0, len(e.bindings))
	for slug := range e.bindings {
		if d, ok := e.registry.Descriptor(slug); ok {
			out = append(out, d)
		}
	}
	return out
}

// getIntegration returns (or lazily constructs and caches) the Integration
// for toolName. Returns nil, nil if toolName is not bound for this session.
func (e *Executor) getIntegration(toolName string) (Integration, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if inst, ok := e.integrations[toolName]; ok {
		return inst, nil
	}
	binding, ok := e.bindings[toolName]
	if !ok {
		return nil, nil
	}
	inst, err := e.registry.New(binding.ToolSlug, binding.IntegrationSlug, binding.IntegrationConfig)
	if err != nil {
		return nil, fmt.Errorf("tools: construct integration %s.%s: %w", binding.ToolSlug, binding.IntegrationSlug, err)
	}
	e.integrations[toolName] = inst
	return inst, nil
}

// Execute runs a single tool call, trapping any panic or error from the
// integration into a well-formed Result rather than propagating it — a tool
// failure must never abort the turn.
func (e *Executor) Execute(ctx context.Context, toolName string, arguments map[string]any) (result Result) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("tools: integration panicked", "tool", toolName, "panic", rec)
			result = ErrorResult("internal error executing tool %q", toolName)
		}
	}()

	integration, err := e.getIntegration(toolName)
	if err != nil {
		slog.Warn("tools: failed to construct integration", "tool", toolName, "error", err)
		return ErrorResult("tool %q is not available", toolName)
	}
	if integration == nil {
		return ErrorResult("tool %q is not available", toolName)
	}

	res, err := integration.Execute(ctx, arguments)
	if err != nil {
		return ErrorResult("%s", err.Error())
	}
	return res
}

// ExecuteBatch runs every call in calls, possibly concurrently, and returns
// results in the same order as calls regardless of completion order.
func (e *Executor) ExecuteBatch(ctx context.Context, calls []Call) []CallResult {
	results := make([]CallResult, len(calls))

	g, ctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			var args map[string]any
			if len(call.Arguments) > 0 {
				if err := json.Unmarshal(call.Arguments, &args); err != nil {
					args = map[string]any{}
				}
			}
			result := e.Execute(ctx, call.ToolName, args)
			content, err := json.Marshal(result)
			if err != nil {
				content = []byte(fmt.Sprintf(`{"success":false,"error":%q}`, err.Error()))
			}
			results[i] = CallResult{ToolCallID: call.ID, Content: string(content)}
			return nil
		})
	}
	// Every goroutine above always returns nil: a failed tool call is
	// reported as a Result, not propagated as an errgroup error.
	_ = g.Wait()

	return results
}

// Close releases every cached integration instance for this session.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var firstErr error
	for slug, inst := range e.integrations {
		if err := inst.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("tools: close integration %q: %w", slug, err)
		}
	}
	e.integrations = make(map[string]Integration)
	return firstErr
}
