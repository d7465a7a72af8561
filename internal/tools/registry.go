// Package tools implements the Tool Executor: a static, code-defined
// registry mapping tool slugs to descriptors and integration constructors,
// and a per-session executor that resolves an agent's configured bindings
// against that registry, dispatches calls, and formats results for the LLM.
//
// The registry is a compile-time factory-function map rather than dynamic
// class lookup — the same shape internal/config/registry.go uses for
// provider construction.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Descriptor is the static definition of a tool exposed to the LLM: its
// name, natural-language description, and JSON Schema parameters. One
// Descriptor exists per tool_slug regardless of how many integrations
// implement it.
type Descriptor struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Result is the tagged-variant outcome of executing a tool call. Exactly
// one of Success's payload fields is populated depending on Found/Verified.
type Result struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Found   *bool           `json:"found,omitempty"`
	Verified *bool          `json:"verified,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"-"`
}

// MarshalJSON flattens Data's top-level fields alongside Result's own fields
// so callers can build integration-specific payloads (order, orders, count,
// in_stock, ...) without Result needing to know every integration's shape.
func (r Result) MarshalJSON() ([]byte, error) {
	out := map[string]any{"success": r.Success}
	if r.Error != "" {
		out["error"] = r.Error
	}
	if r.Found != nil {
		out["found"] = *r.Found
	}
	if r.Verified != nil {
		out["verified"] = *r.Verified
	}
	if r.Message != "" {
		out["message"] = r.Message
	}
	if len(r.Data) > 0 {
		var extra map[string]any
		if err := json.Unmarshal(r.Data, &extra); err != nil {
			return nil, fmt.Errorf("tools: result data is not a JSON object: %w", err)
		}
		for k, v := range extra {
			out[k] = v
		}
	}
	return json.Marshal(out)
}

func boolPtr(b bool) *bool { return &b }

// ErrorResult builds a {"success": false, "error": msg} result.
func ErrorResult(format string, args ...any) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Integration is the contract every concrete tool integration implements
// (WooCommerce order lookup, WordPress product stock, ...). Execute receives
// the LLM-supplied arguments for a single call and returns a Result — it
// must never panic; the executor recovers defensively but a well-behaved
// integration reports failures via Result.Error.
type Integration interface {
	Execute(ctx context.Context, arguments map[string]any) (Result, error)
	Close() error
}

// Factory constructs an Integration from its agent-specific configuration
// (API keys, store URLs, ...).
type Factory func(config map[string]any) (Integration, error)

// Registry is the static tool_slug -> {descriptor, integration_slug ->
// factory} map, populated at process start by each integration package's
// init-time (or explicit) registration call. Safe for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	descriptors  map[string]Descriptor
	integrations map[string]map[string]Factory // tool_slug -> integration_slug -> Factory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		descriptors:  make(map[string]Descriptor),
		integrations: make(map[string]map[string]Factory),
	}
}

// RegisterDescriptor registers the LLM-facing definition for toolSlug.
// Calling it twice for the same slug overwrites the previous definition.
func (r *Registry) RegisterDescriptor(toolSlug string, d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descriptors[toolSlug] = d
}

// RegisterIntegration registers factory as the constructor for
// (toolSlug, integrationSlug) pairs, e.g. ("order_lookup", "woocommerce").
func (r *Registry) RegisterIntegration(toolSlug, integrationSlug string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.integrations[toolSlug] == nil {
		r.integrations[toolSlug] = make(map[string]Factory)
	}
	r.integrations[toolSlug][integrationSlug] = factory
}

// Descriptor returns the registered descriptor for toolSlug, if any.
func (r *Registry) Descriptor(toolSlug string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[toolSlug]
	return d, ok
}

// ErrIntegrationNotRegistered is returned when no factory is registered for
// a (tool_slug, integration_slug) pair.
var ErrIntegrationNotRegistered = fmt.Errorf("tools: integration not registered")

// New constructs the Integration for (toolSlug, integrationSlug) using its
// registered factory and config.
func (r *Registry) New(toolSlug, integrationSlug string, config map[string]any) (Integration, error) {
	r.mu.RLock()
	factory, ok := r.integrations[toolSlug][integrationSlug]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrIntegrationNotRegistered, toolSlug, integrationSlug)
	}
	return factory(config)
}
