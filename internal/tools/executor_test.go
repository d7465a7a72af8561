package tools

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/MrWong99/voicebroker/internal/store/postgres"
)

type stubIntegration struct {
	mu        sync.Mutex
	result    Result
	err       error
	closed    bool
	callCount int
}

func (s *stubIntegration) Execute(ctx context.Context, arguments map[string]any) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callCount++
	return s.result, s.err
}

func (s *stubIntegration) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func testRegistry() (*Registry, *stubIntegration) {
	r := NewRegistry()
	stub := &stubIntegration{result: Result{Success: true, Found: boolPtr(true)}}
	r.RegisterIntegration("order_lookup", "woocommerce", func(config map[string]any) (Integration, error) {
		return stub, nil
	})
	return r, stub
}

func TestExecutor_Execute_UnboundToolReturnsNotAvailable(t *testing.T) {
	r, _ := testRegistry()
	e := NewExecutor(r, nil)

	res := e.Execute(context.Background(), "order_lookup", map[string]any{})
	if res.Success {
		t.Fatalf("expected failure for unbound tool, got %+v", res)
	}
}

func TestExecutor_Execute_DisabledBindingReturnsNotAvailable(t *testing.T) {
	r, _ := testRegistry()
	e := NewExecutor(r, []postgres.AgentTool{
		{ToolSlug: "order_lookup", IntegrationSlug: "woocommerce", IsEnabled: false},
	})

	res := e.Execute(context.Background(), "order_lookup", map[string]any{})
	if res.Success {
		t.Fatalf("expected failure for disabled binding, got %+v", res)
	}
}

func TestExecutor_Execute_DispatchesToIntegrationAndCaches(t *testing.T) {
	r, stub := testRegistry()
	e := NewExecutor(r, []postgres.AgentTool{
		{ToolSlug: "order_lookup", IntegrationSlug: "woocommerce", IsEnabled: true},
	})

	res := e.Execute(context.Background(), "order_lookup", map[string]any{"order_number": "123"})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}

	e.Execute(context.Background(), "order_lookup", map[string]any{"order_number": "456"})
	if stub.callCount != 2 {
		t.Fatalf("expected integration invoked twice, got %d", stub.callCount)
	}
}

func TestExecutor_Execute_IntegrationErrorBecomesFailureResult(t *testing.T) {
	r := NewRegistry()
	r.RegisterIntegration("order_lookup", "woocommerce", func(config map[string]any) (Integration, error) {
		return &stubIntegration{err: errors.New("boom")}, nil
	})
	e := NewExecutor(r, []postgres.AgentTool{
		{ToolSlug: "order_lookup", IntegrationSlug: "woocommerce", IsEnabled: true},
	})

	res := e.Execute(context.Background(), "order_lookup", map[string]any{})
	if res.Success || res.Error != "boom" {
		t.Fatalf("expected {success:false, error:boom}, got %+v", res)
	}
}

func TestExecutor_ExecuteBatch_PreservesRequestOrder(t *testing.T) {
	r := NewRegistry()
	for _, slug := range []string{"a", "b", "c"} {
		slug := slug
		r.RegisterIntegration(slug, "stub", func(config map[string]any) (Integration, error) {
			return &stubIntegration{result: Result{Success: true, Message: slug}}, nil
		})
	}
	e := NewExecutor(r, []postgres.AgentTool{
		{ToolSlug: "a", IntegrationSlug: "stub", IsEnabled: true},
		{ToolSlug: "b", IntegrationSlug: "stub", IsEnabled: true},
		{ToolSlug: "c", IntegrationSlug: "stub", IsEnabled: true},
	})

	calls := []Call{
		{ID: "1", ToolName: "a", Arguments: json.RawMessage(`{}`)},
		{ID: "2", ToolName: "b", Arguments: json.RawMessage(`{}`)},
		{ID: "3", ToolName: "c", Arguments: json.RawMessage(`{}`)},
	}
	results := e.ExecuteBatch(context.Background(), calls)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, want := range []string{"1", "2", "3"} {
		if results[i].ToolCallID != want {
			t.Fatalf("result %d: expected tool_call_id %q, got %q", i, want, results[i].ToolCallID)
		}
	}
}

func TestExecutor_Close_ClosesAllCachedIntegrations(t *testing.T) {
	r, stub := testRegistry()
	e := NewExecutor(r, []postgres.AgentTool{
		{ToolSlug: "order_lookup", IntegrationSlug: "woocommerce", IsEnabled: true},
	})
	e.Execute(context.Background(), "order_lookup", map[string]any{})

	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !stub.closed {
		t.Fatal("expected integration to be closed")
	}
}

func TestResult_MarshalJSON_FlattensData(t *testing.T) {
	res := Result{
		Success: true,
		Found:   boolPtr(true),
		Data:    json.RawMessage(`{"order":{"order_id":"1"}}`),
	}
	b, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out["success"] != true || out["found"] != true {
		t.Fatalf("unexpected flattened fields: %v", out)
	}
	if _, ok := out["order"]; !ok {
		t.Fatalf("expected order field to be flattened in, got %v", out)
	}
}
