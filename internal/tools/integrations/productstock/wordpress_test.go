package productstock

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestWordPress(t *testing.T, srv *httptest.Server) *WordPress {
	t.Helper()
	w, err := NewWordPress(map[string]any{
		"store_url":       srv.URL,
		"consumer_key":    "ck_test",
		"consumer_secret": "cs_test",
	})
	if err != nil {
		t.Fatalf("NewWordPress: %v", err)
	}
	return w
}

func TestWordPress_CheckStock_ByID(t *testing.T) {
	qty := 3
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id":             42,
			"name":           "Widget",
			"stock_status":   "instock",
			"stock_quantity": qty,
		})
	}))
	defer srv.Close()

	backend := newTestWordPress(t, srv)
	results, err := backend.CheckStock(context.Background(), "", "42")
	if err != nil {
		t.Fatalf("CheckStock: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Availability != "Low stock (3 left)" {
		t.Fatalf("unexpected availability: %q", results[0].Availability)
	}
}

func TestWordPress_CheckStock_OutOfStock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id": 1, "name": "Gadget", "stock_status": "outofstock",
		})
	}))
	defer srv.Close()

	backend := newTestWordPress(t, srv)
	results, err := backend.CheckStock(context.Background(), "", "1")
	if err != nil {
		t.Fatalf("CheckStock: %v", err)
	}
	if results[0].Availability != "Out of stock" || results[0].InStock {
		t.Fatalf("unexpected result: %+v", results[0])
	}
}

func TestWordPress_CheckStock_SearchByName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("search") != "widget" {
			t.Fatalf("expected search query param, got %q", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode([]map[string]any{
			{"id": 1, "name": "Red Widget", "stock_status": "instock"},
			{"id": 2, "name": "Blue Widget", "stock_status": "instock"},
		})
	}))
	defer srv.Close()

	backend := newTestWordPress(t, srv)
	results, err := backend.CheckStock(context.Background(), "widget", "")
	if err != nil {
		t.Fatalf("CheckStock: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
}

func TestIntegration_Execute_NoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{})
	}))
	defer srv.Close()

	integ := New(newTestWordPress(t, srv))
	res, err := integ.Execute(context.Background(), map[string]any{"product_name": "nonexistent"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success || res.Message == "" {
		t.Fatalf("expected success with a no-results message, got %+v", res)
	}
}
