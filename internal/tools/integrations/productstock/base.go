// Package productstock implements the product_stock tool: real-time stock
// and availability lookups, distinct from catalog sync (internal/sync/catalog)
// which feeds the RAG index instead.
//
// Grounded on original_source's product_stock/base.py (ProductStockResult,
// BaseProductStockIntegration.execute) and wordpress.py's check_stock /
// _parse_stock for the concrete WooCommerce-backed integration.
package productstock

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MrWong99/voicebroker/internal/tools"
)

// StockResult is a single product's real-time availability.
type StockResult struct {
	ID                string
	Name              string
	InStock           bool
	StockQuantity     *int
	Availability      string
	BackordersAllowed bool
}

func (r StockResult) toMap() map[string]any {
	availability := r.Availability
	if availability == "" {
		if r.InStock {
			availability = "In stock"
		} else {
			availability = "Out of stock"
		}
	}
	out := map[string]any{
		"id":                  r.ID,
		"name":                r.Name,
		"in_stock":            r.InStock,
		"availability":        availability,
		"backorders_allowed":  r.BackordersAllowed,
	}
	if r.StockQuantity != nil {
		out["stock_quantity"] = *r.StockQuantity
	} else {
		out["stock_quantity"] = nil
	}
	return out
}

// Backend checks live stock for a named or ID-identified product.
type Backend interface {
	CheckStock(ctx context.Context, productName, productID string) ([]StockResult, error)
	Close() error
}

// Integration adapts a Backend to the tools.Integration contract.
type Integration struct {
	backend Backend
}

// New wraps backend as a tools.Integration.
func New(backend Backend) *Integration {
	return &Integration{backend: backend}
}

var _ tools.Integration = (*Integration)(nil)

// Execute implements the product_stock execution contract.
func (i *Integration) Execute(ctx context.Context, arguments map[string]any) (tools.Result, error) {
	productName, _ := arguments["product_name"].(string)
	productID, _ := arguments["product_id"].(string)

	results, err := i.backend.CheckStock(ctx, productName, productID)
	if err != nil {
		return tools.Result{}, err
	}

	if len(results) == 0 {
		return tools.Result{
			Success: true,
			Message: fmt.Sprintf("No products found matching '%s'", productName),
			Data:    json.RawMessage(`{"results":[],"count":0}`),
		}, nil
	}

	maps := make([]map[string]any, len(results))
	for idx, r := range results {
		maps[idx] = r.toMap()
	}
	data, err := json.Marshal(map[string]any{"results": maps, "count": len(results)})
	if err != nil {
		return tools.Result{}, err
	}
	return tools.Result{Success: true, Data: data}, nil
}

// Close closes the underlying backend.
func (i *Integration) Close() error {
	return i.backend.Close()
}

// ExpectedProperties returns the required config keys for a WooCommerce-backed
// product-stock integration.
func ExpectedProperties() []string {
	return []string{"store_url", "consumer_key", "consumer_secret"}
}

// ValidateConfig returns an error naming the first missing required key.
func ValidateConfig(config map[string]any) error {
	for _, key := range ExpectedProperties() {
		if v, ok := config[key]; !ok || v == "" {
			return fmt.Errorf("productstock: %s is required", key)
		}
	}
	return nil
}

// availabilityFor derives the human-readable availability message from stock
// state, matching wordpress.py's _parse_stock thresholds:
// >10 "In stock", 1-10 "Low stock (N left)", 0 "Out of stock".
func availabilityFor(inStock bool, quantity *int) string {
	if !inStock {
		return "Out of stock"
	}
	if quantity == nil {
		return "In stock"
	}
	switch {
	case *quantity > 10:
		return "In stock"
	case *quantity > 0:
		return fmt.Sprintf("Low stock (%d left)", *quantity)
	default:
		return "Out of stock"
	}
}
