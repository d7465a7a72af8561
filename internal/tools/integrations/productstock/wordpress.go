package productstock

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/voicebroker/internal/tools"
)

// WordPress is a product-stock Backend against the WooCommerce REST API,
// querying live stock_status/stock_quantity rather than the synced catalog.
type WordPress struct {
	storeURL       string
	consumerKey    string
	consumerSecret string
	httpClient     *http.Client
}

// NewWordPress constructs a WordPress backend from agent tool config.
// Required keys: store_url, consumer_key, consumer_secret.
func NewWordPress(config map[string]any) (*WordPress, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	storeURL, _ := config["store_url"].(string)
	consumerKey, _ := config["consumer_key"].(string)
	consumerSecret, _ := config["consumer_secret"].(string)
	return &WordPress{
		storeURL:       strings.TrimRight(storeURL, "/"),
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		httpClient:     &http.Client{Timeout: 15 * time.Second},
	}, nil
}

var _ Backend = (*WordPress)(nil)

type wooStockProduct struct {
	ID                any    `json:"id"`
	Name              string `json:"name"`
	InStock           bool   `json:"in_stock"`
	StockStatus       string `json:"stock_status"`
	StockQuantity     *int   `json:"stock_quantity"`
	BackordersAllowed bool   `json:"backorders_allowed"`
}

func (w *WordPress) parseStock(p wooStockProduct) StockResult {
	inStock := p.InStock
	if p.StockStatus != "" {
		inStock = p.StockStatus == "instock"
	}
	return StockResult{
		ID:                fmt.Sprintf("%v", p.ID),
		Name:              p.Name,
		InStock:           inStock,
		StockQuantity:     p.StockQuantity,
		Availability:      availabilityFor(inStock, p.StockQuantity),
		BackordersAllowed: p.BackordersAllowed,
	}
}

func (w *WordPress) query(base url.Values) url.Values {
	base.Set("consumer_key", w.consumerKey)
	base.Set("consumer_secret", w.consumerSecret)
	return base
}

// CheckStock fetches live stock for a product by ID, or searches by name and
// returns up to 5 matches when no ID is given.
func (w *WordPress) CheckStock(ctx context.Context, productName, productID string) ([]StockResult, error) {
	base := w.storeURL + "/wp-json/wc/v3/products"

	if productID != "" {
		reqURL := base + "/" + productID + "?" + w.query(url.Values{}).Encode()
		var p wooStockProduct
		if err := w.get(ctx, reqURL, &p); err != nil {
			return nil, err
		}
		return []StockResult{w.parseStock(p)}, nil
	}

	q := w.query(url.Values{
		"search":   {productName},
		"per_page": {"5"},
		"status":   {"publish"},
	})
	reqURL := base + "?" + q.Encode()
	var products []wooStockProduct
	if err := w.get(ctx, reqURL, &products); err != nil {
		return nil, err
	}
	out := make([]StockResult, len(products))
	for i, p := range products {
		out[i] = w.parseStock(p)
	}
	return out, nil
}

func (w *WordPress) get(ctx context.Context, reqURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("productstock/wordpress: build request: %w", err)
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("productstock/wordpress: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("productstock/wordpress: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("productstock/wordpress: decode response: %w", err)
	}
	return nil
}

// Close is a no-op: the shared http.Client requires no explicit teardown.
func (w *WordPress) Close() error { return nil }

// Register installs the product_stock descriptor and its wordpress
// integration factory into r.
func Register(r *tools.Registry) {
	r.RegisterDescriptor("product_stock", tools.Descriptor{
		Name:        "product_stock",
		Description: "Check real-time stock/availability for a product by name or ID. For general product information, prefer the product catalog context already provided.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"product_name": {"type": "string", "description": "Product name to search for"},
				"product_id": {"type": "string", "description": "Exact product ID, if known"}
			}
		}`),
	})
	r.RegisterIntegration("product_stock", "wordpress", func(config map[string]any) (tools.Integration, error) {
		backend, err := NewWordPress(config)
		if err != nil {
			return nil, err
		}
		return New(backend), nil
	})
}
