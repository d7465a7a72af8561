package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// perPage is the page size requested from the WooCommerce REST API; the API
// caps per_page at 100 regardless of what is requested.
const perPage = 100

// WordPress is a catalog Source against the WooCommerce REST API, grounded
// on wordpress.py's fetch_all_products/_parse_for_sync.
type WordPress struct {
	storeURL       string
	consumerKey    string
	consumerSecret string
	currency       string
	maxProducts    int
	httpClient     *http.Client
}

// Config configures a WordPress catalog source.
type Config struct {
	StoreURL       string
	ConsumerKey    string
	ConsumerSecret string
	// Currency defaults to "EUR" when empty, matching wordpress.py's default.
	Currency string
	// MaxProducts caps the total number of products fetched; 0 means no limit.
	MaxProducts int
}

// NewWordPress constructs a WordPress catalog source.
func NewWordPress(cfg Config) *WordPress {
	currency := cfg.Currency
	if currency == "" {
		currency = "EUR"
	}
	return &WordPress{
		storeURL:       strings.TrimRight(cfg.StoreURL, "/"),
		consumerKey:    cfg.ConsumerKey,
		consumerSecret: cfg.ConsumerSecret,
		currency:       currency,
		maxProducts:    cfg.MaxProducts,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
	}
}

var _ Source = (*WordPress)(nil)

type wooSyncProduct struct {
	ID                any    `json:"id"`
	Name              string `json:"name"`
	ShortDescription  string `json:"short_description"`
	Description       string `json:"description"`
	Price             string `json:"price"`
	RegularPrice      string `json:"regular_price"`
	SalePrice         string `json:"sale_price"`
	OnSale            bool   `json:"on_sale"`
	SKU               string `json:"sku"`
	Permalink         string `json:"permalink"`
	InStock           bool   `json:"in_stock"`
	StockStatus       string `json:"stock_status"`
	StockQuantity     *int   `json:"stock_quantity"`
	Weight            string `json:"weight"`
	DateModified      string `json:"date_modified"`
	Categories        []struct {
		Name string `json:"name"`
	} `json:"categories"`
	Images []struct {
		Src string `json:"src"`
	} `json:"images"`
	Tags []struct {
		Name string `json:"name"`
	} `json:"tags"`
	Attributes []struct {
		Name    string   `json:"name"`
		Options []string `json:"options"`
	} `json:"attributes"`
}

// FetchAllProducts pages through the WooCommerce products endpoint,
// optionally filtered by modifiedAfter, stopping early once maxProducts is
// reached (logging the limit when it is hit).
func (w *WordPress) FetchAllProducts(ctx context.Context, modifiedAfter *time.Time) ([]Product, error) {
	var all []Product
	page := 1

	for {
		q := url.Values{
			"per_page":        {strconv.Itoa(perPage)},
			"page":            {strconv.Itoa(page)},
			"status":          {"publish"},
			"consumer_key":    {w.consumerKey},
			"consumer_secret": {w.consumerSecret},
		}
		if modifiedAfter != nil {
			q.Set("modified_after", modifiedAfter.Format(time.RFC3339))
		}

		var raw []wooSyncProduct
		if err := w.get(ctx, w.storeURL+"/wp-json/wc/v3/products?"+q.Encode(), &raw); err != nil {
			return all, err
		}
		if len(raw) == 0 {
			break
		}

		parsed := make([]Product, len(raw))
		for i, p := range raw {
			parsed[i] = w.parseForSync(p)
		}

		if w.maxProducts > 0 && len(all)+len(parsed) >= w.maxProducts {
			remaining := w.maxProducts - len(all)
			all = append(all, parsed[:remaining]...)
			slog.Info("catalog/wordpress: reached max products limit, stopping fetch",
				"maxProducts", w.maxProducts)
			break
		}
		all = append(all, parsed...)

		if len(raw) < perPage {
			break
		}
		page++
	}

	return all, nil
}

func (w *WordPress) parseForSync(p wooSyncProduct) Product {
	inStock := p.InStock
	if p.StockStatus != "" {
		inStock = p.StockStatus == "instock"
	}

	var price *float64
	if p.Price != "" {
		if f, err := strconv.ParseFloat(p.Price, 64); err == nil {
			price = &f
		}
	}

	var category string
	if len(p.Categories) > 0 {
		category = p.Categories[0].Name
	}
	var imageURL string
	if len(p.Images) > 0 {
		imageURL = p.Images[0].Src
	}

	attrs := make([]Attribute, len(p.Attributes))
	for i, a := range p.Attributes {
		attrs[i] = Attribute{Name: a.Name, Options: a.Options}
	}

	tags := make([]string, len(p.Tags))
	for i, t := range p.Tags {
		tags[i] = t.Name
	}

	extra := map[string]any{
		"sku":               p.SKU,
		"long_description":  p.Description,
		"on_sale":           p.OnSale,
		"regular_price":     p.RegularPrice,
		"sale_price":        p.SalePrice,
		"stock_quantity":    p.StockQuantity,
		"tags":              tags,
		"weight":            p.Weight,
	}

	var updatedAt *time.Time
	if p.DateModified != "" {
		if t, err := time.Parse(time.RFC3339, strings.Replace(p.DateModified, "Z", "+00:00", 1)); err == nil {
			updatedAt = &t
		}
	}

	id := p.SKU
	if idStr, ok := p.ID.(string); ok && idStr != "" {
		id = idStr
	} else if p.ID != nil {
		id = fmt.Sprintf("%v", p.ID)
	}

	return Product{
		ExternalID:      id,
		Name:            p.Name,
		Description:     p.ShortDescription,
		LongDescription: p.Description,
		Price:           price,
		Currency:        w.currency,
		Category:        category,
		SKU:             p.SKU,
		URL:             p.Permalink,
		ImageURL:        imageURL,
		InStock:         inStock,
		OnSale:          p.OnSale,
		RegularPrice:    p.RegularPrice,
		Attributes:      attrs,
		ExtraData:       extra,
		UpdatedAt:       updatedAt,
	}
}

func (w *WordPress) get(ctx context.Context, reqURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("catalog/wordpress: build request: %w", err)
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("catalog/wordpress: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("catalog/wordpress: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("catalog/wordpress: decode response: %w", err)
	}
	return nil
}

// wordPressConfigFromMap parses an agent_tool.integration_config map into a
// Config. Required keys: store_url, consumer_key, consumer_secret.
func wordPressConfigFromMap(config map[string]any) (Config, error) {
	storeURL, _ := config["store_url"].(string)
	consumerKey, _ := config["consumer_key"].(string)
	consumerSecret, _ := config["consumer_secret"].(string)
	if storeURL == "" || consumerKey == "" || consumerSecret == "" {
		return Config{}, fmt.Errorf("catalog/wordpress: store_url, consumer_key, and consumer_secret are required")
	}
	currency, _ := config["currency"].(string)
	maxProducts := 0
	switch v := config["max_products"].(type) {
	case int:
		maxProducts = v
	case float64:
		maxProducts = int(v)
	}
	return Config{
		StoreURL:       storeURL,
		ConsumerKey:    consumerKey,
		ConsumerSecret: consumerSecret,
		Currency:       currency,
		MaxProducts:    maxProducts,
	}, nil
}

// Register installs the wordpress catalog source factory into r.
func Register(r *Registry) {
	r.Register("wordpress", func(config map[string]any) (Source, error) {
		cfg, err := wordPressConfigFromMap(config)
		if err != nil {
			return nil, err
		}
		return NewWordPress(cfg), nil
	})
}
