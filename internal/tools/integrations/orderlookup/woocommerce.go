package orderlookup

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/voicebroker/internal/tools"
)

// wooStatusMap mirrors woocommerce.py's status_map, translating WooCommerce's
// internal order statuses to human-readable text for the LLM.
var wooStatusMap = map[string]string{
	"pending":    "Pending Payment",
	"processing": "Processing",
	"on-hold":    "On Hold",
	"completed":  "Completed",
	"cancelled":  "Cancelled",
	"refunded":   "Refunded",
	"failed":     "Failed",
	"trash":      "Deleted",
}

// WooCommerce is an order-lookup Backend against the WooCommerce REST API
// (wp-json/wc/v3), authenticated with a consumer key/secret pair via HTTP
// basic auth.
type WooCommerce struct {
	storeURL       string
	consumerKey    string
	consumerSecret string
	httpClient     *http.Client
}

// NewWooCommerce constructs a WooCommerce backend from agent tool config.
// Required keys: store_url, consumer_key, consumer_secret.
func NewWooCommerce(config map[string]any) (*WooCommerce, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	storeURL, _ := config["store_url"].(string)
	consumerKey, _ := config["consumer_key"].(string)
	consumerSecret, _ := config["consumer_secret"].(string)
	return &WooCommerce{
		storeURL:       strings.TrimRight(storeURL, "/"),
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		httpClient:     &http.Client{Timeout: 15 * time.Second},
	}, nil
}

var _ Backend = (*WooCommerce)(nil)

func (w *WooCommerce) apiURL(endpoint string, query url.Values) string {
	u := fmt.Sprintf("%s/wp-json/wc/v3/%s", w.storeURL, endpoint)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (w *WooCommerce) do(ctx context.Context, reqURL string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, fmt.Errorf("orderlookup/woocommerce: build request: %w", err)
	}
	req.SetBasicAuth(w.consumerKey, w.consumerSecret)
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("orderlookup/woocommerce: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return resp.StatusCode, nil
	}
	if resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("orderlookup/woocommerce: status %d", resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("orderlookup/woocommerce: decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

type wooOrder struct {
	ID        any    `json:"id"`
	Number    string `json:"number"`
	Status    string `json:"status"`
	Total     string `json:"total"`
	Currency  string `json:"currency"`
	DateCreated string `json:"date_created"`
	Billing   struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Email     string `json:"email"`
		Phone     string `json:"phone"`
	} `json:"billing"`
	Shipping struct {
		Address1 string `json:"address_1"`
		Address2 string `json:"address_2"`
		City     string `json:"city"`
		State    string `json:"state"`
		Postcode string `json:"postcode"`
		Country  string `json:"country"`
	} `json:"shipping"`
	LineItems []struct {
		Name     string `json:"name"`
		Quantity int    `json:"quantity"`
		Total    string `json:"total"`
		SKU      string `json:"sku"`
	} `json:"line_items"`
}

func (w *WooCommerce) parseOrder(o wooOrder) Order {
	items := make([]OrderItem, len(o.LineItems))
	for i, li := range o.LineItems {
		price := parseFloat(li.Total)
		items[i] = OrderItem{Name: li.Name, Quantity: li.Quantity, Price: &price, SKU: li.SKU}
	}

	customerName := strings.TrimSpace(o.Billing.FirstName + " " + o.Billing.LastName)

	shippingParts := []string{o.Shipping.Address1, o.Shipping.Address2, o.Shipping.City, o.Shipping.State, o.Shipping.Postcode, o.Shipping.Country}
	var nonEmpty []string
	for _, p := range shippingParts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	shippingAddress := strings.Join(nonEmpty, ", ")

	var createdAt *time.Time
	if o.DateCreated != "" {
		if t, err := time.Parse(time.RFC3339, strings.Replace(o.DateCreated, "Z", "+00:00", 1)); err == nil {
			createdAt = &t
		}
	}

	status, ok := wooStatusMap[o.Status]
	if !ok {
		status = o.Status
		if status == "" {
			status = "Unknown"
		}
	}

	orderID := o.Number
	if orderID == "" {
		orderID = fmt.Sprintf("%v", o.ID)
	}
	currency := o.Currency
	if currency == "" {
		currency = "USD"
	}
	total := parseFloat(o.Total)

	return Order{
		OrderID:         orderID,
		Status:          status,
		CustomerEmail:   o.Billing.Email,
		CustomerPhone:   o.Billing.Phone,
		CustomerName:    customerName,
		Total:           &total,
		Currency:        currency,
		CreatedAt:       createdAt,
		ShippingAddress: shippingAddress,
		Items:           items,
	}
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// LookupByOrderNumber fetches a single order by its WooCommerce order ID.
func (w *WooCommerce) LookupByOrderNumber(ctx context.Context, orderNumber string) (*Order, error) {
	var raw wooOrder
	status, err := w.do(ctx, w.apiURL("orders/"+orderNumber, nil), &raw)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	order := w.parseOrder(raw)
	return &order, nil
}

// LookupByEmail searches recent orders and keeps only exact billing-email
// matches, matching woocommerce.py's post-filter (WooCommerce's "search"
// parameter is a substring match across multiple fields, not an exact one).
func (w *WooCommerce) LookupByEmail(ctx context.Context, email string, limit int) ([]Order, error) {
	query := url.Values{
		"search":   {email},
		"per_page": {strconv.Itoa(limit)},
		"orderby":  {"date"},
		"order":    {"desc"},
	}
	var raw []wooOrder
	if _, err := w.do(ctx, w.apiURL("orders", query), &raw); err != nil {
		return nil, err
	}
	var out []Order
	for _, o := range raw {
		if strings.EqualFold(o.Billing.Email, email) {
			out = append(out, w.parseOrder(o))
		}
	}
	return out, nil
}

// Close is a no-op: the shared http.Client requires no explicit teardown.
func (w *WooCommerce) Close() error { return nil }

// Register installs the order_lookup descriptor and its woocommerce
// integration factory into r.
func Register(r *tools.Registry) {
	r.RegisterDescriptor("order_lookup", tools.Descriptor{
		Name:        "order_lookup",
		Description: "Look up a customer's order by order number, or list recent orders by email. Requires identity verification before revealing order contents.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"order_number": {"type": "string", "description": "The order number to look up"},
				"customer_email": {"type": "string", "description": "Customer email, for lookup-by-email or identity verification"},
				"customer_phone": {"type": "string", "description": "Customer phone number, for identity verification"}
			}
		}`),
	})
	r.RegisterIntegration("order_lookup", "woocommerce", func(config map[string]any) (tools.Integration, error) {
		backend, err := NewWooCommerce(config)
		if err != nil {
			return nil, err
		}
		return New(backend), nil
	})
}
