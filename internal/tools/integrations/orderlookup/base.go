// Package orderlookup implements the order_lookup tool (§4.6 verification
// discipline): looking up an order requires an order identifier plus at
// least one customer identifier, and a successful-but-unverified lookup
// never leaks order contents.
//
// Grounded on original_source's order_lookup/base.py (OrderLookupResult,
// verify_customer, BaseOrderLookupIntegration.execute) and woocommerce.py
// for the concrete WooCommerce backend.
package orderlookup

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/voicebroker/internal/tools"
)

// OrderItem is a single line item on an order.
type OrderItem struct {
	Name     string
	Quantity int
	Price    *float64
	SKU      string
}

func (i OrderItem) toMap() map[string]any {
	out := map[string]any{"name": i.Name, "quantity": i.Quantity}
	if i.Price != nil {
		out["price"] = *i.Price
	}
	if i.SKU != "" {
		out["sku"] = i.SKU
	}
	return out
}

// Order is a standardized order lookup result, backend-agnostic.
type Order struct {
	OrderID         string
	Status          string
	CustomerEmail   string
	CustomerPhone   string
	CustomerName    string
	Total           *float64
	Currency        string
	CreatedAt       *time.Time
	ShippingAddress string
	TrackingNumber  string
	TrackingURL     string
	Items           []OrderItem
}

func (o Order) toMap() map[string]any {
	out := map[string]any{"order_id": o.OrderID, "status": o.Status}
	if o.CustomerName != "" {
		out["customer_name"] = o.CustomerName
	}
	if o.CustomerEmail != "" {
		out["customer_email"] = o.CustomerEmail
	}
	if o.Total != nil {
		out["total"] = *o.Total
	}
	if o.Currency != "" {
		out["currency"] = o.Currency
	}
	if o.CreatedAt != nil {
		out["created_at"] = o.CreatedAt.Format(time.RFC3339)
	}
	if o.ShippingAddress != "" {
		out["shipping_address"] = o.ShippingAddress
	}
	if o.TrackingNumber != "" {
		out["tracking_number"] = o.TrackingNumber
	}
	if o.TrackingURL != "" {
		out["tracking_url"] = o.TrackingURL
	}
	if len(o.Items) > 0 {
		items := make([]map[string]any, len(o.Items))
		for i, it := range o.Items {
			items[i] = it.toMap()
		}
		out["items"] = items
	}
	return out
}

// VerifyCustomer reports whether email or phone matches the order's stored
// customer info. email is compared case-insensitively; phone is compared by
// its last 10 digits, tolerating country-code prefixes, matching
// verify_customer's normalization exactly.
func (o Order) VerifyCustomer(email, phone string) bool {
	if email != "" && o.CustomerEmail != "" {
		if strings.EqualFold(strings.TrimSpace(email), strings.TrimSpace(o.CustomerEmail)) {
			return true
		}
	}
	if phone != "" && o.CustomerPhone != "" {
		orderDigits := onlyDigits(o.CustomerPhone)
		providedDigits := onlyDigits(phone)
		if len(providedDigits) >= 10 && len(orderDigits) >= 10 &&
			orderDigits[len(orderDigits)-10:] == providedDigits[len(providedDigits)-10:] {
			return true
		}
	}
	return false
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Backend is implemented per storefront platform (WooCommerce, Shopify, ...).
type Backend interface {
	LookupByOrderNumber(ctx context.Context, orderNumber string) (*Order, error)
	LookupByEmail(ctx context.Context, email string, limit int) ([]Order, error)
	Close() error
}

// Integration adapts a Backend to the tools.Integration contract, applying
// the shared verification discipline regardless of backend.
type Integration struct {
	backend Backend
}

// New wraps backend as a tools.Integration.
func New(backend Backend) *Integration {
	return &Integration{backend: backend}
}

var _ tools.Integration = (*Integration)(nil)

// Execute implements the order_lookup execution contract (§4.6).
func (i *Integration) Execute(ctx context.Context, arguments map[string]any) (tools.Result, error) {
	orderNumber, _ := arguments["order_number"].(string)
	customerEmail, _ := arguments["customer_email"].(string)
	customerPhone, _ := arguments["customer_phone"].(string)

	switch {
	case orderNumber != "":
		order, err := i.backend.LookupByOrderNumber(ctx, orderNumber)
		if err != nil {
			return tools.Result{}, err
		}
		if order == nil {
			return tools.Result{
				Success: true,
				Found:   boolPtr(false),
				Message: fmt.Sprintf("No order found with number %s", orderNumber),
			}, nil
		}
		if customerEmail != "" || customerPhone != "" {
			if order.VerifyCustomer(customerEmail, customerPhone) {
				data, err := orderData(*order)
				if err != nil {
					return tools.Result{}, err
				}
				return tools.Result{
					Success:  true,
					Found:    boolPtr(true),
					Verified: boolPtr(true),
					Data:     data,
				}, nil
			}
			return tools.Result{
				Success:  true,
				Found:    boolPtr(true),
				Verified: boolPtr(false),
				Message: fmt.Sprintf(
					"Order %s found but the provided email/phone does not match our records. Please verify your information.",
					orderNumber),
			}, nil
		}
		return tools.Result{
			Success:  true,
			Found:    boolPtr(true),
			Verified: boolPtr(false),
			Message: fmt.Sprintf(
				"Order %s found. For security, please provide your email address or phone number to verify your identity.",
				orderNumber),
		}, nil

	case customerEmail != "":
		orders, err := i.backend.LookupByEmail(ctx, customerEmail, 5)
		if err != nil {
			return tools.Result{}, err
		}
		maps := make([]map[string]any, len(orders))
		for idx, o := range orders {
			maps[idx] = o.toMap()
		}
		data, err := marshalExtra(map[string]any{"orders": maps, "count": len(orders)})
		if err != nil {
			return tools.Result{}, err
		}
		return tools.Result{Success: true, Data: data}, nil

	default:
		return tools.Result{
			Success: false,
			Error:   "Order number is required. Please also provide your email or phone number for verification.",
		}, nil
	}
}

// Close closes the underlying backend.
func (i *Integration) Close() error {
	return i.backend.Close()
}

func boolPtr(b bool) *bool { return &b }

func orderData(o Order) ([]byte, error) {
	return marshalExtra(map[string]any{"order": o.toMap()})
}

// ExpectedProperties returns the configuration keys every order-lookup
// backend's config must supply, mirroring get_expected_properties.
func ExpectedProperties() []string {
	return []string{"store_url", "consumer_key", "consumer_secret"}
}

// ValidateConfig returns an error naming the first missing required key.
func ValidateConfig(config map[string]any) error {
	for _, key := range ExpectedProperties() {
		if v, ok := config[key]; !ok || v == "" {
			return fmt.Errorf("orderlookup: %s is required", key)
		}
	}
	return nil
}

func marshalExtra(v map[string]any) ([]byte, error) {
	return json.Marshal(v)
}
