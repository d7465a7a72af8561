// Package catalog defines the fetch_all_products contract consumed by
// product sync Stage A, plus the one concrete source integration
// (wordpress).
//
// Distinct from internal/tools/integrations/productstock, which answers
// real-time stock questions during a turn — catalog sources exist only to
// feed the relational/vector sync pipeline.
package catalog

import (
	"context"
	"time"
)

// Product is one source-integration row, ready for Stage A's content-hash
// diff and upsert. ExtraData carries fields that aren't first-class here but
// still affect the content hash or the LLM-facing payload (sku,
// long_description, on_sale, regular_price, attributes, ...).
type Product struct {
	ExternalID      string
	Name            string
	Description     string
	LongDescription string
	Price           *float64
	Currency        string
	Category        string
	SKU             string
	URL             string
	ImageURL        string
	InStock         bool
	OnSale          bool
	RegularPrice    string
	Attributes      []Attribute
	ExtraData       map[string]any
	UpdatedAt       *time.Time
}

// Attribute is a named product option set, e.g. "Color": ["Red", "Blue"].
type Attribute struct {
	Name    string
	Options []string
}

// Source fetches a source integration's full (or incrementally filtered)
// product catalog for sync. modifiedAfter, if non-nil, restricts the fetch
// to products changed since that time — implementations that cannot filter
// server-side should return the full catalog and let Stage A's content-hash
// diff discard unchanged rows.
type Source interface {
	FetchAllProducts(ctx context.Context, modifiedAfter *time.Time) ([]Product, error)
}
