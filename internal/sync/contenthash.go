// Package sync implements the product catalog sync pipeline: Stage A syncs a
// source integration's catalog into the relational products table, Stage B
// embeds unindexed rows into the vector store, and Stage C removes vector
// points orphaned by a full sync's deletions.
package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// contentHashSchemaVersion is folded into the hash so a deliberate change to
// the field set or encoding below invalidates every previously computed
// hash, forcing a full re-index instead of silently comparing incompatible
// hashes across a deploy.
const contentHashSchemaVersion = "1"

// ContentHashInput carries the fields that affect the RAG text
// representation — exactly compute_content_hash's relevant_fields.
type ContentHashInput struct {
	Name            string
	Description     string
	LongDescription string
	Price           *float64
	Currency        string
	Category        string
	SKU             string
	InStock         bool
	URL             string

	OnSale        bool
	RegularPrice  string
	Attributes    []ProductAttribute
}

// ProductAttribute is a named product option set (e.g. "Color":
// ["Red","Blue"]), contributing "name:opt1,opt2" to the hash input.
type ProductAttribute struct {
	Name    string
	Options []string
}

// ComputeContentHash hashes the fields that affect a product's RAG text
// representation, so Stage A can detect when re-embedding is needed without
// comparing full rows. Field order and join logic mirror
// compute_content_hash exactly; contentHashSchemaVersion is appended last so
// changing it invalidates every prior hash.
func ComputeContentHash(in ContentHashInput) string {
	fields := []string{
		in.Name,
		in.Description,
		in.LongDescription,
		priceString(in.Price),
		in.Currency,
		in.Category,
		in.SKU,
		strconv.FormatBool(in.InStock),
		in.URL,
	}

	if in.OnSale {
		fields = append(fields, in.RegularPrice, "on_sale")
	}

	for _, attr := range in.Attributes {
		fields = append(fields, fmt.Sprintf("%s:%s", attr.Name, strings.Join(attr.Options, ",")))
	}

	fields = append(fields, "schema:"+contentHashSchemaVersion)

	content := strings.Join(fields, "|")
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func priceString(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'f', -1, 64)
}

// SortAttributes orders attributes by name for deterministic hashing when a
// source integration does not guarantee attribute order.
func SortAttributes(attrs []ProductAttribute) []ProductAttribute {
	out := make([]ProductAttribute, len(attrs))
	copy(out, attrs)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
