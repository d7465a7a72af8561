package sync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/voicebroker/internal/observe"
	"github.com/MrWong99/voicebroker/internal/store/postgres"
	"github.com/MrWong99/voicebroker/internal/store/vectorstore"
	"github.com/MrWong99/voicebroker/pkg/provider/embeddings"
)

// EmbedBatchSize is the number of products embedded per provider call during
// Stage B.
const EmbedBatchSize = 50

// RelationalStore is the subset of Stage B/C's relational surface.
type RelationalStore interface {
	UnindexedProducts(ctx context.Context, agentToolID string, limit int) ([]postgres.Product, error)
	MarkIndexed(ctx context.Context, productID int64, qdrantPointID string) error
	IndexedPointIDs(ctx context.Context, agentToolID string) ([]string, error)
}

// Embedder runs Stage B of the product sync pipeline: embed every relational
// row not yet indexed and upsert it into the vector store under a
// deterministic point ID.
//
// Grounded on product_rag_manager.py's indexing loop (batch embedding,
// name-based point IDs, payload tagging for Stage C's orphan scroll).
type Embedder struct {
	relational RelationalStore
	vectors    vectorstore.Store
	embedder   embeddings.Provider
	collection string
}

// NewEmbedder constructs a Stage B embedder. collection is the vector store
// collection backing this agent's RAG config.
func NewEmbedder(relational RelationalStore, vectors vectorstore.Store, embedder embeddings.Provider, collection string) *Embedder {
	return &Embedder{relational: relational, vectors: vectors, embedder: embedder, collection: collection}
}

// EmbedResult summarizes one Stage B run.
type EmbedResult struct {
	Embedded int
}

// EmbedPending embeds up to limit unindexed products for agentID/binding and
// upserts them into the vector store, working in batches of EmbedBatchSize.
// agentID seeds point IDs and must be the owning Agent's ID, not the
// AgentTool's ID — see [PointID].
func (e *Embedder) EmbedPending(ctx context.Context, agentID, agentToolID string, limit int) (EmbedResult, error) {
	if err := e.vectors.EnsureCollection(ctx, e.collection, e.embedder.Dimensions()); err != nil {
		return EmbedResult{}, fmt.Errorf("sync: ensure collection: %w", err)
	}

	var total int
	for total < limit {
		batchLimit := EmbedBatchSize
		if remaining := limit - total; remaining < batchLimit {
			batchLimit = remaining
		}

		products, err := e.relational.UnindexedProducts(ctx, agentToolID, batchLimit)
		if err != nil {
			return EmbedResult{}, fmt.Errorf("sync: load unindexed products: %w", err)
		}
		if len(products) == 0 {
			break
		}

		start := time.Now()
		texts := make([]string, len(products))
		for i, p := range products {
			texts[i] = embedText(p)
		}
		vecs, err := e.embedder.EmbedBatch(ctx, texts)
		observe.DefaultMetrics().EmbedDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			return EmbedResult{}, fmt.Errorf("sync: embed batch: %w", err)
		}

		points := make([]vectorstore.Point, len(products))
		for i, p := range products {
			points[i] = vectorstore.Point{
				ID:     PointID(agentID, p.ExternalID),
				Vector: vecs[i],
				Payload: map[string]any{
					"text":        texts[i],
					"namespace":   "products",
					"source":      SyncSource(agentID),
					"product_id":  p.ID,
					"external_id": p.ExternalID,
					"name":        p.Name,
				},
			}
		}
		if err := e.vectors.Upsert(ctx, e.collection, points); err != nil {
			return EmbedResult{}, fmt.Errorf("sync: upsert embeddings: %w", err)
		}

		for i, p := range products {
			if err := e.relational.MarkIndexed(ctx, p.ID, points[i].ID); err != nil {
				return EmbedResult{}, fmt.Errorf("sync: mark indexed: %w", err)
			}
		}

		total += len(products)
	}

	return EmbedResult{Embedded: total}, nil
}

// embedText renders a product into the flat text representation that gets
// embedded and later spliced into a turn's system prompt verbatim.
func embedText(p postgres.Product) string {
	var b strings.Builder
	b.WriteString(p.Name)
	if p.Description != "" {
		b.WriteString(". ")
		b.WriteString(p.Description)
	}
	if p.Category != "" {
		b.WriteString(" Category: ")
		b.WriteString(p.Category)
	}
	if p.Price != nil {
		fmt.Fprintf(&b, " Price: %.2f %s", *p.Price, p.Currency)
	}
	if p.InStock {
		b.WriteString(" In stock.")
	} else {
		b.WriteString(" Out of stock.")
	}
	return b.String()
}
