// Package vectorstore defines the contract consumed by the RAG Retriever and
// the product sync pipeline's Stage B/C, plus a Qdrant-backed REST
// implementation.
//
// No official Qdrant Go SDK is imported anywhere in the retrieval pack —
// lookatitude-beluga-ai's own Qdrant store hand-rolls a plain net/http +
// encoding/json client against Qdrant's REST API, which is the precedent
// this package follows.
package vectorstore

import "context"

// Point is a single vector with an associated payload, as stored or returned
// by the vector store.
type Point struct {
	// ID is the point's identifier. For product sync, this is a
	// deterministic UUID derived from (agent_id, external_id) so
	// re-embedding overwrites in place.
	ID string

	// Vector is the embedding, matching the collection's configured dimension.
	Vector []float32

	// Payload carries arbitrary metadata alongside the vector
	// (text, namespace, source, product_id, ...).
	Payload map[string]any
}

// ScoredPoint is a Point annotated with a similarity score, as returned by Search.
type ScoredPoint struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// Filter restricts a Search or Scroll to points whose payload matches every
// key/value pair. An empty Filter matches every point.
type Filter map[string]string

// Store is the vector store contract consumed by the RAG retriever and the
// product sync pipeline.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// EnsureCollection creates the named collection with the given vector
	// dimension if it does not already exist. If it exists with a different
	// dimension, implementations may recreate it (destructive) — callers
	// should log when that happens.
	EnsureCollection(ctx context.Context, name string, dim int) error

	// Upsert writes or overwrites points by ID.
	Upsert(ctx context.Context, collection string, points []Point) error

	// Search returns the k nearest points to vector, optionally restricted by filter.
	Search(ctx context.Context, collection string, vector []float32, k int, filter Filter) ([]ScoredPoint, error)

	// Scroll returns the first page of points matching filter. nextOffset is
	// opaque; pass it to ScrollFrom for the next page. A returned empty
	// nextOffset means there are no more pages.
	Scroll(ctx context.Context, collection string, filter Filter, limit int) (points []Point, nextOffset string, err error)

	// ScrollFrom resumes a Scroll from a non-empty offset returned by a
	// previous call.
	ScrollFrom(ctx context.Context, collection string, filter Filter, limit int, offset string) (points []Point, nextOffset string, err error)

	// Delete removes points by ID. Deleting a non-existent ID is not an error.
	Delete(ctx context.Context, collection string, ids []string) error
}
