// Package rag implements the RAG Retriever: given a query string, it
// embeds it, fetches the top-k nearest contexts from the vector store, and
// synthesizes the system-prompt addition the turn orchestrator splices in.
package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/voicebroker/internal/store/vectorstore"
	"github.com/MrWong99/voicebroker/pkg/provider/embeddings"
)

// CatalogHeading is the literal heading the turn orchestrator requires verbatim
// when splicing retrieved context into the system prompt — the model's
// product-question policy keys off this exact string.
const CatalogHeading = "## Product Catalog (use this to answer product questions):"

// DefaultTopK is the default number of contexts returned per query.
const DefaultTopK = 5

// Context is a single retrieved snippet ordered by decreasing relevance.
type Context struct {
	Text    string
	Score   float32
	Payload map[string]any
}

// Retriever is stateless given its embedder, vector store, and target
// collection — it holds no per-session state so a single instance is shared
// across all sessions/agents whose rag_config points at the same collection.
type Retriever struct {
	embedder   embeddings.Provider
	store      vectorstore.Store
	collection string
	topK       int
}

// New creates a Retriever against collection, using embedder to vectorize
// queries and store to search. topK of 0 uses [DefaultTopK].
func New(embedder embeddings.Provider, store vectorstore.Store, collection string, topK int) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Retriever{embedder: embedder, store: store, collection: collection, topK: topK}
}

// EnsureCollection verifies the backing collection exists with the embedder's
// dimension, recreating it (destructively, per the vector store contract) on
// a dimension mismatch.
func (r *Retriever) EnsureCollection(ctx context.Context) error {
	if err := r.store.EnsureCollection(ctx, r.collection, r.embedder.Dimensions()); err != nil {
		return fmt.Errorf("rag: ensure collection %q: %w", r.collection, err)
	}
	return nil
}

// BuildQuery assembles the RAG query from the last up-to-three user messages,
// most-recent-wins order, joined by a single space. Returns "" if messages is
// empty, signalling the caller should skip retrieval.
func BuildQuery(recentUserMessages []string) string {
	n := len(recentUserMessages)
	if n == 0 {
		return ""
	}
	if n > 3 {
		recentUserMessages = recentUserMessages[n-3:]
	}
	return strings.Join(recentUserMessages, " ")
}

// Retrieve embeds query and returns the top-k contexts ordered by decreasing
// score. namespace, if non-empty, restricts the search via the vector
// store's payload filter.
func (r *Retriever) Retrieve(ctx context.Context, query string, namespace string) ([]Context, error) {
	if query == "" {
		return nil, nil
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("rag: embed query: %w", err)
	}

	var filter vectorstore.Filter
	if namespace != "" {
		filter = vectorstore.Filter{"namespace": namespace}
	}

	scored, err := r.store.Search(ctx, r.collection, vec, r.topK, filter)
	if err != nil {
		return nil, fmt.Errorf("rag: search collection %q: %w", r.collection, err)
	}

	out := make([]Context, len(scored))
	for i, s := range scored {
		text, _ := s.Payload["text"].(string)
		out[i] = Context{Text: text, Score: s.Score, Payload: s.Payload}
	}
	return out, nil
}

// SynthesizeSystemPrompt builds the full system prompt the turn orchestrator
// sends to the LLM: the agent's template, plus the catalog heading and joined
// context text when contexts is non-empty. If contexts is empty, basePrompt
// is returned unchanged.
func SynthesizeSystemPrompt(basePrompt string, contexts []Context) string {
	if len(contexts) == 0 {
		return basePrompt
	}
	texts := make([]string, 0, len(contexts))
	for _, c := range contexts {
		if c.Text != "" {
			texts = append(texts, c.Text)
		}
	}
	if len(texts) == 0 {
		return basePrompt
	}
	return basePrompt + "\n\n" + CatalogHeading + "\n" + strings.Join(texts, "\n")
}
