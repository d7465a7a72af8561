package sync

import (
	"context"
	"sync"
	"testing"

	"github.com/MrWong99/voicebroker/internal/store/postgres"
	"github.com/MrWong99/voicebroker/internal/store/vectorstore"
	embmock "github.com/MrWong99/voicebroker/pkg/provider/embeddings/mock"
)

type fakeRelationalStore struct {
	mu        sync.Mutex
	pending   []postgres.Product
	indexed   map[int64]string
	pointIDs  []string
}

func newFakeRelationalStore(pending []postgres.Product) *fakeRelationalStore {
	return &fakeRelationalStore{pending: pending, indexed: map[int64]string{}}
}

func (f *fakeRelationalStore) UnindexedProducts(ctx context.Context, agentToolID string, limit int) ([]postgres.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit > len(f.pending) {
		limit = len(f.pending)
	}
	batch := f.pending[:limit]
	f.pending = f.pending[limit:]
	return batch, nil
}

func (f *fakeRelationalStore) MarkIndexed(ctx context.Context, productID int64, qdrantPointID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed[productID] = qdrantPointID
	return nil
}

func (f *fakeRelationalStore) IndexedPointIDs(ctx context.Context, agentToolID string) ([]string, error) {
	return f.pointIDs, nil
}

func TestEmbedder_EmbedPending_EmbedsAndMarksEachProduct(t *testing.T) {
	pending := []postgres.Product{
		{ID: 1, AgentToolID: "at-1", ExternalID: "p1", Name: "Widget", InStock: true},
		{ID: 2, AgentToolID: "at-1", ExternalID: "p2", Name: "Gadget", InStock: true},
	}
	relational := newFakeRelationalStore(pending)
	vectors := vectorstore.NewMock()
	embedder := &embmock.Provider{DimensionsValue: 3, EmbedBatchResult: [][]float32{{0.1, 0.2, 0.3}, {0.4, 0.5, 0.6}}}

	e := NewEmbedder(relational, vectors, embedder, "products")
	result, err := e.EmbedPending(context.Background(), "agent-1", "at-1", 10)
	if err != nil {
		t.Fatalf("EmbedPending: %v", err)
	}
	if result.Embedded != 2 {
		t.Fatalf("expected 2 embedded, got %d", result.Embedded)
	}
	if len(relational.indexed) != 2 {
		t.Fatalf("expected 2 products marked indexed, got %d", len(relational.indexed))
	}

	wantID := PointID("agent-1", "p1")
	if relational.indexed[1] != wantID {
		t.Fatalf("expected point id %q for product 1, got %q", wantID, relational.indexed[1])
	}

	points, _, err := vectors.Scroll(context.Background(), "products", vectorstore.Filter{}, 10)
	if err != nil {
		t.Fatalf("Scroll: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("expected 2 points upserted, got %d", len(points))
	}
	for _, p := range points {
		if p.Payload["source"] != SyncSource("agent-1") {
			t.Fatalf("expected source payload tag, got %+v", p.Payload)
		}
	}
}

func TestEmbedder_EmbedPending_StopsWhenNothingPending(t *testing.T) {
	relational := newFakeRelationalStore(nil)
	vectors := vectorstore.NewMock()
	embedder := &embmock.Provider{DimensionsValue: 3}

	e := NewEmbedder(relational, vectors, embedder, "products")
	result, err := e.EmbedPending(context.Background(), "agent-1", "at-1", 10)
	if err != nil {
		t.Fatalf("EmbedPending: %v", err)
	}
	if result.Embedded != 0 {
		t.Fatalf("expected 0 embedded, got %d", result.Embedded)
	}
}

func TestEmbedder_EmbedPending_PropagatesEmbedError(t *testing.T) {
	relational := newFakeRelationalStore([]postgres.Product{{ID: 1, ExternalID: "p1", Name: "Widget"}})
	vectors := vectorstore.NewMock()
	embedder := &embmock.Provider{DimensionsValue: 3, EmbedBatchErr: errEmbed}

	e := NewEmbedder(relational, vectors, embedder, "products")
	if _, err := e.EmbedPending(context.Background(), "agent-1", "at-1", 10); err == nil {
		t.Fatal("expected error, got nil")
	}
	if len(relational.indexed) != 0 {
		t.Fatalf("expected nothing marked indexed on embed error, got %d", len(relational.indexed))
	}
}

type testError string

func (e testError) Error() string { return string(e) }

var errEmbed = testError("embed failed")
