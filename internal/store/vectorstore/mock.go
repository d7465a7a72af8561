package vectorstore

import (
	"context"
	"sync"
)

// Mock is an in-memory [Store] implementation used by rag and sync package tests.
type Mock struct {
	mu          sync.Mutex
	collections map[string]int // name -> dimension
	points      map[string]map[string]Point // collection -> id -> point

	// SearchResult, if non-nil, overrides Search's computed response.
	SearchResult []ScoredPoint

	EnsureCollectionErr error
	UpsertErr           error
	SearchErr           error
	ScrollErr           error
	DeleteErr           error
}

// NewMock returns a ready-to-use in-memory store.
func NewMock() *Mock {
	return &Mock{
		collections: make(map[string]int),
		points:      make(map[string]map[string]Point),
	}
}

var _ Store = (*Mock)(nil)

func (m *Mock) EnsureCollection(ctx context.Context, name string, dim int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EnsureCollectionErr != nil {
		return m.EnsureCollectionErr
	}
	if existing, ok := m.collections[name]; ok && existing != dim {
		m.points[name] = map[string]Point{}
	}
	m.collections[name] = dim
	if m.points[name] == nil {
		m.points[name] = map[string]Point{}
	}
	return nil
}

func (m *Mock) Upsert(ctx context.Context, collection string, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpsertErr != nil {
		return m.UpsertErr
	}
	if m.points[collection] == nil {
		m.points[collection] = map[string]Point{}
	}
	for _, p := range points {
		m.points[collection][p.ID] = p
	}
	return nil
}

func (m *Mock) Search(ctx context.Context, collection string, vector []float32, k int, filter Filter) ([]ScoredPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	if m.SearchResult != nil {
		return m.SearchResult, nil
	}
	var out []ScoredPoint
	for _, p := range m.points[collection] {
		if !matchesFilter(p.Payload, filter) {
			continue
		}
		out = append(out, ScoredPoint{ID: p.ID, Score: 1.0, Payload: p.Payload})
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

func (m *Mock) Scroll(ctx context.Context, collection string, filter Filter, limit int) ([]Point, string, error) {
	return m.ScrollFrom(ctx, collection, filter, limit, "")
}

func (m *Mock) ScrollFrom(ctx context.Context, collection string, filter Filter, limit int, offset string) ([]Point, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ScrollErr != nil {
		return nil, "", m.ScrollErr
	}
	var out []Point
	for _, p := range m.points[collection] {
		if matchesFilter(p.Payload, filter) {
			out = append(out, p)
		}
	}
	return out, "", nil
}

func (m *Mock) Delete(ctx context.Context, collection string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	for _, id := range ids {
		delete(m.points[collection], id)
	}
	return nil
}

func matchesFilter(payload map[string]any, filter Filter) bool {
	for k, v := range filter {
		pv, ok := payload[k].(string)
		if !ok || pv != v {
			return false
		}
	}
	return true
}
