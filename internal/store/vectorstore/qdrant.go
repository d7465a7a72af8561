package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Qdrant is a REST-backed [Store] implementation speaking the Qdrant HTTP
// API directly — the same shape as lookatitude-beluga-ai's hand-rolled
// qdrant_store.go, since no repo in the retrieval pack imports an official
// Qdrant Go SDK.
type Qdrant struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewQdrant creates a client against a Qdrant instance at baseURL
// (e.g. "http://localhost:6333"). apiKey may be empty for unauthenticated
// deployments.
func NewQdrant(baseURL, apiKey string) *Qdrant {
	return &Qdrant{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

var _ Store = (*Qdrant)(nil)

type qdrantVectorParams struct {
	Size     int    `json:"size"`
	Distance string `json:"distance"`
}

type qdrantCreateCollectionRequest struct {
	Vectors qdrantVectorParams `json:"vectors"`
}

type qdrantCollectionInfoResponse struct {
	Result struct {
		Config struct {
			Params struct {
				Vectors qdrantVectorParams `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

// EnsureCollection creates name with dim if it does not exist. If it exists
// with a different vector size, it is dropped and recreated — destructive,
// callers should log this.
func (q *Qdrant) EnsureCollection(ctx context.Context, name string, dim int) error {
	var info qdrantCollectionInfoResponse
	status, err := q.do(ctx, http.MethodGet, "/collections/"+name, nil, &info)
	if err != nil {
		return fmt.Errorf("vectorstore: get collection %q: %w", name, err)
	}
	if status == http.StatusOK {
		if info.Result.Config.Params.Vectors.Size == dim {
			return nil
		}
		if _, err := q.do(ctx, http.MethodDelete, "/collections/"+name, nil, nil); err != nil {
			return fmt.Errorf("vectorstore: recreate collection %q (dimension mismatch %d != %d): %w",
				name, info.Result.Config.Params.Vectors.Size, dim, err)
		}
	}
	req := qdrantCreateCollectionRequest{Vectors: qdrantVectorParams{Size: dim, Distance: "Cosine"}}
	if _, err := q.do(ctx, http.MethodPut, "/collections/"+name, req, nil); err != nil {
		return fmt.Errorf("vectorstore: create collection %q: %w", name, err)
	}
	return nil
}

type qdrantPointPayload struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload,omitempty"`
}

type qdrantUpsertRequest struct {
	Points []qdrantPointPayload `json:"points"`
}

// Upsert writes or overwrites points by ID.
func (q *Qdrant) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	req := qdrantUpsertRequest{Points: make([]qdrantPointPayload, len(points))}
	for i, p := range points {
		req.Points[i] = qdrantPointPayload{ID: p.ID, Vector: p.Vector, Payload: p.Payload}
	}
	if _, err := q.do(ctx, http.MethodPut, "/collections/"+collection+"/points?wait=true", req, nil); err != nil {
		return fmt.Errorf("vectorstore: upsert %d points into %q: %w", len(points), collection, err)
	}
	return nil
}

type qdrantCondition struct {
	Key   string `json:"key"`
	Match struct {
		Value string `json:"value"`
	} `json:"match"`
}

func buildFilter(filter Filter) map[string]any {
	if len(filter) == 0 {
		return nil
	}
	must := make([]qdrantCondition, 0, len(filter))
	for k, v := range filter {
		c := qdrantCondition{Key: k}
		c.Match.Value = v
		must = append(must, c)
	}
	return map[string]any{"must": must}
}

type qdrantSearchRequest struct {
	Vector      []float32      `json:"vector"`
	Limit       int            `json:"limit"`
	WithPayload bool           `json:"with_payload"`
	Filter      map[string]any `json:"filter,omitempty"`
}

type qdrantSearchResponse struct {
	Result []struct {
		ID      string         `json:"id"`
		Score   float32        `json:"score"`
		Payload map[string]any `json:"payload"`
	} `json:"result"`
}

// Search returns the k nearest points to vector, optionally restricted by filter.
func (q *Qdrant) Search(ctx context.Context, collection string, vector []float32, k int, filter Filter) ([]ScoredPoint, error) {
	req := qdrantSearchRequest{Vector: vector, Limit: k, WithPayload: true, Filter: buildFilter(filter)}
	var resp qdrantSearchResponse
	if _, err := q.do(ctx, http.MethodPost, "/collections/"+collection+"/points/search", req, &resp); err != nil {
		return nil, fmt.Errorf("vectorstore: search %q: %w", collection, err)
	}
	out := make([]ScoredPoint, len(resp.Result))
	for i, r := range resp.Result {
		out[i] = ScoredPoint{ID: r.ID, Score: r.Score, Payload: r.Payload}
	}
	return out, nil
}

type qdrantScrollRequest struct {
	Filter      map[string]any `json:"filter,omitempty"`
	Limit       int            `json:"limit"`
	Offset      string         `json:"offset,omitempty"`
	WithPayload bool           `json:"with_payload"`
	WithVector  bool           `json:"with_vector"`
}

type qdrantScrollResponse struct {
	Result struct {
		Points []struct {
			ID      string         `json:"id"`
			Payload map[string]any `json:"payload"`
			Vector  []float32      `json:"vector"`
		} `json:"points"`
		NextPageOffset *string `json:"next_page_offset"`
	} `json:"result"`
}

// Scroll pages through every point matching filter, starting at the beginning.
func (q *Qdrant) Scroll(ctx context.Context, collection string, filter Filter, limit int) ([]Point, string, error) {
	return q.ScrollFrom(ctx, collection, filter, limit, "")
}

// ScrollFrom resumes a Scroll from a non-empty offset.
func (q *Qdrant) ScrollFrom(ctx context.Context, collection string, filter Filter, limit int, offset string) ([]Point, string, error) {
	req := qdrantScrollRequest{Filter: buildFilter(filter), Limit: limit, Offset: offset, WithPayload: true, WithVector: true}
	var resp qdrantScrollResponse
	if _, err := q.do(ctx, http.MethodPost, "/collections/"+collection+"/points/scroll", req, &resp); err != nil {
		return nil, "", fmt.Errorf("vectorstore: scroll %q: %w", collection, err)
	}
	points := make([]Point, len(resp.Result.Points))
	for i, p := range resp.Result.Points {
		points[i] = Point{ID: p.ID, Vector: p.Vector, Payload: p.Payload}
	}
	next := ""
	if resp.Result.NextPageOffset != nil {
		next = *resp.Result.NextPageOffset
	}
	return points, next, nil
}

type qdrantDeleteRequest struct {
	Points []string `json:"points"`
}

// Delete removes points by ID.
func (q *Qdrant) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	req := qdrantDeleteRequest{Points: ids}
	if _, err := q.do(ctx, http.MethodPost, "/collections/"+collection+"/points/delete?wait=true", req, nil); err != nil {
		return fmt.Errorf("vectorstore: delete %d points from %q: %w", len(ids), collection, err)
	}
	return nil
}

// do issues an HTTP request against the Qdrant API and decodes the JSON
// response into out (if non-nil). Returns the HTTP status code so callers
// like EnsureCollection can distinguish "not found" from a real error.
func (q *Qdrant) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("vectorstore: marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("vectorstore: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	resp, err := q.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("vectorstore: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		b, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("vectorstore: %s %s: status %d: %s", method, path, resp.StatusCode, string(b))
	}
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("vectorstore: decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
