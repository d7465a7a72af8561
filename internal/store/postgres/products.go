package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// UpsertBatchSize is the number of products written per transaction during
// Stage A of the product sync pipeline.
const UpsertBatchSize = 100

const productColumns = `
	id, agent_tool_id, external_id, name, description, long_description, price,
	currency, category, sku, url, image_url, in_stock, extra_data, content_hash,
	rag_indexed, rag_indexed_at, COALESCE(qdrant_point_id, ''), source_updated_at,
	created_at, updated_at`

func scanProduct(row pgx.Row) (*Product, error) {
	var p Product
	var extra []byte
	if err := row.Scan(&p.ID, &p.AgentToolID, &p.ExternalID, &p.Name, &p.Description,
		&p.LongDescription, &p.Price, &p.Currency, &p.Category, &p.SKU, &p.URL, &p.ImageURL,
		&p.InStock, &extra, &p.ContentHash, &p.RAGIndexed, &p.RAGIndexedAt, &p.QdrantPointID,
		&p.SourceUpdatedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: scan product: %w", err)
	}
	m, err := unmarshalJSON(extra)
	if err != nil {
		return nil, err
	}
	p.ExtraData = m
	return &p, nil
}

// ExternalIDsAndHashes returns external_id -> content_hash for every product
// already stored under an agent_tool. Stage A diffs the freshly fetched
// catalog against this map to decide which rows are new, changed, or
// unchanged, without pulling full rows across the wire.
func (s *Store) ExternalIDsAndHashes(ctx context.Context, agentToolID string) (map[string]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT external_id, content_hash FROM products WHERE agent_tool_id = $1`, agentToolID)
	if err != nil {
		return nil, fmt.Errorf("postgres: external ids and hashes: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var extID, hash string
		if err := rows.Scan(&extID, &hash); err != nil {
			return nil, err
		}
		out[extID] = hash
	}
	return out, rows.Err()
}

// UpsertProductsBatch inserts or updates up to UpsertBatchSize products in a
// single transaction, keyed by (agent_tool_id, external_id). A changed
// content_hash clears rag_indexed so Stage B re-embeds the row.
func (s *Store) UpsertProductsBatch(ctx context.Context, tx pgx.Tx, products []Product) error {
	if len(products) > UpsertBatchSize {
		return fmt.Errorf("postgres: upsert batch: %d products exceeds max batch size %d", len(products), UpsertBatchSize)
	}
	for _, p := range products {
		extra, err := marshalJSON(p.ExtraData)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO products
				(agent_tool_id, external_id, name, description, long_description, price,
				 currency, category, sku, url, image_url, in_stock, extra_data, content_hash,
				 source_updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (agent_tool_id, external_id) DO UPDATE SET
				name = EXCLUDED.name,
				description = EXCLUDED.description,
				long_description = EXCLUDED.long_description,
				price = EXCLUDED.price,
				currency = EXCLUDED.currency,
				category = EXCLUDED.category,
				sku = EXCLUDED.sku,
				url = EXCLUDED.url,
				image_url = EXCLUDED.image_url,
				in_stock = EXCLUDED.in_stock,
				extra_data = EXCLUDED.extra_data,
				content_hash = EXCLUDED.content_hash,
				source_updated_at = EXCLUDED.source_updated_at,
				rag_indexed = CASE WHEN products.content_hash = EXCLUDED.content_hash
					THEN products.rag_indexed ELSE false END,
				updated_at = now()`,
			p.AgentToolID, p.ExternalID, p.Name, p.Description, p.LongDescription, p.Price,
			p.Currency, p.Category, p.SKU, p.URL, p.ImageURL, p.InStock, extra, p.ContentHash,
			p.SourceUpdatedAt)
		if err != nil {
			return fmt.Errorf("postgres: upsert product %q: %w", p.ExternalID, err)
		}
	}
	return nil
}

// DeleteProductsNotIn removes every product under agentToolID whose
// external_id is not in keep. Called only after a full (non-incremental)
// sync, per the Stage A deletion rule.
func (s *Store) DeleteProductsNotIn(ctx context.Context, tx pgx.Tx, agentToolID string, keep []string) (int64, error) {
	tag, err := tx.Exec(ctx, `
		DELETE FROM products WHERE agent_tool_id = $1 AND NOT (external_id = ANY($2))`,
		agentToolID, keep)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete orphan products: %w", err)
	}
	return tag.RowsAffected(), nil
}

// UnindexedProducts returns up to limit products under agentToolID that have
// not yet been embedded into the vector store, oldest first. Stage B's
// working set.
func (s *Store) UnindexedProducts(ctx context.Context, agentToolID string, limit int) ([]Product, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE agent_tool_id = $1 AND NOT rag_indexed
		ORDER BY id
		LIMIT $2`, agentToolID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: unindexed products: %w", err)
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// MarkIndexed records that a product was embedded and upserted into the
// vector store under the given point ID.
func (s *Store) MarkIndexed(ctx context.Context, productID int64, qdrantPointID string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE products SET rag_indexed = true, rag_indexed_at = now(),
			qdrant_point_id = $2, updated_at = now()
		WHERE id = $1`, productID, qdrantPointID)
	if err != nil {
		return fmt.Errorf("postgres: mark indexed: %w", err)
	}
	return nil
}

// IndexedPointIDs returns every qdrant_point_id currently recorded for
// agentToolID. Stage C compares this set against what the vector store
// actually holds to find orphaned points.
func (s *Store) IndexedPointIDs(ctx context.Context, agentToolID string) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT qdrant_point_id FROM products
		WHERE agent_tool_id = $1 AND rag_indexed AND qdrant_point_id IS NOT NULL`, agentToolID)
	if err != nil {
		return nil, fmt.Errorf("postgres: indexed point ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// GetProductByExternalID fetches one product by its natural key. Returns
// nil, nil if not found.
func (s *Store) GetProductByExternalID(ctx context.Context, agentToolID, externalID string) (*Product, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+productColumns+`
		FROM products WHERE agent_tool_id = $1 AND external_id = $2`, agentToolID, externalID)
	return scanProduct(row)
}

// CountProducts returns the number of rows stored for agentToolID.
func (s *Store) CountProducts(ctx context.Context, agentToolID string) (int, error) {
	row := s.db.QueryRow(ctx, `SELECT count(*) FROM products WHERE agent_tool_id = $1`, agentToolID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count products: %w", err)
	}
	return n, nil
}
