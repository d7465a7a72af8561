package vectorstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Postgres is a [Store] implementation backed by PostgreSQL's pgvector
// extension, for deployments that keep the catalogue embeddings in the same
// database as the agent/product rows (internal/store/postgres) instead of
// standing up a separate Qdrant instance. It speaks pgx directly, the same
// driver internal/store/postgres uses, and encodes vectors with
// github.com/pgvector/pgvector-go's Vector type rather than hand-formatting
// the "[1,2,3]" literal pgvector's text input format expects.
//
// Collections map to one table each, named "vs_<collection>"; Payload keys
// are stored in a single JSONB column since the product sync pipeline's
// filters are a handful of known string fields, not a query language.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres wraps an existing pgxpool.Pool. The extension itself
// (CREATE EXTENSION IF NOT EXISTS vector) is created lazily by
// EnsureCollection, mirroring Qdrant's create-on-first-use behavior.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func tableName(collection string) string {
	return "vs_" + strings.ReplaceAll(collection, "-", "_")
}

// EnsureCollection creates the extension and the collection's table if
// missing. Unlike Qdrant, an existing table with a mismatched vector
// dimension is left alone — ALTER COLUMN TYPE on a populated pgvector column
// requires a rewrite callers should run as an explicit migration, not a
// silent drop-and-recreate.
func (p *Postgres) EnsureCollection(ctx context.Context, name string, dim int) error {
	if _, err := p.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("vectorstore: pgvector: create extension: %w", err)
	}
	tbl := tableName(name)
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		embedding vector(%d) NOT NULL,
		payload JSONB NOT NULL DEFAULT '{}'::jsonb
	)`, tbl, dim)
	if _, err := p.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("vectorstore: pgvector: create table %q: %w", tbl, err)
	}
	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)`, tbl, tbl)
	if _, err := p.pool.Exec(ctx, idx); err != nil {
		return fmt.Errorf("vectorstore: pgvector: create index on %q: %w", tbl, err)
	}
	return nil
}

// Upsert writes or overwrites points by ID.
func (p *Postgres) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	tbl := tableName(collection)
	batch := &pgx.Batch{}
	for _, pt := range points {
		vec := pgvector.NewVector(pt.Vector)
		batch.Queue(
			fmt.Sprintf(`INSERT INTO %s (id, embedding, payload) VALUES ($1, $2, $3)
				ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding, payload = EXCLUDED.payload`, tbl),
			pt.ID, vec, payloadJSON(pt.Payload),
		)
	}
	br := p.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range points {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("vectorstore: pgvector: upsert into %q: %w", tbl, err)
		}
	}
	return nil
}

// Search returns the k nearest points to vector by cosine distance,
// optionally restricted by filter.
func (p *Postgres) Search(ctx context.Context, collection string, vector []float32, k int, filter Filter) ([]ScoredPoint, error) {
	tbl := tableName(collection)
	where, args := buildWhere(filter, 2)
	query := fmt.Sprintf(`SELECT id, payload, 1 - (embedding <=> $1) AS score FROM %s %s ORDER BY embedding <=> $1 LIMIT $%d`,
		tbl, where, len(args)+2)
	args = append([]any{pgvector.NewVector(vector)}, args...)
	args = append(args, k)

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: pgvector: search %q: %w", tbl, err)
	}
	defer rows.Close()

	var out []ScoredPoint
	for rows.Next() {
		var sp ScoredPoint
		var payload map[string]any
		if err := rows.Scan(&sp.ID, &payload, &sp.Score); err != nil {
			return nil, fmt.Errorf("vectorstore: pgvector: scan search row: %w", err)
		}
		sp.Payload = payload
		out = append(out, sp)
	}
	return out, rows.Err()
}

// Scroll pages through every point matching filter, starting at the beginning.
func (p *Postgres) Scroll(ctx context.Context, collection string, filter Filter, limit int) ([]Point, string, error) {
	return p.ScrollFrom(ctx, collection, filter, limit, "")
}

// ScrollFrom resumes a Scroll from a non-empty offset, a base-10 row count
// returned by a previous call (LIMIT/OFFSET pagination ordered by id).
func (p *Postgres) ScrollFrom(ctx context.Context, collection string, filter Filter, limit int, offset string) ([]Point, string, error) {
	tbl := tableName(collection)
	off := 0
	if offset != "" {
		parsed, err := strconv.Atoi(offset)
		if err != nil {
			return nil, "", fmt.Errorf("vectorstore: pgvector: invalid offset %q: %w", offset, err)
		}
		off = parsed
	}

	where, args := buildWhere(filter, 1)
	query := fmt.Sprintf(`SELECT id, embedding, payload FROM %s %s ORDER BY id LIMIT $%d OFFSET $%d`,
		tbl, where, len(args)+1, len(args)+2)
	args = append(args, limit, off)

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("vectorstore: pgvector: scroll %q: %w", tbl, err)
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var pt Point
		var vec pgvector.Vector
		var payload map[string]any
		if err := rows.Scan(&pt.ID, &vec, &payload); err != nil {
			return nil, "", fmt.Errorf("vectorstore: pgvector: scan scroll row: %w", err)
		}
		pt.Vector = vec.Slice()
		pt.Payload = payload
		points = append(points, pt)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	next := ""
	if len(points) == limit {
		next = strconv.Itoa(off + limit)
	}
	return points, next, nil
}

// Delete removes points by ID.
func (p *Postgres) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tbl := tableName(collection)
	if _, err := p.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, tbl), ids); err != nil {
		return fmt.Errorf("vectorstore: pgvector: delete %d points from %q: %w", len(ids), tbl, err)
	}
	return nil
}

// buildWhere renders filter as a "WHERE payload->>'k' = $n" clause, with
// placeholders starting at startAt. Returns an empty clause for an empty
// filter.
func buildWhere(filter Filter, startAt int) (string, []any) {
	if len(filter) == 0 {
		return "", nil
	}
	clauses := make([]string, 0, len(filter))
	args := make([]any, 0, len(filter))
	i := startAt
	for k, v := range filter {
		clauses = append(clauses, fmt.Sprintf(`payload->>'%s' = $%d`, k, i))
		args = append(args, v)
		i++
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func payloadJSON(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
