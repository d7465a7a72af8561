package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/voicebroker/internal/store/postgres"
	"github.com/MrWong99/voicebroker/internal/sync/catalog"
)

// Store is the relational surface Stage A needs. Satisfied by *postgres.Store.
type Store interface {
	ExternalIDsAndHashes(ctx context.Context, agentToolID string) (map[string]string, error)
	UpsertProductsBatch(ctx context.Context, tx pgx.Tx, products []postgres.Product) error
	DeleteProductsNotIn(ctx context.Context, tx pgx.Tx, agentToolID string, keep []string) (int64, error)
	RecordSync(ctx context.Context, agentToolID string, at time.Time, count int) error
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// Syncer runs Stage A of the product sync pipeline: pull a catalog Source's
// products, diff by content hash against what's already stored, upsert the
// changed set, and (for a full sync) delete anything no longer present.
//
// Grounded on product_sync_service.py's ProductSyncService.sync_products_to_db.
type Syncer struct {
	store Store

	mu      sync.Mutex
	running map[string]bool // agent_tool_id -> sync in progress
}

// NewSyncer constructs a Stage A syncer over store.
func NewSyncer(store Store) *Syncer {
	return &Syncer{store: store, running: map[string]bool{}}
}

// Result summarizes one Stage A run.
type Result struct {
	Fetched int
	Upserted int
	Deleted  int64
	Skipped  int // duplicate external_ids dropped before diffing
}

// ErrSyncInProgress is returned when a sync is already running for the given
// agent_tool_id; callers should not retry immediately.
var ErrSyncInProgress = fmt.Errorf("sync: a sync is already running for this binding")

// Sync fetches binding's full catalog from source and reconciles it into the
// relational store. incremental, when true, passes modifiedAfter to the
// source and skips the deletion step — matching sync_products_to_db's
// distinction between a full resync (which prunes orphans) and an
// incremental refresh (which only ever adds or updates).
func (s *Syncer) Sync(ctx context.Context, binding postgres.AgentTool, source catalog.Source, incremental bool, modifiedAfter *time.Time) (Result, error) {
	if !s.tryLock(binding.ID) {
		return Result{}, ErrSyncInProgress
	}
	defer s.unlock(binding.ID)

	var filterAfter *time.Time
	if incremental {
		filterAfter = modifiedAfter
	}

	products, err := source.FetchAllProducts(ctx, filterAfter)
	if err != nil {
		return Result{}, fmt.Errorf("sync: fetch catalog: %w", err)
	}

	products, skipped := dedupeByExternalID(products)

	existing, err := s.store.ExternalIDsAndHashes(ctx, binding.ID)
	if err != nil {
		return Result{}, fmt.Errorf("sync: load existing hashes: %w", err)
	}

	var changed []postgres.Product
	keep := make([]string, 0, len(products))
	for _, p := range products {
		keep = append(keep, p.ExternalID)

		hash := ComputeContentHash(contentHashInputFor(p))
		if existing[p.ExternalID] == hash {
			continue
		}
		changed = append(changed, toStoreProduct(binding.ID, p, hash))
	}

	var deleted int64
	err = s.store.WithTx(ctx, func(tx pgx.Tx) error {
		for start := 0; start < len(changed); start += postgres.UpsertBatchSize {
			end := start + postgres.UpsertBatchSize
			if end > len(changed) {
				end = len(changed)
			}
			if err := s.store.UpsertProductsBatch(ctx, tx, changed[start:end]); err != nil {
				return err
			}
		}
		if !incremental {
			n, err := s.store.DeleteProductsNotIn(ctx, tx, binding.ID, keep)
			if err != nil {
				return err
			}
			deleted = n
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("sync: reconcile products: %w", err)
	}

	if err := s.store.RecordSync(ctx, binding.ID, time.Now(), len(products)); err != nil {
		return Result{}, fmt.Errorf("sync: record sync bookkeeping: %w", err)
	}

	return Result{Fetched: len(products), Upserted: len(changed), Deleted: deleted, Skipped: skipped}, nil
}

func (s *Syncer) tryLock(agentToolID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[agentToolID] {
		return false
	}
	s.running[agentToolID] = true
	return true
}

func (s *Syncer) unlock(agentToolID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, agentToolID)
}

// dedupeByExternalID drops earlier occurrences of a repeated external_id,
// keeping the last one seen, and logs a warning for every duplicate found —
// matching sync_products_to_db's handling of source integrations that can
// return the same product twice across pages.
func dedupeByExternalID(products []catalog.Product) ([]catalog.Product, int) {
	byID := make(map[string]int, len(products))
	order := make([]string, 0, len(products))
	skipped := 0
	for _, p := range products {
		if _, ok := byID[p.ExternalID]; ok {
			skipped++
			slog.Warn("sync: duplicate external_id in source catalog, keeping last occurrence",
				"external_id", p.ExternalID)
		} else {
			order = append(order, p.ExternalID)
		}
		byID[p.ExternalID] = -1
	}
	last := make(map[string]catalog.Product, len(products))
	for _, p := range products {
		last[p.ExternalID] = p
	}
	out := make([]catalog.Product, 0, len(order))
	for _, id := range order {
		out = append(out, last[id])
	}
	return out, skipped
}

func contentHashInputFor(p catalog.Product) ContentHashInput {
	attrs := make([]ProductAttribute, len(p.Attributes))
	for i, a := range p.Attributes {
		attrs[i] = ProductAttribute{Name: a.Name, Options: a.Options}
	}
	return ContentHashInput{
		Name:            p.Name,
		Description:     p.Description,
		LongDescription: p.LongDescription,
		Price:           p.Price,
		Currency:        p.Currency,
		Category:        p.Category,
		SKU:             p.SKU,
		InStock:         p.InStock,
		URL:             p.URL,
		OnSale:          p.OnSale,
		RegularPrice:    p.RegularPrice,
		Attributes:      SortAttributes(attrs),
	}
}

func toStoreProduct(agentToolID string, p catalog.Product, hash string) postgres.Product {
	extra := p.ExtraData
	if extra == nil {
		extra = map[string]any{}
	}
	return postgres.Product{
		AgentToolID:     agentToolID,
		ExternalID:      p.ExternalID,
		Name:            p.Name,
		Description:     p.Description,
		LongDescription: p.LongDescription,
		Price:           p.Price,
		Currency:        p.Currency,
		Category:        p.Category,
		SKU:             p.SKU,
		URL:             p.URL,
		ImageURL:        p.ImageURL,
		InStock:         p.InStock,
		ExtraData:       extra,
		ContentHash:     hash,
		SourceUpdatedAt: p.UpdatedAt,
	}
}
