package sync

import (
	"context"
	"fmt"

	"github.com/MrWong99/voicebroker/internal/store/vectorstore"
)

// orphanScrollPageSize is the page size used when scrolling a collection to
// find points tagged with a sync source that the relational store no longer
// references.
const orphanScrollPageSize = 500

// Orphans runs Stage C of the product sync pipeline: any vector point
// tagged with this agent's sync source that the relational store's
// qdrant_point_id column no longer references is a leftover from a deletion
// a full Stage A sync already applied relationally, and gets removed here.
//
// Grounded on product_rag_manager.py's cleanup pass, which scrolls a
// collection filtered by source and diffs against the DB's known IDs rather
// than tracking deletions directly, since Stage A's DELETE doesn't know the
// corresponding vector point ID once the row is gone.
type Orphans struct {
	relational RelationalStore
	vectors    vectorstore.Store
	collection string
}

// NewOrphans constructs a Stage C orphan cleaner.
func NewOrphans(relational RelationalStore, vectors vectorstore.Store, collection string) *Orphans {
	return &Orphans{relational: relational, vectors: vectors, collection: collection}
}

// OrphanResult summarizes one Stage C run.
type OrphanResult struct {
	Deleted int
}

// Clean removes vector points tagged source=SyncSource(agentID) that are not
// among agentToolID's currently indexed point IDs.
func (o *Orphans) Clean(ctx context.Context, agentID, agentToolID string) (OrphanResult, error) {
	known, err := o.relational.IndexedPointIDs(ctx, agentToolID)
	if err != nil {
		return OrphanResult{}, fmt.Errorf("sync: load indexed point ids: %w", err)
	}
	keep := make(map[string]bool, len(known))
	for _, id := range known {
		keep[id] = true
	}

	filter := vectorstore.Filter{"source": SyncSource(agentID)}

	var toDelete []string
	offset := ""
	for {
		points, next, err := o.vectors.ScrollFrom(ctx, o.collection, filter, orphanScrollPageSize, offset)
		if err != nil {
			return OrphanResult{}, fmt.Errorf("sync: scroll collection: %w", err)
		}
		for _, p := range points {
			if !keep[p.ID] {
				toDelete = append(toDelete, p.ID)
			}
		}
		if next == "" {
			break
		}
		offset = next
	}

	if len(toDelete) == 0 {
		return OrphanResult{}, nil
	}
	if err := o.vectors.Delete(ctx, o.collection, toDelete); err != nil {
		return OrphanResult{}, fmt.Errorf("sync: delete orphaned points: %w", err)
	}
	return OrphanResult{Deleted: len(toDelete)}, nil
}
