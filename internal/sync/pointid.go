package sync

import (
	"fmt"

	"github.com/google/uuid"
)

// PointID derives a deterministic vector-store point ID for a product, so
// re-embedding the same (agentID, externalID) pair always overwrites the
// same point rather than leaking a duplicate (DESIGN NOTES: name-based UUID
// scheme, mirroring product_rag_manager.py's
// uuid5(NAMESPACE_URL, f"product:{agent_id}:{product.external_id}")).
func PointID(agentID, externalID string) string {
	seed := fmt.Sprintf("product:%s:%s", agentID, externalID)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(seed)).String()
}

// SyncSource is the payload tag identifying which agent's product sync wrote
// a given vector point, used by Stage C to scope orphan cleanup to one
// agent's points only.
func SyncSource(agentID string) string {
	return fmt.Sprintf("product_sync_%s", agentID)
}
