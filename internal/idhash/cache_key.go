package idhash

import (
	"crypto/sha256"
	"fmt"

	"github.com/mr-tron/base58"

	"risk-view-engine/internal/domain"
)

// CyclePrefix returns the key prefix shared by every cache entry of a cycle.
// Releasing a cycle deletes everything under this prefix.
func CyclePrefix(cycleID string) string {
	return "vc:" + cycleID + ":"
}

// ComputeCacheKey computes a deterministic computation cache key.
// Formula: CyclePrefix(cycle) + base58(SHA256(configuration|spec.Key()))
// The specification is hashed in canonical form so equal specifications
// always map to the same key regardless of property insertion order.
func ComputeCacheKey(cycleID, configuration string, spec domain.ValueSpecification) string {
	data := fmt.Sprintf("%s|%s", configuration, spec.Key())
	hash := sha256.Sum256([]byte(data))
	return CyclePrefix(cycleID) + base58.Encode(hash[:])
}

// ComputeJobID computes a deterministic identifier for a calculation job from
// its cycle, configuration and the ordered node identifiers it contains.
// Returns base58-encoded hash.
func ComputeJobID(cycleID, configuration string, nodeIDs []string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s", cycleID, configuration)
	for _, id := range nodeIDs {
		h.Write([]byte{'|'})
		h.Write([]byte(id))
	}
	return base58.Encode(h.Sum(nil))
}
