// Package identity implements the fingerprint/cache key layer (C1): it
// provides the stable hash that keys cache lookups, independent of any
// particular graph.Fingerprint construction path.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash computes the identity hash of a fingerprint's three defining
// fields. It is the single source of truth the rest of the system relies
// on for cache keys -- graph.NewFingerprint calls this under the hood, and
// a store implementation can recompute it independently to verify an
// entity it loaded from disk was not tampered with.
func Hash(techStack, authModel, endpointPattern string) string {
	h := sha256.New()
	h.Write([]byte(techStack))
	h.Write([]byte{'|'})
	h.Write([]byte(authModel))
	h.Write([]byte{'|'})
	h.Write([]byte(endpointPattern))
	return hex.EncodeToString(h.Sum(nil))
}
