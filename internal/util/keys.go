package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashKey returns prefix + ":" + the first 16 hex chars of sha256(key).
// Request keys can be long URLs; storage keys stay bounded.
func HashKey(prefix, key string) string {
	sum := sha256.Sum256([]byte(key))
	return prefix + ":" + hex.EncodeToString(sum[:8])
}
