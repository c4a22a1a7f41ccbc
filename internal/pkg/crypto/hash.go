// Package crypto provides content hashing for imagevault.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// ComputeSHA256 computes the hex SHA-256 digest of a byte slice.
// Uploads are hashed once, before any transformation.
func ComputeSHA256(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// ValidateSHA256 validates that a string is a valid SHA-256 hex hash.
func ValidateSHA256(hash string) bool {
	if len(hash) != 64 {
		return false
	}
	for _, c := range hash {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}
