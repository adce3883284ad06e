// Package digest computes the SHA-256 content hashes used to pin prompts and
// edit briefs to a verifiable fingerprint.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
)

// SHA256Hex returns the lowercase hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SHA256String is a convenience wrapper over SHA256Hex for string content.
func SHA256String(s string) string {
	return SHA256Hex([]byte(s))
}
