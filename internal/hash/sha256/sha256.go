// Package sha256 computes content digests for archived PDFs.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex SHA-256 digest of the payload. It is stored with the
// blob so re-downloads of the same document can be detected after the fact.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
