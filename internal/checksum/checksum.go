package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// New returns a streaming hasher whose result matches Sum.
func New() hash.Hash {
	return sha256.New()
}

// Encode returns the hex-encoded digest accumulated by h.
func Encode(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}
