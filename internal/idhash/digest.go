package idhash

import (
	"crypto/sha256"
	"encoding/hex"
)

// ComputeDocumentDigest returns the hex-encoded SHA256 of a serialized
// snapshot document (64 characters).
func ComputeDocumentDigest(body []byte) string {
	hash := sha256.Sum256(body)
	return hex.EncodeToString(hash[:])
}
