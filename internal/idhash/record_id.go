package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// ComputeBalanceRecordID computes a deterministic record_id using SHA256.
// Formula: SHA256(snapshot_id|lowercase(address)|snapshot_block)
// Returns hex-encoded hash (64 characters).
func ComputeBalanceRecordID(
	snapshotID string,
	address string,
	snapshotBlock uint64,
) string {
	data := fmt.Sprintf("%s|%s|%d",
		snapshotID,
		strings.ToLower(address),
		snapshotBlock,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
