package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// ComputeSnapshotID computes a deterministic score snapshot id.
// Formula: SHA256(symbol|timestamp_ms|synthetic)
// Returns hex-encoded hash (64 characters).
func ComputeSnapshotID(symbol string, timestampMs int64, synthetic bool) string {
	data := fmt.Sprintf("%s|%d|%t",
		strings.ToUpper(symbol),
		timestampMs,
		synthetic,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
