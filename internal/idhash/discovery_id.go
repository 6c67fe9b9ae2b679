package idhash

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/mr-tron/base58"
)

// ComputeDiscoveryID computes the deterministic discovery id for a ticker on a day.
// Formula: SHA256(UPPER(ticker)|YYYY-MM-DD) with the day taken in UTC.
// Returns the base58-encoded hash.
func ComputeDiscoveryID(ticker string, day time.Time) string {
	data := fmt.Sprintf("%s|%s",
		strings.ToUpper(strings.TrimSpace(ticker)),
		day.UTC().Format(time.DateOnly),
	)

	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:])
}
