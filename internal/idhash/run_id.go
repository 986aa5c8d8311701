package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeRunID computes a deterministic analysis run id using SHA256.
// Formula: SHA256(mint|run_at_ms)
// Returns hex-encoded hash (64 characters).
func ComputeRunID(mint string, runAtMs int64) string {
	data := fmt.Sprintf("%s|%d", mint, runAtMs)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
