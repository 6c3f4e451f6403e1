// Package canonical provides RFC 8785 (JSON Canonicalization Scheme)
// serialization and content hashing. Decision hashes, ledger chain hashes,
// and idempotency request hashes all go through here so that equal values
// always hash equally, regardless of map iteration order.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Transform returns the JCS canonical JSON form of v.
func Transform(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: pre-marshal failed: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical: jcs transform failed: %w", err)
	}
	return out, nil
}

// Hash returns "sha256:<hex>" over the canonical form of v.
func Hash(v any) (string, error) {
	b, err := Transform(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes computes the SHA-256 digest of raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}
