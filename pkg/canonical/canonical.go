// Package canonical provides RFC 8785 (JSON Canonicalization Scheme)
// serialization and the SHA-256 fingerprints built on it. Both the audit
// input hash and the registry interface hash depend on the same law:
// semantically identical JSON yields identical bytes, regardless of key
// insertion order.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// JSON returns the canonical JSON encoding of v: object keys sorted
// lexicographically by UTF-8 bytes at every level, compact separators,
// no HTML escaping.
func JSON(v any) ([]byte, error) {
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

// HashBytes computes the SHA-256 hex digest of raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Hash returns the SHA-256 hex digest of the canonical JSON encoding of v.
func Hash(v any) (string, error) {
	b, err := JSON(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}
