// Package crypto provides hashing and signing primitives for the civic ledger.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"
)

// CanonicalJSON serializes v deterministically: object keys sorted,
// no insignificant whitespace. Nested objects are normalized too, so
// the same logical value always produces the same bytes regardless of
// the key order it arrived with on the wire.
func CanonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}

	// Round-trip through interface{} so map keys come out sorted at
	// every nesting level.
	var norm interface{}
	if err := json.Unmarshal(raw, &norm); err != nil {
		return nil, fmt.Errorf("canonical normalize: %w", err)
	}
	out, err := json.Marshal(norm)
	if err != nil {
		return nil, fmt.Errorf("canonical remarshal: %w", err)
	}
	return out, nil
}

// Sum256Hex computes the SHA-256 hash of data and returns it hex-encoded.
func Sum256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Sum256 computes the SHA-256 hash of data.
func Sum256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// NodeIDFromPubKey derives a node identifier from a compressed public key.
// ID = hex(BLAKE3(pubkey))[:16].
func NodeIDFromPubKey(pubKey []byte) string {
	sum := blake3.Sum256(pubKey)
	return hex.EncodeToString(sum[:])[:16]
}
