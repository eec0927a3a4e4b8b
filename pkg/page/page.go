// Package page defines the atomic hash-chained unit of the civic ledger.
package page

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/civicmesh/civic-chain/pkg/crypto"
)

// GenesisPrevHash is the previous_hash sentinel for the first page of a level.
const GenesisPrevHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Page is one entry of a ledger level. Pages are immutable once appended.
//
// The hash covers the canonical JSON (sorted keys, no whitespace) of every
// field except hash itself, so a page can be re-verified byte-for-byte by
// any peer.
type Page struct {
	Index        uint64          `json:"index"`
	PreviousHash string          `json:"previous_hash"`
	Timestamp    string          `json:"timestamp"`
	Data         json.RawMessage `json:"data"`
	Validator    string          `json:"validator"`
	Signature    string          `json:"signature"`
	Hash         string          `json:"hash"`
}

// New builds a page linked to the given predecessor and seals its hash.
// prev may be nil for the first page of a level.
func New(index uint64, prev *Page, data json.RawMessage, validator, signature string) (Page, error) {
	p := Page{
		Index:        index,
		PreviousHash: GenesisPrevHash,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		Data:         data,
		Validator:    validator,
		Signature:    signature,
	}
	if prev != nil {
		p.PreviousHash = prev.Hash
	}

	hash, err := p.ComputeHash()
	if err != nil {
		return Page{}, err
	}
	p.Hash = hash
	return p, nil
}

// hashFields returns the map that is canonically serialized for hashing.
// The hash field itself is excluded.
func (p *Page) hashFields() map[string]interface{} {
	data := p.Data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	return map[string]interface{}{
		"index":         p.Index,
		"previous_hash": p.PreviousHash,
		"timestamp":     p.Timestamp,
		"data":          data,
		"validator":     p.Validator,
		"signature":     p.Signature,
	}
}

// ComputeHash returns the SHA-256 hash of the page's canonical JSON,
// excluding the hash field.
func (p *Page) ComputeHash() (string, error) {
	canonical, err := crypto.CanonicalJSON(p.hashFields())
	if err != nil {
		return "", fmt.Errorf("page %d: %w", p.Index, err)
	}
	return crypto.Sum256Hex(canonical), nil
}

// SigningDigest returns the 32-byte digest a validator signs: SHA-256 of
// the canonical JSON of the page's pre-signature fields. The signature is
// part of the hashed content, so it cannot cover the hash; it covers
// everything that precedes it instead.
func (p *Page) SigningDigest() ([]byte, error) {
	fields := p.hashFields()
	delete(fields, "signature")
	canonical, err := crypto.CanonicalJSON(fields)
	if err != nil {
		return nil, fmt.Errorf("page %d signing digest: %w", p.Index, err)
	}
	sum := crypto.Sum256(canonical)
	return sum[:], nil
}

// VerifySignature checks the page's signature against a compressed public key.
func (p *Page) VerifySignature(pubKey []byte) bool {
	if p.Signature == "" {
		return false
	}
	sig, err := hex.DecodeString(p.Signature)
	if err != nil {
		return false
	}
	digest, err := p.SigningDigest()
	if err != nil {
		return false
	}
	return crypto.VerifySignature(digest, sig, pubKey)
}
