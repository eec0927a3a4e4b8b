// Package validator tracks which identities are permitted to sign ledger pages.
//
// Registration gates chain writes: callers whose identity is not registered
// simply skip the ledger, a deliberate "not everyone writes to the chain"
// policy. The registry is independent of networking.
package validator

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	klog "github.com/civicmesh/civic-chain/internal/log"
	"github.com/civicmesh/civic-chain/internal/storage"
	"github.com/rs/zerolog"
)

const keyPrefix = "validator/"

// Record is a persisted validator entry.
type Record struct {
	Identity  string `json:"identity"`
	PublicKey string `json:"public_key"` // hex compressed secp256k1 key, may be empty
	AddedAt   int64  `json:"added_at"`   // unix timestamp
}

// Registry persists validator records in a storage.DB.
type Registry struct {
	db     storage.DB
	logger zerolog.Logger
}

// NewRegistry creates a registry backed by the given DB.
func NewRegistry(db storage.DB) *Registry {
	return &Registry{db: db, logger: klog.Registry}
}

func recordKey(identity string) []byte {
	return []byte(keyPrefix + identity)
}

// Add registers an identity as a permitted signer. publicKey is the hex
// compressed secp256k1 key; it may be empty for identities that write
// unsigned pages. Re-registering updates the key.
func (r *Registry) Add(identity, publicKey string) error {
	if identity == "" {
		return fmt.Errorf("validator identity is empty")
	}
	if publicKey != "" {
		raw, err := hex.DecodeString(publicKey)
		if err != nil || len(raw) != 33 {
			return fmt.Errorf("validator %s: public key must be 33-byte hex", identity)
		}
	}

	rec := Record{
		Identity:  identity,
		PublicKey: publicKey,
		AddedAt:   time.Now().Unix(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal validator record: %w", err)
	}
	if err := r.db.Put(recordKey(identity), data); err != nil {
		return fmt.Errorf("store validator record: %w", err)
	}

	r.logger.Info().Str("identity", identity).Msg("Validator registered")
	return nil
}

// IsValidator reports whether the identity is a registered signer.
func (r *Registry) IsValidator(identity string) bool {
	ok, err := r.db.Has(recordKey(identity))
	if err != nil {
		r.logger.Error().Err(err).Str("identity", identity).Msg("Validator lookup failed")
		return false
	}
	return ok
}

// PublicKey returns the registered compressed public key bytes for an
// identity, or nil when the identity is unknown or has no key.
func (r *Registry) PublicKey(identity string) []byte {
	data, err := r.db.Get(recordKey(identity))
	if err != nil {
		return nil
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil
	}
	if rec.PublicKey == "" {
		return nil
	}
	raw, err := hex.DecodeString(rec.PublicKey)
	if err != nil {
		return nil
	}
	return raw
}

// Remove deletes a validator registration. Returns false if not present.
func (r *Registry) Remove(identity string) bool {
	ok, err := r.db.Has(recordKey(identity))
	if err != nil || !ok {
		return false
	}
	if err := r.db.Delete(recordKey(identity)); err != nil {
		r.logger.Error().Err(err).Str("identity", identity).Msg("Validator delete failed")
		return false
	}
	return true
}

// List returns all registered validator records.
func (r *Registry) List() ([]Record, error) {
	var records []Record
	err := r.db.ForEach([]byte(keyPrefix), func(key, value []byte) error {
		var rec Record
		if err := json.Unmarshal(value, &rec); err != nil {
			return nil // Skip corrupt records.
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate validator records: %w", err)
	}
	return records, nil
}
