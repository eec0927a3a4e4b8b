// Package identity manages the node's signing identity.
//
// An identity is a secp256k1 key derived from a BIP-39 mnemonic via BIP-32,
// stored encrypted on disk. The node ID advertised on /api/health is derived
// from the public key, so it is stable across restarts.
package identity

import (
	"fmt"

	"github.com/civicmesh/civic-chain/pkg/crypto"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
)

// Derivation path constants: m/44'/7777'/0'.
const (
	purposeBIP44  = bip32.FirstHardenedChild + 44
	coinTypeCivic = bip32.FirstHardenedChild + 7777
	accountNode   = bip32.FirstHardenedChild + 0
)

// Identity is a node signing identity.
type Identity struct {
	key *crypto.PrivateKey
}

// GenerateMnemonic produces a new 24-word BIP-39 mnemonic (256-bit entropy).
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("generate mnemonic: %w", err)
	}
	return mnemonic, nil
}

// FromMnemonic derives the node identity key from a mnemonic at
// m/44'/7777'/0'.
func FromMnemonic(mnemonic string) (*Identity, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, "")

	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}

	child := master
	for _, idx := range []uint32{purposeBIP44, coinTypeCivic, accountNode} {
		child, err = child.NewChildKey(idx)
		if err != nil {
			return nil, fmt.Errorf("derive child %d: %w", idx, err)
		}
	}

	key, err := crypto.PrivateKeyFromBytes(privateKeyBytes(child))
	if err != nil {
		return nil, fmt.Errorf("load derived key: %w", err)
	}
	return &Identity{key: key}, nil
}

// FromKeyBytes builds an identity from a raw 32-byte private key.
func FromKeyBytes(b []byte) (*Identity, error) {
	key, err := crypto.PrivateKeyFromBytes(b)
	if err != nil {
		return nil, err
	}
	return &Identity{key: key}, nil
}

// privateKeyBytes extracts the raw 32-byte scalar from a bip32 key.
// bip32 private keys carry a leading 0x00 pad byte.
func privateKeyBytes(k *bip32.Key) []byte {
	raw := k.Key
	if len(raw) == 33 && raw[0] == 0 {
		return raw[1:]
	}
	return raw
}

// NodeID returns the node identifier derived from the public key.
func (id *Identity) NodeID() string {
	return crypto.NodeIDFromPubKey(id.key.PublicKey())
}

// PublicKey returns the compressed 33-byte public key.
func (id *Identity) PublicKey() []byte {
	return id.key.PublicKey()
}

// Sign produces a Schnorr signature over a 32-byte digest.
func (id *Identity) Sign(digest []byte) ([]byte, error) {
	return id.key.Sign(digest)
}

// KeyBytes returns the raw 32-byte private key for keystore persistence.
func (id *Identity) KeyBytes() []byte {
	return id.key.Serialize()
}

// Zero securely zeroes the private key memory.
func (id *Identity) Zero() {
	id.key.Zero()
}
