package ledger

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/civicmesh/civic-chain/pkg/crypto"
)

func TestAddSignedPage(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "ledger.json"), 100)
	if err != nil {
		t.Fatal(err)
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	defer key.Zero()

	hash, err := store.AddSignedPage(json.RawMessage(`{"vote":"yes"}`), "council", key.Sign)
	if err != nil {
		t.Fatalf("add signed page: %v", err)
	}
	if hash == "" {
		t.Fatal("empty hash")
	}

	tip := store.Tip()
	if tip.Signature == "" {
		t.Fatal("page has no signature")
	}
	if !tip.VerifySignature(key.PublicKey()) {
		t.Error("signature does not verify against signer key")
	}
	if err := tip.CheckIntegrity(); err != nil {
		t.Errorf("hash does not cover signed page: %v", err)
	}

	// The sealed hash must differ from an unsigned rendition.
	unsigned := *tip
	unsigned.Signature = ""
	h, err := unsigned.ComputeHash()
	if err != nil {
		t.Fatal(err)
	}
	if h == tip.Hash {
		t.Error("hash ignores signature field")
	}
}

func TestAddSignedPageSignerError(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "ledger.json"), 100)
	if err != nil {
		t.Fatal(err)
	}

	failing := func(digest []byte) ([]byte, error) {
		return nil, errors.New("hsm offline")
	}
	if _, err := store.AddSignedPage(json.RawMessage(`{}`), "x", failing); err == nil {
		t.Fatal("expected signer error to propagate")
	}
	if store.Height() != 0 {
		t.Errorf("height = %d after failed mint, want 0", store.Height())
	}
}
