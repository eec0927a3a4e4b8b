package identity

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestFromMnemonic_Deterministic(t *testing.T) {
	mnemonic, err := GenerateMnemonic()
	if err != nil {
		t.Fatalf("GenerateMnemonic: %v", err)
	}

	a, err := FromMnemonic(mnemonic)
	if err != nil {
		t.Fatalf("FromMnemonic: %v", err)
	}
	b, err := FromMnemonic(mnemonic)
	if err != nil {
		t.Fatalf("FromMnemonic: %v", err)
	}

	if !bytes.Equal(a.PublicKey(), b.PublicKey()) {
		t.Error("same mnemonic derived different keys")
	}
	if a.NodeID() != b.NodeID() {
		t.Error("same mnemonic derived different node IDs")
	}
	if len(a.NodeID()) != 16 {
		t.Errorf("node ID length = %d, want 16", len(a.NodeID()))
	}
}

func TestFromMnemonic_RejectsInvalid(t *testing.T) {
	if _, err := FromMnemonic("definitely not a valid mnemonic phrase"); err == nil {
		t.Error("expected error for invalid mnemonic")
	}
}

func TestKeystore_SaveLoadRoundTrip(t *testing.T) {
	mnemonic, err := GenerateMnemonic()
	if err != nil {
		t.Fatalf("GenerateMnemonic: %v", err)
	}
	id, err := FromMnemonic(mnemonic)
	if err != nil {
		t.Fatalf("FromMnemonic: %v", err)
	}

	path := filepath.Join(t.TempDir(), "identity.key")
	password := []byte("hunter2")

	// Fast params for tests; production uses DefaultParams.
	params := EncryptionParams{Memory: 64, Iterations: 1, Parallelism: 1}

	if err := Save(id, path, password, params); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path, password)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !bytes.Equal(loaded.PublicKey(), id.PublicKey()) {
		t.Error("loaded identity has different public key")
	}

	if _, err := Load(path, []byte("wrong")); err == nil {
		t.Error("expected error for wrong password")
	}

	// Save refuses to overwrite.
	if err := Save(id, path, password, params); err == nil {
		t.Error("expected error saving over existing identity file")
	}
}

func TestIdentity_Sign(t *testing.T) {
	mnemonic, _ := GenerateMnemonic()
	id, err := FromMnemonic(mnemonic)
	if err != nil {
		t.Fatalf("FromMnemonic: %v", err)
	}

	digest := make([]byte, 32)
	for i := range digest {
		digest[i] = byte(i)
	}

	sig, err := id.Sign(digest)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(sig) == 0 {
		t.Error("empty signature")
	}

	if _, err := id.Sign([]byte("short")); err == nil {
		t.Error("expected error signing non-32-byte digest")
	}
}
