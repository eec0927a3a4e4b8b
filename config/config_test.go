package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFile_ParsesKeyValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "civic.conf")
	content := `
# node settings
p2p.port = 9000
p2p.bootstrap_nodes = http://seed1:8000, http://seed2:8000
p2p.sync_interval = 15
log.level = "debug"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	values, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	cfg := Default()
	if err := ApplyFileConfig(cfg, values); err != nil {
		t.Fatalf("ApplyFileConfig: %v", err)
	}

	if cfg.P2P.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.P2P.Port)
	}
	if len(cfg.P2P.BootstrapNodes) != 2 || cfg.P2P.BootstrapNodes[1] != "http://seed2:8000" {
		t.Errorf("bootstrap nodes = %v", cfg.P2P.BootstrapNodes)
	}
	if cfg.P2P.SyncInterval != 15 {
		t.Errorf("sync interval = %d, want 15", cfg.P2P.SyncInterval)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q, want debug (quotes stripped)", cfg.Log.Level)
	}
}

func TestLoadFile_MissingFileIsEmpty(t *testing.T) {
	values, err := LoadFile(filepath.Join(t.TempDir(), "nope.conf"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(values) != 0 {
		t.Errorf("expected empty map, got %v", values)
	}
}

func TestApplyFileConfig_UnknownKey(t *testing.T) {
	cfg := Default()
	err := ApplyFileConfig(cfg, map[string]string{"bogus.key": "1"})
	if err == nil {
		t.Error("expected error for unknown config key")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := Validate(cfg); err != nil {
		t.Errorf("default config invalid: %v", err)
	}

	bad := Default()
	bad.P2P.SyncInterval = 0
	if err := Validate(bad); err == nil {
		t.Error("expected error for zero sync interval")
	}

	bad = Default()
	bad.P2P.BootstrapNodes = []string{"seed1:8000"}
	if err := Validate(bad); err == nil {
		t.Error("expected error for bootstrap node without scheme")
	}

	bad = Default()
	bad.Log.Level = "verbose"
	if err := Validate(bad); err == nil {
		t.Error("expected error for unknown log level")
	}
}

func TestApplyFlags_Precedence(t *testing.T) {
	cfg := Default()
	cfg.P2P.Port = 9000
	cfg.P2P.BroadcastBlocks = true

	f := &Flags{Port: 9100, NoBroadcast: true, SetNoBroadcast: true}
	ApplyFlags(cfg, f)

	if cfg.P2P.Port != 9100 {
		t.Errorf("port = %d, flag should win", cfg.P2P.Port)
	}
	if cfg.P2P.BroadcastBlocks {
		t.Error("broadcast should be disabled by --no-broadcast")
	}
}
