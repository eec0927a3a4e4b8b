// Package config handles node configuration.
//
// Settings are runtime, per-node values: any node may vary them without
// affecting what peers accept on the wire.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Config holds node runtime configuration.
type Config struct {
	// Core
	DataDir string `conf:"datadir"`

	// P2P networking and synchronization
	P2P P2PConfig

	// HTTP API server access control
	RPC RPCConfig

	// Ledger persistence
	Ledger LedgerConfig

	// Node identity
	Identity IdentityConfig

	// Logging
	Log LogConfig
}

// P2PConfig holds peer-to-peer network settings.
type P2PConfig struct {
	Enabled         bool     `conf:"p2p.enabled"`
	Host            string   `conf:"p2p.host"`
	Port            int      `conf:"p2p.port"`
	BootstrapNodes  []string `conf:"p2p.bootstrap_nodes"`
	AutoDiscover    bool     `conf:"p2p.auto_discover"`
	SyncInterval    int      `conf:"p2p.sync_interval"` // seconds
	BroadcastBlocks bool     `conf:"p2p.broadcast_blocks"`
}

// RPCConfig holds HTTP API access settings.
type RPCConfig struct {
	AllowedIPs  []string `conf:"rpc.allowed"` // IP/CIDR entries, empty = allow all
	CORSOrigins []string `conf:"rpc.cors"`    // Allowed CORS origins ("*" = all)
}

// LedgerConfig holds ledger persistence settings.
type LedgerConfig struct {
	File            string `conf:"ledger.file"`
	PeersFile       string `conf:"ledger.peers_file"`
	RollupBatchSize int    `conf:"rollup.batch_size"`
}

// IdentityConfig holds node identity settings.
type IdentityConfig struct {
	File      string `conf:"identity.file"`
	Validator string `conf:"identity.validator"` // identity name used when signing pages
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.civic-chain
//	macOS:   ~/Library/Application Support/CivicChain
//	Windows: %APPDATA%\CivicChain
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".civic-chain"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "CivicChain")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "CivicChain")
		}
		return filepath.Join(home, "AppData", "Roaming", "CivicChain")
	default:
		return filepath.Join(home, ".civic-chain")
	}
}

// LedgerFile returns the ledger persistence path.
func (c *Config) LedgerFile() string {
	if c.Ledger.File != "" {
		return c.Ledger.File
	}
	return filepath.Join(c.DataDir, "ledger.json")
}

// PeersFile returns the peer registry persistence path.
func (c *Config) PeersFile() string {
	if c.Ledger.PeersFile != "" {
		return c.Ledger.PeersFile
	}
	return filepath.Join(c.DataDir, "peers.json")
}

// RegistryDir returns the validator registry database directory.
func (c *Config) RegistryDir() string {
	return filepath.Join(c.DataDir, "registry")
}

// IdentityFile returns the encrypted node identity key path.
func (c *Config) IdentityFile() string {
	if c.Identity.File != "" {
		return c.Identity.File
	}
	return filepath.Join(c.DataDir, "identity.key")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "civic.conf")
}

// ListenAddr returns the host:port the HTTP API binds to.
func (c *Config) ListenAddr() string {
	return joinHostPort(c.P2P.Host, c.P2P.Port)
}
