package config

import (
	"fmt"
	"strings"
)

// Validate checks a configuration for internally inconsistent or unusable
// values before the node starts.
func Validate(cfg *Config) error {
	if cfg.DataDir == "" {
		return fmt.Errorf("datadir is empty")
	}
	if cfg.P2P.Port < 0 || cfg.P2P.Port > 65535 {
		return fmt.Errorf("p2p.port %d out of range", cfg.P2P.Port)
	}
	if cfg.P2P.SyncInterval <= 0 {
		return fmt.Errorf("p2p.sync_interval must be positive, got %d", cfg.P2P.SyncInterval)
	}
	if cfg.Ledger.RollupBatchSize <= 0 {
		return fmt.Errorf("rollup.batch_size must be positive, got %d", cfg.Ledger.RollupBatchSize)
	}
	for _, u := range cfg.P2P.BootstrapNodes {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("bootstrap node %q: must be an http(s) URL", u)
		}
	}
	switch cfg.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", cfg.Log.Level)
	}
	return nil
}
