package config

import "fmt"

// DefaultSyncInterval is the periodic sync tick in seconds.
const DefaultSyncInterval = 30

// Default returns the default node configuration.
func Default() *Config {
	return &Config{
		DataDir: DefaultDataDir(),
		P2P: P2PConfig{
			Enabled:      true,
			Host:         "0.0.0.0",
			Port:         8000,
			AutoDiscover: true,
			SyncInterval: DefaultSyncInterval,
			// Well-known seed nodes, contacted only when the peer
			// registry is empty. Real addresses are filled in when
			// seed servers are provisioned.
			BootstrapNodes:  []string{},
			BroadcastBlocks: true,
		},
		RPC: RPCConfig{},
		Ledger: LedgerConfig{
			RollupBatchSize: 100,
		},
		Identity: IdentityConfig{},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

func joinHostPort(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
