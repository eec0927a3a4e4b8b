// Package node wires the ledger, peer networking, and API server into one
// runnable civic node.
package node

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/civicmesh/civic-chain/config"
	"github.com/civicmesh/civic-chain/internal/identity"
	"github.com/civicmesh/civic-chain/internal/ledger"
	klog "github.com/civicmesh/civic-chain/internal/log"
	"github.com/civicmesh/civic-chain/internal/p2p"
	"github.com/civicmesh/civic-chain/internal/storage"
	"github.com/civicmesh/civic-chain/internal/validator"
	"github.com/civicmesh/civic-chain/pkg/crypto"
	"github.com/rs/zerolog"
)

// Node is the assembled civic ledger node.
type Node struct {
	cfg    *config.Config
	id     *identity.Identity // nil = anonymous node, pages go unsigned
	nodeID string

	db          storage.DB
	validators  *validator.Registry
	store       *ledger.Store
	client      *p2p.Client
	registry    *p2p.Registry
	broadcaster *p2p.Broadcaster
	syncer      *p2p.Synchronizer
	server      *p2p.Server

	logger  zerolog.Logger
	started bool
}

// Status is the operator-facing node snapshot.
type Status struct {
	NodeID     string         `json:"node_id"`
	Height     uint64         `json:"height"`
	Peers      int            `json:"peers"`
	P2PEnabled bool           `json:"p2p_enabled"`
	Sync       p2p.SyncStatus `json:"sync"`
}

// New assembles a node from configuration. id may be nil, in which case the
// node advertises an ephemeral ID and writes unsigned pages.
func New(cfg *config.Config, id *identity.Identity) (*Node, error) {
	for _, dir := range []string{cfg.DataDir, cfg.LogsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir %s: %w", dir, err)
		}
	}

	n := &Node{
		cfg:    cfg,
		id:     id,
		logger: klog.Node,
	}

	if id != nil {
		n.nodeID = id.NodeID()
	} else {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generate ephemeral node key: %w", err)
		}
		n.nodeID = crypto.NodeIDFromPubKey(key.PublicKey())
		key.Zero()
		n.logger.Warn().Str("node_id", n.nodeID).Msg("No identity loaded, using ephemeral node ID")
	}

	db, err := storage.NewBadger(cfg.RegistryDir())
	if err != nil {
		return nil, err
	}
	n.db = db
	n.validators = validator.NewRegistry(db)

	store, err := ledger.Open(cfg.LedgerFile(), cfg.Ledger.RollupBatchSize)
	if err != nil {
		db.Close()
		return nil, err
	}
	n.store = store

	n.client = p2p.NewClient()
	n.registry = p2p.NewRegistry(cfg.PeersFile(), cfg.P2P.BootstrapNodes, n.client)
	n.broadcaster = p2p.NewBroadcaster(n.registry, n.client)
	n.syncer = p2p.NewSynchronizer(store, n.registry, n.client, cfg.P2P.SyncInterval)
	n.server = p2p.NewServer(cfg.ListenAddr(), n.nodeID, store, n.registry,
		n.syncer, n.validators, n.MintPage, cfg.RPC)

	return n, nil
}

// Start brings the node online: API server always, networking only when
// p2p is enabled.
func (n *Node) Start() error {
	if n.started {
		return fmt.Errorf("node already started")
	}

	if n.id != nil {
		// Register the node's own identity as a permitted signer.
		name := n.validatorName()
		pub := hex.EncodeToString(n.id.PublicKey())
		if err := n.validators.Add(name, pub); err != nil {
			return fmt.Errorf("register own validator: %w", err)
		}
	}

	if err := n.server.Start(); err != nil {
		return err
	}

	if n.cfg.P2P.Enabled {
		if n.cfg.P2P.AutoDiscover {
			go n.registry.BootstrapNetwork()
		}
		n.syncer.StartPeriodic()
	} else {
		n.logger.Info().Msg("P2P disabled, running standalone")
	}

	n.started = true
	n.logger.Info().
		Str("node_id", n.nodeID).
		Str("addr", n.server.Addr()).
		Uint64("height", n.store.Height()).
		Msg("Node started")
	return nil
}

// Stop shuts the node down in reverse start order.
func (n *Node) Stop() {
	if n.cfg.P2P.Enabled {
		n.syncer.StopPeriodic()
	}
	if err := n.server.Stop(); err != nil {
		n.logger.Error().Err(err).Msg("API server shutdown failed")
	}
	if err := n.db.Close(); err != nil {
		n.logger.Error().Err(err).Msg("Registry DB close failed")
	}
	if n.id != nil {
		n.id.Zero()
	}
	n.started = false
	n.logger.Info().Msg("Node stopped")
}

// validatorName is the identity name this node signs with.
func (n *Node) validatorName() string {
	if n.cfg.Identity.Validator != "" {
		return n.cfg.Identity.Validator
	}
	return n.nodeID
}

// MintPage appends a locally-authored page and gossips it. Writes are
// gated on validator registration: an unregistered identity cannot mint.
func (n *Node) MintPage(data json.RawMessage) (string, error) {
	name := n.validatorName()
	if !n.validators.IsValidator(name) {
		return "", fmt.Errorf("identity %q is not a registered validator", name)
	}

	var hash string
	var err error
	if n.id != nil {
		hash, err = n.store.AddSignedPage(data, name, n.id.Sign)
	} else {
		hash, err = n.store.AddPage(data, name, "")
	}
	if err != nil {
		return "", err
	}

	if n.cfg.P2P.Enabled && n.cfg.P2P.BroadcastBlocks {
		if tip := n.store.Tip(); tip != nil {
			go n.broadcaster.BroadcastPage(*tip)
		}
	}
	return hash, nil
}

// Status returns the operator-facing snapshot.
func (n *Node) Status() Status {
	return Status{
		NodeID:     n.nodeID,
		Height:     n.store.Height(),
		Peers:      n.registry.Count(),
		P2PEnabled: n.cfg.P2P.Enabled,
		Sync:       n.syncer.Status(),
	}
}

// Addr returns the API server's listen address.
func (n *Node) Addr() string {
	return n.server.Addr()
}

// Ledger exposes the underlying store.
func (n *Node) Ledger() *ledger.Store {
	return n.store
}

// Validators exposes the validator registry.
func (n *Node) Validators() *validator.Registry {
	return n.validators
}

// AddPeer registers a peer URL.
func (n *Node) AddPeer(url string) bool {
	return n.registry.AddPeer(url)
}

// RemovePeer drops a peer URL.
func (n *Node) RemovePeer(url string) bool {
	return n.registry.RemovePeer(url)
}

// Peers lists the known peer URLs.
func (n *Node) Peers() []string {
	return n.registry.Peers()
}

// Broadcast pushes the current tip page to every known peer. Returns a
// zero result when the chain is empty.
func (n *Node) Broadcast() p2p.BroadcastResult {
	tip := n.store.Tip()
	if tip == nil {
		return p2p.BroadcastResult{SentTo: []string{}, Failed: []string{}, Unreachable: []string{}}
	}
	return n.broadcaster.BroadcastPage(*tip)
}

// SyncNow runs one synchronization pass immediately.
func (n *Node) SyncNow() error {
	return n.syncer.SyncWithNetwork()
}

// DiscoverPeers runs one discovery pass from the current peer set.
func (n *Node) DiscoverPeers() []string {
	return n.registry.DiscoverPeers(nil)
}

// CleanupPeers drops unreachable peers, returning how many were removed.
func (n *Node) CleanupPeers() int {
	return n.registry.CleanupPeers()
}

// NetworkStatus runs a health sweep over the peer set.
func (n *Node) NetworkStatus() p2p.NetworkStatus {
	return n.registry.NetworkStatus()
}
