package p2p

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	klog "github.com/civicmesh/civic-chain/internal/log"
	"github.com/rs/zerolog"
)

// Registry owns the known-peer set, persisted as a JSON array of URLs.
// All access goes through its mutex: peer membership is written from the
// broadcast path, the health sweep, and operator calls concurrently.
type Registry struct {
	mu        sync.Mutex
	path      string
	peers     map[string]struct{}
	bootstrap []string
	client    *Client
	logger    zerolog.Logger
}

// NewRegistry loads the peer set from path. A missing or corrupt file
// degrades to an empty set with a log line; it never fails construction.
func NewRegistry(path string, bootstrap []string, client *Client) *Registry {
	r := &Registry{
		path:      path,
		peers:     make(map[string]struct{}),
		bootstrap: bootstrap,
		client:    client,
		logger:    klog.P2P,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Warn().Err(err).Str("path", path).Msg("Peer file unreadable, starting empty")
		}
		return r
	}

	var urls []string
	if err := json.Unmarshal(data, &urls); err != nil {
		r.logger.Warn().Err(err).Str("path", path).Msg("Peer file corrupt, starting empty")
		return r
	}
	for _, u := range urls {
		if validPeerURL(u) {
			r.peers[u] = struct{}{}
		}
	}
	r.logger.Info().Int("peers", len(r.peers)).Msg("Peer registry loaded")
	return r
}

// validPeerURL checks the only format requirement: a non-empty absolute
// http(s) URL. Connectivity is deliberately not checked at insertion time.
func validPeerURL(url string) bool {
	if url == "" {
		return false
	}
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}

// Peers returns the known peer URLs in stable order.
func (r *Registry) Peers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peersLocked()
}

func (r *Registry) peersLocked() []string {
	out := make([]string, 0, len(r.peers))
	for u := range r.peers {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of known peers.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// Bootstrap returns the configured bootstrap node URLs.
func (r *Registry) Bootstrap() []string {
	return r.bootstrap
}

// AddPeer records a peer URL. Returns false without error when the URL is
// malformed or already known (idempotent-add semantics).
func (r *Registry) AddPeer(url string) bool {
	if !validPeerURL(url) {
		r.logger.Debug().Str("url", url).Msg("Rejected malformed peer URL")
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.peers[url]; ok {
		return false
	}
	r.peers[url] = struct{}{}
	if err := r.saveLocked(); err != nil {
		r.logger.Error().Err(err).Msg("Peer file write failed")
	}
	r.logger.Info().Str("url", url).Int("total", len(r.peers)).Msg("Peer added")
	return true
}

// RemovePeer drops a peer URL. Returns false if it was not present.
func (r *Registry) RemovePeer(url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.peers[url]; !ok {
		return false
	}
	delete(r.peers, url)
	if err := r.saveLocked(); err != nil {
		r.logger.Error().Err(err).Msg("Peer file write failed")
	}
	r.logger.Info().Str("url", url).Int("total", len(r.peers)).Msg("Peer removed")
	return true
}

// replaceAll swaps the whole peer set and persists it.
func (r *Registry) replaceAll(urls []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.peers = make(map[string]struct{}, len(urls))
	for _, u := range urls {
		if validPeerURL(u) {
			r.peers[u] = struct{}{}
		}
	}
	if err := r.saveLocked(); err != nil {
		r.logger.Error().Err(err).Msg("Peer file write failed")
	}
}

// saveLocked persists the peer set. Caller holds mu.
func (r *Registry) saveLocked() error {
	data, err := json.MarshalIndent(r.peersLocked(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal peers: %w", err)
	}

	dir := filepath.Dir(r.path)
	tmp, err := os.CreateTemp(dir, ".peers-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
