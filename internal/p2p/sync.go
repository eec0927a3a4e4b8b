package p2p

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/civicmesh/civic-chain/config"
	"github.com/civicmesh/civic-chain/internal/ledger"
	klog "github.com/civicmesh/civic-chain/internal/log"
	"github.com/rs/zerolog"
)

const (
	// syncBatchSize is how many pages one download request asks for.
	syncBatchSize = 50
	// interBatchDelay spaces batch downloads so a far-behind node does not
	// hammer its source peer.
	interBatchDelay = 100 * time.Millisecond
	// probeWorkers bounds the parallel height probe fan-out.
	probeWorkers = 5
	// stopJoinTimeout caps how long StopPeriodic waits for the loop to exit.
	stopJoinTimeout = 5 * time.Second
)

// ErrSyncInProgress is returned when a sync is requested while another is
// already running. At most one sync runs at a time.
var ErrSyncInProgress = errors.New("sync already in progress")

// Synchronizer pulls missing pages from whichever reachable peer has the
// longest chain.
type Synchronizer struct {
	store    *ledger.Store
	registry *Registry
	client   *Client
	interval time.Duration
	logger   zerolog.Logger

	mu       sync.Mutex
	syncing  bool
	lastSync time.Time

	loopMu  sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// SyncStatus reports the synchronizer's current state.
type SyncStatus struct {
	IsSyncing    bool      `json:"is_syncing"`
	LastSyncTime time.Time `json:"last_sync_time"`
	LocalHeight  uint64    `json:"local_height"`
	SyncInterval int       `json:"sync_interval"`
	Running      bool      `json:"running"`
}

// NewSynchronizer creates a synchronizer. interval is the periodic sync
// period in seconds.
func NewSynchronizer(store *ledger.Store, registry *Registry, client *Client, interval int) *Synchronizer {
	if interval <= 0 {
		interval = config.DefaultSyncInterval
	}
	return &Synchronizer{
		store:    store,
		registry: registry,
		client:   client,
		interval: time.Duration(interval) * time.Second,
		logger:   klog.Sync,
	}
}

// beginSync claims the sync slot. Returns false if a sync is running.
func (s *Synchronizer) beginSync() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.syncing {
		return false
	}
	s.syncing = true
	return true
}

// endSync releases the sync slot. It does not touch lastSync: the
// timestamp marks completed syncs only, aborted ones leave it alone.
func (s *Synchronizer) endSync() {
	s.mu.Lock()
	s.syncing = false
	s.mu.Unlock()
}

// markSynced records a successfully completed sync.
func (s *Synchronizer) markSynced() {
	s.mu.Lock()
	s.lastSync = time.Now().UTC()
	s.mu.Unlock()
}

// Status returns a snapshot of the synchronizer state.
func (s *Synchronizer) Status() SyncStatus {
	s.mu.Lock()
	syncing := s.syncing
	last := s.lastSync
	s.mu.Unlock()

	s.loopMu.Lock()
	running := s.running
	s.loopMu.Unlock()

	return SyncStatus{
		IsSyncing:    syncing,
		LastSyncTime: last,
		LocalHeight:  s.store.Height(),
		SyncInterval: int(s.interval / time.Second),
		Running:      running,
	}
}

// peerHeight is one height probe result.
type peerHeight struct {
	url    string
	height uint64
}

// probeHeights queries every peer's height with bounded parallelism and
// returns the reachable ones.
func (s *Synchronizer) probeHeights(peers []string) []peerHeight {
	jobs := make(chan string)
	results := make(chan peerHeight, len(peers))

	workers := probeWorkers
	if len(peers) < workers {
		workers = len(peers)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for url := range jobs {
				h, err := s.client.Info(url)
				if err != nil {
					s.logger.Debug().Err(err).Str("url", url).Msg("Height probe failed")
					continue
				}
				results <- peerHeight{url: url, height: h}
			}
		}()
	}

	for _, url := range peers {
		jobs <- url
	}
	close(jobs)
	wg.Wait()
	close(results)

	out := make([]peerHeight, 0, len(peers))
	for r := range results {
		out = append(out, r)
	}
	return out
}

// bestPeer picks the reachable peer with the greatest height strictly above
// ours. Returns ok=false when nobody is ahead.
func bestPeer(probes []peerHeight, local uint64) (peerHeight, bool) {
	best := peerHeight{}
	found := false
	for _, p := range probes {
		if p.height > local && (!found || p.height > best.height) {
			best = p
			found = true
		}
	}
	return best, found
}

// SyncWithNetwork brings the local chain up to the tallest reachable peer.
// Zero known peers is success: an isolated node is trivially in sync.
func (s *Synchronizer) SyncWithNetwork() error {
	if !s.beginSync() {
		return ErrSyncInProgress
	}
	defer s.endSync()

	if err := s.syncOnce(); err != nil {
		return err
	}
	s.markSynced()
	return nil
}

// syncOnce is one network sync pass. Caller holds the sync slot.
func (s *Synchronizer) syncOnce() error {
	peers := s.registry.Peers()
	if len(peers) == 0 {
		s.logger.Debug().Msg("No peers, nothing to sync")
		return nil
	}

	local := s.store.Height()
	probes := s.probeHeights(peers)
	best, ok := bestPeer(probes, local)
	if !ok {
		s.logger.Debug().Uint64("height", local).Msg("Already at network height")
		return nil
	}

	s.logger.Info().
		Str("peer", best.url).
		Uint64("local", local).
		Uint64("remote", best.height).
		Msg("Syncing from peer")

	return s.pullFrom(best.url, best.height)
}

// ManualSyncWithPeer syncs from one specific peer regardless of the rest of
// the network. The peer must be reachable and strictly ahead.
func (s *Synchronizer) ManualSyncWithPeer(url string) error {
	if !validPeerURL(url) {
		return fmt.Errorf("invalid peer URL %q", url)
	}
	if !s.beginSync() {
		return ErrSyncInProgress
	}
	defer s.endSync()

	if _, ok := s.client.Health(url); !ok {
		return fmt.Errorf("peer %s failed health check", url)
	}
	remote, err := s.client.Info(url)
	if err != nil {
		return fmt.Errorf("peer unreachable: %w", err)
	}
	local := s.store.Height()
	if remote <= local {
		s.logger.Debug().
			Str("peer", url).
			Uint64("local", local).
			Uint64("remote", remote).
			Msg("Peer not ahead, nothing to sync")
		s.markSynced()
		return nil
	}
	if err := s.pullFrom(url, remote); err != nil {
		return err
	}
	s.markSynced()
	return nil
}

// pullFrom downloads pages from url in batches until reaching target or the
// peer stops producing. Each batch is validated as a unit before any of it
// lands; one bad page aborts the sync with the chain untouched.
func (s *Synchronizer) pullFrom(url string, target uint64) error {
	for {
		local := s.store.Height()
		if local >= target {
			break
		}

		batch, err := s.client.Blocks(url, local, syncBatchSize)
		if err != nil {
			return fmt.Errorf("download from %s: %w", url, err)
		}
		if len(batch) == 0 {
			// Peer has nothing past our height; treat as done.
			break
		}

		if err := s.store.AppendBatch(batch); err != nil {
			return fmt.Errorf("apply batch from %s: %w", url, err)
		}

		s.logger.Info().
			Str("peer", url).
			Int("pages", len(batch)).
			Uint64("height", s.store.Height()).
			Msg("Applied sync batch")

		time.Sleep(interBatchDelay)
	}

	s.logger.Info().Uint64("height", s.store.Height()).Msg("Sync complete")
	return nil
}

// StartPeriodic launches the background sync loop. Safe to call once;
// subsequent calls while running are no-ops.
func (s *Synchronizer) StartPeriodic() {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go s.loop(s.stop, s.done)
	s.logger.Info().Dur("interval", s.interval).Msg("Periodic sync started")
}

func (s *Synchronizer) loop(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := s.SyncWithNetwork(); err != nil && !errors.Is(err, ErrSyncInProgress) {
				s.logger.Error().Err(err).Msg("Periodic sync failed")
				// Back off briefly after a failure before the next tick.
				select {
				case <-stop:
					return
				case <-time.After(stopJoinTimeout):
				}
			}
		}
	}
}

// StopPeriodic signals the loop to exit and waits up to 5s for it.
func (s *Synchronizer) StopPeriodic() {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	if !s.running {
		return
	}
	close(s.stop)

	select {
	case <-s.done:
	case <-time.After(stopJoinTimeout):
		s.logger.Warn().Msg("Sync loop did not stop in time")
	}
	s.running = false
	s.logger.Info().Msg("Periodic sync stopped")
}
