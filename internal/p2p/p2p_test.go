package p2p

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/civicmesh/civic-chain/config"
	"github.com/civicmesh/civic-chain/internal/ledger"
	"github.com/civicmesh/civic-chain/pkg/page"
)

// testNode bundles one in-process node: ledger, peer registry, sync, server.
type testNode struct {
	store    *ledger.Store
	registry *Registry
	client   *Client
	syncer   *Synchronizer
	server   *Server
	url      string
}

func newTestNode(t *testing.T, nodeID string, bootstrap []string) *testNode {
	t.Helper()
	dir := t.TempDir()

	store, err := ledger.Open(filepath.Join(dir, "ledger.json"), 100)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}

	client := NewClient()
	registry := NewRegistry(filepath.Join(dir, "peers.json"), bootstrap, client)
	syncer := NewSynchronizer(store, registry, client, 30)

	srv := NewServer("127.0.0.1:0", nodeID, store, registry, syncer, nil, nil, config.RPCConfig{})
	if err := srv.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	return &testNode{
		store:    store,
		registry: registry,
		client:   client,
		syncer:   syncer,
		server:   srv,
		url:      "http://" + srv.Addr(),
	}
}

func mintPages(t *testing.T, store *ledger.Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		data := json.RawMessage(fmt.Sprintf(`{"seq":%d}`, i))
		if _, err := store.AddPage(data, "tester", ""); err != nil {
			t.Fatalf("add page %d: %v", i, err)
		}
	}
}

// deadPeerURL returns a URL nothing is listening on.
func deadPeerURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

func TestRegistryAddPeer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "peers.json")
	r := NewRegistry(path, nil, NewClient())

	if !r.AddPeer("http://10.0.0.1:8000") {
		t.Fatal("first add should succeed")
	}
	if r.AddPeer("http://10.0.0.1:8000") {
		t.Error("duplicate add should return false")
	}
	if r.AddPeer("not-a-url") {
		t.Error("malformed URL should be rejected")
	}
	if r.AddPeer("") {
		t.Error("empty URL should be rejected")
	}
	if got := r.Count(); got != 1 {
		t.Errorf("peer count = %d, want 1", got)
	}

	// Persistence: a fresh registry over the same file sees the peer.
	r2 := NewRegistry(path, nil, NewClient())
	peers := r2.Peers()
	if len(peers) != 1 || peers[0] != "http://10.0.0.1:8000" {
		t.Errorf("reloaded peers = %v", peers)
	}
}

func TestRegistryCorruptFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "peers.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := NewRegistry(path, nil, NewClient())
	if r.Count() != 0 {
		t.Errorf("corrupt file should yield empty set, got %d peers", r.Count())
	}
}

func TestHealthCheck(t *testing.T) {
	node := newTestNode(t, "node-a", nil)

	if !node.registry.CheckPeerHealth(node.url) {
		t.Error("live node should be healthy")
	}

	// 200 with a non-healthy status body is still unhealthy.
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "down", "node_id": "x"})
	}))
	defer down.Close()
	if node.registry.CheckPeerHealth(down.URL) {
		t.Error("status \"down\" should be unhealthy")
	}

	if node.registry.CheckPeerHealth(deadPeerURL(t)) {
		t.Error("closed port should be unhealthy")
	}
}

func TestCleanupPeers(t *testing.T) {
	alive := newTestNode(t, "alive", nil)
	node := newTestNode(t, "node-a", nil)

	dead := deadPeerURL(t)
	node.registry.AddPeer(alive.url)
	node.registry.AddPeer(dead)

	removed := node.registry.CleanupPeers()
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	peers := node.registry.Peers()
	if len(peers) != 1 || peers[0] != alive.url {
		t.Errorf("surviving peers = %v, want [%s]", peers, alive.url)
	}
}

func TestNetworkStatus(t *testing.T) {
	alive := newTestNode(t, "alive", nil)
	node := newTestNode(t, "node-a", []string{"http://boot.example:8000"})

	node.registry.AddPeer(alive.url)
	node.registry.AddPeer(deadPeerURL(t))

	status := node.registry.NetworkStatus()
	if status.Total != 2 || status.Healthy != 1 || status.Unhealthy != 1 {
		t.Errorf("status = %+v", status)
	}
	if len(status.BootstrapNodes) != 1 {
		t.Errorf("bootstrap nodes = %v", status.BootstrapNodes)
	}
	if status.LastUpdated.IsZero() {
		t.Error("last_updated should be set")
	}
}

func TestBroadcastTriage(t *testing.T) {
	sender := newTestNode(t, "sender", nil)
	receiver := newTestNode(t, "receiver", nil)

	// A peer that rejects every push.
	rejecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"no"}`, http.StatusBadRequest)
	}))
	defer rejecting.Close()

	dead := deadPeerURL(t)
	sender.registry.AddPeer(receiver.url)
	sender.registry.AddPeer(rejecting.URL)
	sender.registry.AddPeer(dead)

	mintPages(t, sender.store, 1)
	tip := sender.store.Tip()

	b := NewBroadcaster(sender.registry, sender.client)
	result := b.BroadcastPage(*tip)

	if len(result.SentTo) != 1 || result.SentTo[0] != receiver.url {
		t.Errorf("sent_to = %v", result.SentTo)
	}
	if len(result.Failed) != 1 || result.Failed[0] != rejecting.URL {
		t.Errorf("failed = %v", result.Failed)
	}
	if len(result.Unreachable) != 1 || result.Unreachable[0] != dead {
		t.Errorf("unreachable = %v", result.Unreachable)
	}

	// The unreachable peer is pruned; the rejecting one stays.
	peers := sender.registry.Peers()
	if len(peers) != 2 {
		t.Errorf("peers after broadcast = %v", peers)
	}
	for _, u := range peers {
		if u == dead {
			t.Error("unreachable peer should have been pruned")
		}
	}

	// The receiver actually applied the page.
	if receiver.store.Height() != 1 {
		t.Errorf("receiver height = %d, want 1", receiver.store.Height())
	}
}

func TestSyncWithNetwork(t *testing.T) {
	ahead := newTestNode(t, "ahead", nil)
	behind := newTestNode(t, "behind", nil)

	mintPages(t, ahead.store, 10)
	mintPages(t, behind.store, 3)

	// behind's first 3 pages differ from ahead's chain, so start it empty
	// instead: sync only ever extends, it does not reorg.
	fresh := newTestNode(t, "fresh", nil)
	fresh.registry.AddPeer(ahead.url)
	fresh.registry.AddPeer(behind.url)

	if err := fresh.syncer.SyncWithNetwork(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if got := fresh.store.Height(); got != 10 {
		t.Errorf("height after sync = %d, want 10", got)
	}
	if fresh.syncer.Status().LastSyncTime.IsZero() {
		t.Error("last sync time not recorded")
	}

	// The synced chain links correctly end to end.
	pages := fresh.store.PageRange(0, 100)
	var prev *page.Page
	for i := range pages {
		if err := pages[i].Verify(prev); err != nil {
			t.Fatalf("page %d invalid after sync: %v", i, err)
		}
		prev = &pages[i]
	}
}

func TestSyncNoPeersSucceeds(t *testing.T) {
	node := newTestNode(t, "loner", nil)
	if err := node.syncer.SyncWithNetwork(); err != nil {
		t.Errorf("isolated sync should succeed, got %v", err)
	}
}

func TestSyncAlreadyAtHeight(t *testing.T) {
	a := newTestNode(t, "a", nil)
	b := newTestNode(t, "b", nil)
	mintPages(t, a.store, 5)

	// b is behind a but a only knows b, which is not ahead.
	a.registry.AddPeer(b.url)
	if err := a.syncer.SyncWithNetwork(); err != nil {
		t.Errorf("sync with no taller peer should succeed, got %v", err)
	}
	if a.store.Height() != 5 {
		t.Errorf("height changed to %d", a.store.Height())
	}
}

func TestSyncRejectsTamperedBatch(t *testing.T) {
	source := newTestNode(t, "source", nil)
	mintPages(t, source.store, 5)

	// Serve the real chain but with one page's data swapped out, which
	// breaks its hash.
	tampered := source.store.PageRange(0, 5)
	tampered[2].Data = json.RawMessage(`{"evil":true}`)

	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/health":
			json.NewEncoder(w).Encode(map[string]string{"status": "healthy", "node_id": "fake"})
		case "/api/blockchain/info":
			json.NewEncoder(w).Encode(map[string]uint64{"height": 5})
		case "/api/blockchain/blocks":
			json.NewEncoder(w).Encode(map[string]interface{}{"blocks": tampered})
		default:
			http.NotFound(w, r)
		}
	}))
	defer fake.Close()

	victim := newTestNode(t, "victim", nil)
	victim.registry.AddPeer(fake.URL)

	if err := victim.syncer.SyncWithNetwork(); err == nil {
		t.Fatal("sync from tampered peer should fail")
	}
	if victim.store.Height() != 0 {
		t.Errorf("height = %d after rejected batch, want 0", victim.store.Height())
	}
	if !victim.syncer.Status().LastSyncTime.IsZero() {
		t.Error("last sync time recorded for a failed sync")
	}
}

func TestInfoRejectsUndecodableBody(t *testing.T) {
	// 200 with a body that is not the info payload must be an error, not
	// a silent height 0.
	junk := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>maintenance</html>")
	}))
	defer junk.Close()

	if _, err := NewClient().Info(junk.URL); err == nil {
		t.Fatal("expected error for undecodable info body")
	}
}

func TestSyncConcurrencyGuard(t *testing.T) {
	// A peer whose height probe blocks until released, so the first sync
	// provably holds the sync slot while the second one is attempted.
	entered := make(chan struct{}, 8)
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/api/blockchain/info" {
			entered <- struct{}{}
			<-release
			json.NewEncoder(w).Encode(map[string]uint64{"height": 0})
			return
		}
		http.NotFound(w, r)
	}))
	defer slow.Close()

	node := newTestNode(t, "node", nil)
	node.registry.AddPeer(slow.URL)

	firstErr := make(chan error, 1)
	go func() { firstErr <- node.syncer.SyncWithNetwork() }()

	<-entered
	if err := node.syncer.SyncWithNetwork(); err != ErrSyncInProgress {
		t.Errorf("concurrent sync = %v, want ErrSyncInProgress", err)
	}
	close(release)

	if err := <-firstErr; err != nil {
		t.Errorf("first sync = %v", err)
	}

	// The slot is released once the first sync returns.
	if err := node.syncer.SyncWithNetwork(); err != nil {
		t.Errorf("sync after release = %v", err)
	}
}

func TestManualSyncWithPeer(t *testing.T) {
	ahead := newTestNode(t, "ahead", nil)
	mintPages(t, ahead.store, 4)

	behind := newTestNode(t, "behind", nil)
	if err := behind.syncer.ManualSyncWithPeer(ahead.url); err != nil {
		t.Fatalf("manual sync: %v", err)
	}
	if behind.store.Height() != 4 {
		t.Errorf("height = %d, want 4", behind.store.Height())
	}

	if err := behind.syncer.ManualSyncWithPeer("bogus"); err == nil {
		t.Error("malformed peer URL should error")
	}
}

func TestBootstrapNetwork(t *testing.T) {
	// Seed knows another live node; bootstrapping should learn both.
	other := newTestNode(t, "other", nil)
	seed := newTestNode(t, "seed", nil)
	seed.registry.AddPeer(other.url)

	joiner := newTestNode(t, "joiner", []string{seed.url, "http://127.0.0.1:1"})

	if !joiner.registry.BootstrapNetwork() {
		t.Fatal("bootstrap should succeed with a live seed")
	}

	peers := joiner.registry.Peers()
	found := map[string]bool{}
	for _, u := range peers {
		found[u] = true
	}
	if !found[seed.url] {
		t.Errorf("seed missing from peers: %v", peers)
	}
	if !found[other.url] {
		t.Errorf("discovered peer missing: %v", peers)
	}
}

func TestBootstrapAllDead(t *testing.T) {
	joiner := newTestNode(t, "joiner", []string{"http://127.0.0.1:1"})
	if joiner.registry.BootstrapNetwork() {
		t.Error("bootstrap with only dead seeds should fail")
	}
	if joiner.registry.Count() != 0 {
		t.Errorf("no peers should be added, got %d", joiner.registry.Count())
	}
}

func TestServerEndpoints(t *testing.T) {
	node := newTestNode(t, "node-x", nil)
	mintPages(t, node.store, 2)

	// /api/health
	nodeID, ok := node.client.Health(node.url)
	if !ok || nodeID != "node-x" {
		t.Errorf("health = %q, %v", nodeID, ok)
	}

	// /api/blockchain/info
	h, err := node.client.Info(node.url)
	if err != nil || h != 2 {
		t.Errorf("info = %d, %v", h, err)
	}

	// /api/blockchain/blocks range clamp
	blocks, err := node.client.Blocks(node.url, 1, 50)
	if err != nil || len(blocks) != 1 || blocks[0].Index != 1 {
		t.Errorf("blocks = %v, %v", blocks, err)
	}

	// /api/blockchain/peers
	node.registry.AddPeer("http://10.1.1.1:8000")
	peers, err := node.client.Peers(node.url)
	if err != nil || len(peers) != 1 {
		t.Errorf("peers = %v, %v", peers, err)
	}
}

func TestServerAddPageEndpoint(t *testing.T) {
	dir := t.TempDir()
	store, err := ledger.Open(filepath.Join(dir, "ledger.json"), 100)
	if err != nil {
		t.Fatal(err)
	}
	client := NewClient()
	registry := NewRegistry(filepath.Join(dir, "peers.json"), nil, client)
	syncer := NewSynchronizer(store, registry, client, 30)

	mint := func(data json.RawMessage) (string, error) {
		return store.AddPage(data, "operator", "")
	}
	srv := NewServer("127.0.0.1:0", "minty", store, registry, syncer, nil, mint, config.RPCConfig{})
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	defer srv.Stop()
	url := "http://" + srv.Addr()

	resp, err := client.bulk.R().
		SetBody(map[string]interface{}{"data": map[string]string{"kind": "petition"}}).
		Post(url + "/api/blockchain/pages")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode() != 200 {
		t.Fatalf("add page HTTP %d: %s", resp.StatusCode(), resp.String())
	}
	if store.Height() != 1 {
		t.Errorf("height = %d, want 1", store.Height())
	}

	// Missing data field is a 400.
	resp, err = client.bulk.R().SetBody(map[string]string{}).Post(url + "/api/blockchain/pages")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode() != 400 {
		t.Errorf("empty data HTTP %d, want 400", resp.StatusCode())
	}
}

func TestServerRejectsBadGossip(t *testing.T) {
	node := newTestNode(t, "node", nil)
	mintPages(t, node.store, 2)

	// A page that does not extend the tip.
	p := page.Page{Index: 7, PreviousHash: "nope", Timestamp: "2026-01-01T00:00:00Z", Data: json.RawMessage(`{}`)}
	if got := node.client.PushBlock(node.url, p); got != PushRejected {
		t.Errorf("push of bad page = %v, want PushRejected", got)
	}
	if node.store.Height() != 2 {
		t.Errorf("height changed to %d", node.store.Height())
	}
}
