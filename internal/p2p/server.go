package p2p

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/civicmesh/civic-chain/config"
	klog "github.com/civicmesh/civic-chain/internal/log"
	"github.com/civicmesh/civic-chain/internal/ledger"
	"github.com/civicmesh/civic-chain/internal/validator"
	"github.com/civicmesh/civic-chain/pkg/page"
	"github.com/rs/zerolog"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// blocksDefaultLimit and blocksMaxLimit bound the page download endpoint.
const (
	blocksDefaultLimit = 50
	blocksMaxLimit     = 500
)

// MintFunc mints, persists, and gossips a locally-authored page, returning
// its hash. Wired in by the node so the server does not own signing.
type MintFunc func(data json.RawMessage) (string, error)

// Server is the node's HTTP API: the peer wire protocol plus the operator
// endpoints.
type Server struct {
	addr        string
	nodeID      string
	store       *ledger.Store
	registry    *Registry
	syncer      *Synchronizer
	validators  *validator.Registry // nil = validator queries disabled
	mint        MintFunc            // nil = local page writes disabled
	server      *http.Server
	ln          net.Listener
	allowedNets []*net.IPNet // Empty = allow all.
	corsOrigins []string     // Empty = no CORS headers.
	logger      zerolog.Logger
}

// NewServer creates the API server. A zero-value RPCConfig allows all IPs
// and disables CORS.
func NewServer(addr, nodeID string, store *ledger.Store, registry *Registry,
	syncer *Synchronizer, validators *validator.Registry, mint MintFunc,
	rpcCfg config.RPCConfig) *Server {

	s := &Server{
		addr:        addr,
		nodeID:      nodeID,
		store:       store,
		registry:    registry,
		syncer:      syncer,
		validators:  validators,
		mint:        mint,
		allowedNets: parseAllowedIPs(rpcCfg.AllowedIPs),
		corsOrigins: rpcCfg.CORSOrigins,
		logger:      klog.RPC,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.wrap(s.handleHealth))
	mux.HandleFunc("/api/blockchain/info", s.wrap(s.handleInfo))
	mux.HandleFunc("/api/blockchain/blocks", s.wrap(s.handleBlocks))
	mux.HandleFunc("/api/blockchain/peers", s.wrap(s.handlePeers))
	mux.HandleFunc("/api/blockchain/peers/cleanup", s.wrap(s.handlePeersCleanup))
	mux.HandleFunc("/api/blockchain/peers/discover", s.wrap(s.handlePeersDiscover))
	mux.HandleFunc("/api/blockchain/network", s.wrap(s.handleNetwork))
	mux.HandleFunc("/api/blockchain/new_block", s.wrap(s.handleNewBlock))
	mux.HandleFunc("/api/blockchain/pages", s.wrap(s.handleAddPage))
	mux.HandleFunc("/api/blockchain/status", s.wrap(s.handleStatus))
	mux.HandleFunc("/api/blockchain/sync", s.wrap(s.handleSync))
	mux.HandleFunc("/api/blockchain/validators", s.wrap(s.handleValidators))

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return s
}

// parseAllowedIPs converts string IP/CIDR entries into net.IPNet.
func parseAllowedIPs(entries []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, entry := range entries {
		_, ipNet, err := net.ParseCIDR(entry)
		if err == nil {
			nets = append(nets, ipNet)
			continue
		}
		// Try as a single IP (add /32 or /128).
		ip := net.ParseIP(entry)
		if ip == nil {
			continue
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets
}

// Start begins listening and serving in a background goroutine.
// It returns immediately after the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.ln = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("API server listening")
	return nil
}

// Addr returns the listener address (useful when bound to :0).
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// wrap applies IP filtering and CORS before the route handler.
func (s *Server) wrap(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(s.allowedNets) > 0 {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			ip := net.ParseIP(host)
			if ip == nil || !s.isIPAllowed(ip) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
		}

		s.setCORSHeaders(w, r)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		h(w, r)
	}
}

// isIPAllowed checks if the IP is in the allowed networks list.
func (s *Server) isIPAllowed(ip net.IP) bool {
	for _, n := range s.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// setCORSHeaders adds CORS headers based on the configured origins.
func (s *Server) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	if len(s.corsOrigins) == 0 {
		return
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}

	allowed := false
	for _, o := range s.corsOrigins {
		if o == "*" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			allowed = true
			break
		}
		if o == origin {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			allowed = true
			break
		}
	}
	if allowed {
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	}
}

// writeJSON writes a JSON body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeErr writes a JSON error body.
func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// readBody reads a size-capped request body.
func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxBodySize {
		return nil, fmt.Errorf("request body too large")
	}
	return body, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "only GET is allowed")
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", NodeID: s.nodeID})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "only GET is allowed")
		return
	}
	writeJSON(w, http.StatusOK, infoResponse{Height: s.store.Height()})
}

func (s *Server) handleBlocks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "only GET is allowed")
		return
	}

	var from uint64
	if v := r.URL.Query().Get("from"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "invalid from parameter")
			return
		}
		from = n
	}

	limit := blocksDefaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeErr(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		limit = n
	}
	if limit > blocksMaxLimit {
		limit = blocksMaxLimit
	}

	writeJSON(w, http.StatusOK, blocksResponse{Blocks: s.store.PageRange(from, limit)})
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, peersResponse{Peers: s.registry.Peers()})
	case http.MethodPost:
		body, err := readBody(r)
		if err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		var req struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal(body, &req); err != nil || req.URL == "" {
			writeErr(w, http.StatusBadRequest, "body must be {\"url\": \"http://...\"}")
			return
		}
		if !validPeerURL(req.URL) {
			writeErr(w, http.StatusBadRequest, "peer URL must start with http:// or https://")
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"added": s.registry.AddPeer(req.URL)})
	case http.MethodDelete:
		url := r.URL.Query().Get("url")
		if url == "" {
			writeErr(w, http.StatusBadRequest, "url query parameter required")
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"removed": s.registry.RemovePeer(url)})
	default:
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handlePeersCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "only POST is allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": s.registry.CleanupPeers()})
}

func (s *Server) handlePeersDiscover(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "only POST is allowed")
		return
	}
	added := s.registry.DiscoverPeers(nil)
	if added == nil {
		added = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"added": added})
}

func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "only GET is allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.registry.NetworkStatus())
}

func (s *Server) handleNewBlock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "only POST is allowed")
		return
	}

	body, err := readBody(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	var p page.Page
	if err := json.Unmarshal(body, &p); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid page JSON")
		return
	}

	if err := s.store.AppendRemote(p); err != nil {
		s.logger.Debug().Err(err).Uint64("index", p.Index).Msg("Gossiped page rejected")
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info().Uint64("index", p.Index).Str("from", r.RemoteAddr).Msg("Gossiped page accepted")
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) handleAddPage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "only POST is allowed")
		return
	}
	if s.mint == nil {
		writeErr(w, http.StatusServiceUnavailable, "local page writes disabled")
		return
	}

	body, err := readBody(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &req); err != nil || len(req.Data) == 0 {
		writeErr(w, http.StatusBadRequest, "body must be {\"data\": <json>}")
		return
	}

	hash, err := s.mint(req.Data)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"hash": hash})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "only GET is allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"node_id": s.nodeID,
		"height":  s.store.Height(),
		"peers":   s.registry.Count(),
		"sync":    s.syncer.Status(),
	})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "only POST is allowed")
		return
	}

	body, err := readBody(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		Peer string `json:"peer"`
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}

	if req.Peer != "" {
		err = s.syncer.ManualSyncWithPeer(req.Peer)
	} else {
		err = s.syncer.SyncWithNetwork()
	}
	if errors.Is(err, ErrSyncInProgress) {
		writeErr(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "synced",
		"height": s.store.Height(),
	})
}

func (s *Server) handleValidators(w http.ResponseWriter, r *http.Request) {
	if s.validators == nil {
		if r.Method == http.MethodGet {
			writeJSON(w, http.StatusOK, map[string]interface{}{"validators": []validator.Record{}})
			return
		}
		writeErr(w, http.StatusServiceUnavailable, "validator registry disabled")
		return
	}

	switch r.Method {
	case http.MethodGet:
		list, err := s.validators.List()
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		if list == nil {
			list = []validator.Record{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"validators": list})
	case http.MethodPost:
		body, err := readBody(r)
		if err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		var req struct {
			Identity  string `json:"identity"`
			PublicKey string `json:"public_key"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		if err := s.validators.Add(req.Identity, req.PublicKey); err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "registered"})
	case http.MethodDelete:
		id := r.URL.Query().Get("identity")
		if id == "" {
			writeErr(w, http.StatusBadRequest, "identity query parameter required")
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"removed": s.validators.Remove(id)})
	default:
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
