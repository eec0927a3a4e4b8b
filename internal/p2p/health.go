package p2p

import "time"

// NetworkStatus summarizes a full health sweep of the known peer set.
type NetworkStatus struct {
	Total          int       `json:"total"`
	Healthy        int       `json:"healthy"`
	Unhealthy      int       `json:"unhealthy"`
	PeerList       PeerList  `json:"peer_list"`
	BootstrapNodes []string  `json:"bootstrap_nodes"`
	LastUpdated    time.Time `json:"last_updated"`
}

// PeerList splits peers by health-check outcome.
type PeerList struct {
	Healthy   []string `json:"healthy"`
	Unhealthy []string `json:"unhealthy"`
}

// CheckPeerHealth probes one peer's /api/health endpoint.
func (r *Registry) CheckPeerHealth(url string) bool {
	_, ok := r.client.Health(url)
	return ok
}

// CleanupPeers health-checks every known peer and rewrites the persisted
// set to only the healthy ones. Returns how many were dropped.
//
// The sweep is sequential on the caller's thread: with the target scale of
// tens of peers and a 5s probe cap, that is an accepted tradeoff.
func (r *Registry) CleanupPeers() int {
	peers := r.Peers()

	var healthy []string
	for _, u := range peers {
		if r.CheckPeerHealth(u) {
			healthy = append(healthy, u)
		} else {
			r.logger.Info().Str("url", u).Msg("Dropping unhealthy peer")
		}
	}

	removed := len(peers) - len(healthy)
	if removed > 0 {
		r.replaceAll(healthy)
	}
	return removed
}

// NetworkStatus performs a synchronous health sweep of every known peer.
// Worst case wall time is peers x 5s when all are unreachable.
func (r *Registry) NetworkStatus() NetworkStatus {
	peers := r.Peers()

	status := NetworkStatus{
		Total:          len(peers),
		BootstrapNodes: r.bootstrap,
		LastUpdated:    time.Now().UTC(),
		PeerList: PeerList{
			Healthy:   []string{},
			Unhealthy: []string{},
		},
	}

	for _, u := range peers {
		if r.CheckPeerHealth(u) {
			status.PeerList.Healthy = append(status.PeerList.Healthy, u)
		} else {
			status.PeerList.Unhealthy = append(status.PeerList.Unhealthy, u)
		}
	}
	status.Healthy = len(status.PeerList.Healthy)
	status.Unhealthy = len(status.PeerList.Unhealthy)
	return status
}
