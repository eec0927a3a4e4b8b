package p2p

// DiscoverPeers asks seed peers for their peer lists and adds every new,
// healthy candidate. When seeds is nil the current peer set is used,
// falling back to the bootstrap list if that is empty. One-hop only: no
// transitive crawl beyond the seeds' own peers.
//
// Returns the URLs that were newly added.
func (r *Registry) DiscoverPeers(seeds []string) []string {
	if len(seeds) == 0 {
		seeds = r.Peers()
	}
	if len(seeds) == 0 {
		seeds = r.bootstrap
	}

	var added []string
	for _, seed := range seeds {
		if !r.CheckPeerHealth(seed) {
			r.logger.Debug().Str("seed", seed).Msg("Seed unhealthy, skipping discovery")
			continue
		}

		candidates, err := r.client.Peers(seed)
		if err != nil {
			r.logger.Debug().Err(err).Str("seed", seed).Msg("Peer list fetch failed")
			continue
		}

		for _, candidate := range candidates {
			if candidate == seed || !validPeerURL(candidate) {
				continue
			}
			r.mu.Lock()
			_, known := r.peers[candidate]
			r.mu.Unlock()
			if known {
				continue
			}
			if !r.CheckPeerHealth(candidate) {
				continue
			}
			if r.AddPeer(candidate) {
				added = append(added, candidate)
			}
		}
	}

	if len(added) > 0 {
		r.logger.Info().Int("added", len(added)).Msg("Peer discovery complete")
	}
	return added
}

// BootstrapNetwork health-checks each configured bootstrap node, adds the
// reachable ones, and runs one discovery pass if any bootstrap connection
// succeeded. Returns whether any bootstrap connection succeeded.
func (r *Registry) BootstrapNetwork() bool {
	connected := false
	for _, seed := range r.bootstrap {
		if r.CheckPeerHealth(seed) {
			r.AddPeer(seed)
			connected = true
		} else {
			r.logger.Debug().Str("url", seed).Msg("Bootstrap node unreachable")
		}
	}

	if connected {
		r.DiscoverPeers(nil)
	} else if len(r.bootstrap) > 0 {
		r.logger.Warn().Msg("No bootstrap node reachable")
	}
	return connected
}
