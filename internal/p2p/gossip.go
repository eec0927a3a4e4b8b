package p2p

import (
	klog "github.com/civicmesh/civic-chain/internal/log"
	"github.com/civicmesh/civic-chain/pkg/page"
	"github.com/rs/zerolog"
)

// BroadcastResult triages peers by push outcome for one broadcast.
type BroadcastResult struct {
	SentTo      []string `json:"sent_to"`
	Failed      []string `json:"failed"`
	Unreachable []string `json:"unreachable"`
}

// Broadcaster pushes freshly minted pages to every known peer. Push is a
// latency optimization only: the periodic pull sync is what actually
// converges the network, so there is no retry queue for failed pushes.
type Broadcaster struct {
	registry *Registry
	client   *Client
	logger   zerolog.Logger
}

// NewBroadcaster creates a broadcaster over the given peer set.
func NewBroadcaster(registry *Registry, client *Client) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		client:   client,
		logger:   klog.P2P,
	}
}

// BroadcastPage pushes p to every known peer, once each, no retries.
// A rejection is the peer's business (it may already have the page or be
// ahead); an unreachable peer is dropped from the registry on the spot.
func (b *Broadcaster) BroadcastPage(p page.Page) BroadcastResult {
	result := BroadcastResult{
		SentTo:      []string{},
		Failed:      []string{},
		Unreachable: []string{},
	}

	for _, url := range b.registry.Peers() {
		switch b.client.PushBlock(url, p) {
		case PushAccepted:
			result.SentTo = append(result.SentTo, url)
		case PushRejected:
			result.Failed = append(result.Failed, url)
		case PushUnreachable:
			result.Unreachable = append(result.Unreachable, url)
			b.registry.RemovePeer(url)
		}
	}

	b.logger.Info().
		Uint64("index", p.Index).
		Int("sent", len(result.SentTo)).
		Int("failed", len(result.Failed)).
		Int("unreachable", len(result.Unreachable)).
		Msg("Page broadcast")
	return result
}
