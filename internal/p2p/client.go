// Package p2p implements peer tracking, gossip, and chain synchronization
// over the node's HTTP wire protocol.
package p2p

import (
	"fmt"
	"time"

	"github.com/civicmesh/civic-chain/pkg/page"
	"github.com/go-resty/resty/v2"
)

// Wire timeouts: lightweight GETs get 5s, block transfers get 10s.
// Every outbound call is bounded; nothing blocks indefinitely.
const (
	quickTimeout = 5 * time.Second
	bulkTimeout  = 10 * time.Second
)

// healthResponse is the /api/health payload.
type healthResponse struct {
	Status string `json:"status"`
	NodeID string `json:"node_id"`
}

// infoResponse is the /api/blockchain/info payload.
type infoResponse struct {
	Height uint64 `json:"height"`
}

// blocksResponse is the /api/blockchain/blocks payload.
type blocksResponse struct {
	Blocks []page.Page `json:"blocks"`
}

// peersResponse is the /api/blockchain/peers payload.
type peersResponse struct {
	Peers []string `json:"peers"`
}

// Client is the HTTP client for talking to peers.
type Client struct {
	quick *resty.Client // 5s timeout, health/info/peers
	bulk  *resty.Client // 10s timeout, block push/pull
}

// NewClient creates a peer HTTP client.
func NewClient() *Client {
	return &Client{
		quick: resty.New().SetTimeout(quickTimeout),
		bulk:  resty.New().SetTimeout(bulkTimeout),
	}
}

// Health probes {url}/api/health. A peer is healthy only on HTTP 200 with
// status "healthy" and a non-empty node_id. Any transport error, bad
// status, or malformed body yields false, never an error.
func (c *Client) Health(url string) (string, bool) {
	var body healthResponse
	resp, err := c.quick.R().
		SetResult(&body).
		ForceContentType("application/json").
		Get(url + "/api/health")
	if err != nil || resp.StatusCode() != 200 {
		return "", false
	}
	if body.Status != "healthy" || body.NodeID == "" {
		return "", false
	}
	return body.NodeID, true
}

// Info fetches a peer's chain height from {url}/api/blockchain/info.
// The body is decoded as JSON regardless of the response content type, so
// a peer answering 200 with an undecodable body is a failure, not height 0.
func (c *Client) Info(url string) (uint64, error) {
	var body infoResponse
	resp, err := c.quick.R().
		SetResult(&body).
		ForceContentType("application/json").
		Get(url + "/api/blockchain/info")
	if err != nil {
		return 0, fmt.Errorf("info %s: %w", url, err)
	}
	if resp.StatusCode() != 200 {
		return 0, fmt.Errorf("info %s: HTTP %d", url, resp.StatusCode())
	}
	return body.Height, nil
}

// Blocks downloads up to limit pages starting at from.
func (c *Client) Blocks(url string, from uint64, limit int) ([]page.Page, error) {
	var body blocksResponse
	resp, err := c.bulk.R().
		SetQueryParam("from", fmt.Sprintf("%d", from)).
		SetQueryParam("limit", fmt.Sprintf("%d", limit)).
		SetResult(&body).
		ForceContentType("application/json").
		Get(url + "/api/blockchain/blocks")
	if err != nil {
		return nil, fmt.Errorf("blocks %s: %w", url, err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("blocks %s: HTTP %d", url, resp.StatusCode())
	}
	return body.Blocks, nil
}

// Peers fetches a peer's known-peer list.
func (c *Client) Peers(url string) ([]string, error) {
	var body peersResponse
	resp, err := c.quick.R().
		SetResult(&body).
		ForceContentType("application/json").
		Get(url + "/api/blockchain/peers")
	if err != nil {
		return nil, fmt.Errorf("peers %s: %w", url, err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("peers %s: HTTP %d", url, resp.StatusCode())
	}
	return body.Peers, nil
}

// PushResult classifies the outcome of a block push.
type PushResult int

const (
	// PushAccepted means the peer returned HTTP 200.
	PushAccepted PushResult = iota
	// PushRejected means the peer answered with a non-200 status.
	PushRejected
	// PushUnreachable means the request failed at the transport level.
	PushUnreachable
)

// PushBlock posts a page to {url}/api/blockchain/new_block.
func (c *Client) PushBlock(url string, p page.Page) PushResult {
	resp, err := c.bulk.R().SetBody(p).Post(url + "/api/blockchain/new_block")
	if err != nil {
		return PushUnreachable
	}
	if resp.StatusCode() != 200 {
		return PushRejected
	}
	return PushAccepted
}
