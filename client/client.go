// Package client implements the consensus node API client used as the
// verifier's header source and state reader. The client is untrusted
// transport: everything it returns is verified by the light client before
// use.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ruteri/enclave-trust-core/interfaces"
)

// Client talks to a consensus node's HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

var (
	_ interfaces.HeaderSource = (*Client)(nil)
	_ interfaces.StateReader  = (*Client)(nil)
)

// New creates a consensus node client for the given base URL.
func New(baseURL string, log *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log,
	}
}

// LightBlock fetches the consensus header at the given height.
func (c *Client) LightBlock(ctx context.Context, height uint64) (*interfaces.LightBlock, error) {
	var block interfaces.LightBlock
	if err := c.get(ctx, fmt.Sprintf("/v1/consensus/lightblock/%d", height), &block); err != nil {
		return nil, err
	}
	return &block, nil
}

// LatestHeight returns the node's latest known height.
func (c *Client) LatestHeight(ctx context.Context) (uint64, error) {
	var resp struct {
		Height uint64 `json:"height"`
	}
	if err := c.get(ctx, "/v1/consensus/height", &resp); err != nil {
		return 0, err
	}
	return resp.Height, nil
}

// Node fetches a single registry node record at the given height. Returns
// (nil, nil) if the node is not registered.
func (c *Client) Node(ctx context.Context, height uint64, id interfaces.PublicKey) (*interfaces.NodeRecord, error) {
	var node interfaces.NodeRecord
	err := c.get(ctx, fmt.Sprintf("/v1/registry/node/%s?height=%d", id.String(), height), &node)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &node, nil
}

// Nodes lists all registry node records at the given height.
func (c *Client) Nodes(ctx context.Context, height uint64) ([]*interfaces.NodeRecord, error) {
	var nodes []*interfaces.NodeRecord
	if err := c.get(ctx, fmt.Sprintf("/v1/registry/nodes?height=%d", height), &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

var errNotFound = errors.New("not found")

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("consensus node request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("consensus node returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
