// Package agentclient is the control plane's RPC client for talking to a
// remote worker agent's HTTP surface. It is the mirror image of
// internal/agent/http.go: that package serves these endpoints, this one
// calls them.
package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client calls a single Worker Agent's HTTP surface at a known address.
type Client struct {
	httpClient *http.Client
}

// New constructs an agent client. Per-call timeouts are applied via
// context, not a single client-wide timeout, since spawn and shutdown have
// different budgets.
func New() *Client {
	return &Client{httpClient: &http.Client{}}
}

// SpawnServer asks the agent at baseURL to launch a server. Budget: 10s.
func (c *Client) SpawnServer(ctx context.Context, baseURL, uid string, port int, ownerID string) (string, int, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	body, _ := json.Marshal(map[string]interface{}{"uid": uid, "port": port, "owner_id": ownerID})

	var out struct {
		UID  string `json:"uid"`
		Port int    `json:"port"`
	}
	if err := c.post(ctx, baseURL+"/spawn_server", body, &out); err != nil {
		return "", 0, err
	}
	return out.UID, out.Port, nil
}

// Shutdown tells the agent to begin draining. Budget: 5s.
func (c *Client) Shutdown(ctx context.Context, baseURL string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.post(ctx, baseURL+"/shutdown", nil, nil)
}

// StatusResponse mirrors the agent's /status payload.
type StatusResponse struct {
	HostID       string   `json:"host_id"`
	ServerCount  int      `json:"server_count"`
	Draining     bool     `json:"draining"`
	PendingSaves []string `json:"pending_saves"`
}

// Status fetches a remote agent's current status. Budget: 5s.
func (c *Client) Status(ctx context.Context, baseURL string) (*StatusResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/status", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("agent status: status %d", resp.StatusCode)
	}

	var out StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, url string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("agent rpc %s: status %d: %s", url, resp.StatusCode, string(respBody))
	}

	if out != nil && len(respBody) > 0 {
		return json.Unmarshal(respBody, out)
	}
	return nil
}
