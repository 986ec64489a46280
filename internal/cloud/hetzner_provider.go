package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bloxon/controlplane/pkg/logger"
)

const hetznerAPIBase = "https://api.hetzner.cloud/v1"

// bootstrapScriptTemplate is the cloud-init user-data rendered for every
// new host. It is idempotent under retry, downloads the worker-agent
// binary from the control plane using the shared access key, and launches
// it as a background process.
const bootstrapScriptTemplate = `#!/bin/bash
set -e

mkdir -p /root/worker-agent
cd /root/worker-agent

echo "Downloading worker agent binary..."
curl -fsS -X POST {{CONTROL_PLANE_URL}}/download_binary \
  -H "Content-Type: application/json" \
  -d '{"access_key":"{{ACCESS_KEY}}","binary":"worker-agent"}' \
  -o worker-agent
chmod +x worker-agent

if [ ! -f worker-agent ]; then
    echo "failed to download worker agent binary"
    exit 1
fi

export HOST_ID="{{HOST_ID}}"
export CONTROL_PLANE_URL="{{CONTROL_PLANE_URL}}"
export ACCESS_KEY="{{ACCESS_KEY}}"
export BINARY_VERSION="{{BINARY_VERSION}}"

nohup ./worker-agent > /var/log/worker-agent.log 2>&1 &

echo "worker agent started"
`

func renderBootstrapScript(spec HostSpec) string {
	s := bootstrapScriptTemplate
	s = strings.ReplaceAll(s, "{{CONTROL_PLANE_URL}}", spec.ControlPlaneURL)
	s = strings.ReplaceAll(s, "{{ACCESS_KEY}}", spec.AccessKey)
	s = strings.ReplaceAll(s, "{{HOST_ID}}", spec.HostID)
	s = strings.ReplaceAll(s, "{{BINARY_VERSION}}", spec.BinaryVersion)
	return s
}

// HetznerProvider implements Provider against the Hetzner Cloud API with a
// plain net/http client.
type HetznerProvider struct {
	token      string
	httpClient *http.Client
	image      string
	serverType string
	location   string
}

// NewHetznerProvider creates a Hetzner-backed Cloud Provisioner.
func NewHetznerProvider(token, image, serverType, location string) *HetznerProvider {
	return &HetznerProvider{
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		image:      image,
		serverType: serverType,
		location:   location,
	}
}

type hetznerCreateResponse struct {
	Server hetznerServer `json:"server"`
	Action hetznerAction `json:"action"`
}

type hetznerServer struct {
	ID        int64             `json:"id"`
	Name      string            `json:"name"`
	Status    string            `json:"status"`
	PublicNet hetznerPublicNet  `json:"public_net"`
	Labels    map[string]string `json:"labels"`
}

type hetznerPublicNet struct {
	IPv4 hetznerIPv4 `json:"ipv4"`
}

type hetznerIPv4 struct {
	IP string `json:"ip"`
}

type hetznerAction struct {
	ID       int64  `json:"id"`
	Status   string `json:"status"` // "running", "success", "error"
	Progress int    `json:"progress"`
}

type hetznerActionResponse struct {
	Action hetznerAction `json:"action"`
}

type hetznerListResponse struct {
	Servers []hetznerServer `json:"servers"`
}

type hetznerGetResponse struct {
	Server hetznerServer `json:"server"`
}

// CreateHost submits the create request with the rendered bootstrap script,
// polls the Hetzner action until it completes, then waits for the worker
// agent to answer on the returned address. Any failure after the server
// was created deletes it before returning.
func (p *HetznerProvider) CreateHost(ctx context.Context, spec HostSpec) (*ProvisionedHost, error) {
	serverType := spec.ServerType
	if serverType == "" {
		serverType = p.serverType
	}
	image := spec.Image
	if image == "" {
		image = p.image
	}
	location := spec.Location
	if location == "" {
		location = p.location
	}

	payload := map[string]interface{}{
		"name":               fmt.Sprintf("worker-%s", shortID(spec.HostID)),
		"server_type":        serverType,
		"image":              image,
		"location":           location,
		"user_data":          renderBootstrapScript(spec),
		"start_after_create": true,
		"labels": map[string]string{
			"type":    "game-worker",
			"host_id": spec.HostID,
		},
	}

	var created hetznerCreateResponse
	if err := p.request(ctx, http.MethodPost, "/servers", payload, &created); err != nil {
		return nil, fmt.Errorf("create host: %w", err)
	}

	resourceID := fmt.Sprintf("%d", created.Server.ID)

	if err := p.waitForAction(ctx, created.Action.ID); err != nil {
		_, _ = p.DeleteHost(ctx, resourceID)
		return nil, fmt.Errorf("create host: action failed: %w", err)
	}

	server, err := p.GetHost(ctx, resourceID)
	if err != nil {
		_, _ = p.DeleteHost(ctx, resourceID)
		return nil, fmt.Errorf("create host: fetch after create: %w", err)
	}
	server.HostID = spec.HostID

	if err := p.WaitReady(ctx, server.Address, agentReadyTimeout); err != nil {
		_, _ = p.DeleteHost(ctx, resourceID)
		return nil, fmt.Errorf("create host: %w", err)
	}
	return server, nil
}

// agentReadyTimeout bounds the post-create wait for the worker agent's
// status endpoint to start answering; on timeout the resource is deleted
// and the create fails.
const agentReadyTimeout = 120 * time.Second

func (p *HetznerProvider) waitForAction(ctx context.Context, actionID int64) error {
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		var resp hetznerActionResponse
		if err := p.request(ctx, http.MethodGet, fmt.Sprintf("/actions/%d", actionID), nil, &resp); err != nil {
			return err
		}
		switch resp.Action.Status {
		case "success":
			return nil
		case "error":
			return fmt.Errorf("hetzner action %d failed", actionID)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(3 * time.Second):
		}
	}
	return fmt.Errorf("hetzner action %d did not complete in time", actionID)
}

// DeleteHost deletes the cloud resource. Returns (false, nil) if it was
// already gone.
func (p *HetznerProvider) DeleteHost(ctx context.Context, resourceID string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, hetznerAPIBase+"/servers/"+resourceID, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case 200, 202:
		return true, nil
	case 404:
		return false, nil
	default:
		body, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("delete host %s: status %d: %s", resourceID, resp.StatusCode, string(body))
	}
}

// GetHost fetches the current state of one cloud resource.
func (p *HetznerProvider) GetHost(ctx context.Context, resourceID string) (*ProvisionedHost, error) {
	var resp hetznerGetResponse
	if err := p.request(ctx, http.MethodGet, "/servers/"+resourceID, nil, &resp); err != nil {
		return nil, err
	}
	return &ProvisionedHost{
		ResourceID: resourceID,
		Address:    resp.Server.PublicNet.IPv4.IP,
		HostID:     resp.Server.Labels["host_id"],
		CreatedAt:  time.Now(),
	}, nil
}

// ListHosts returns every cloud resource tagged as a game worker.
func (p *HetznerProvider) ListHosts(ctx context.Context) ([]*ProvisionedHost, error) {
	var resp hetznerListResponse
	if err := p.request(ctx, http.MethodGet, "/servers?label_selector=type=game-worker", nil, &resp); err != nil {
		return nil, err
	}
	hosts := make([]*ProvisionedHost, 0, len(resp.Servers))
	for _, s := range resp.Servers {
		hosts = append(hosts, &ProvisionedHost{
			ResourceID: fmt.Sprintf("%d", s.ID),
			Address:    s.PublicNet.IPv4.IP,
			HostID:     s.Labels["host_id"],
		})
	}
	return hosts, nil
}

// WaitReady polls the worker agent's /status endpoint until it answers or
// timeout elapses.
func (p *HetznerProvider) WaitReady(ctx context.Context, address string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	url := fmt.Sprintf("http://%s:8081/status", address)

	client := http.Client{Timeout: 5 * time.Second}
	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err == nil {
			resp, err := client.Do(req)
			if err == nil {
				resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					return nil
				}
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
	return fmt.Errorf("worker agent at %s did not become ready within %s", address, timeout)
}

func (p *HetznerProvider) request(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, hetznerAPIBase+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		logger.Error("hetzner api error", fmt.Errorf("status %d", resp.StatusCode), map[string]interface{}{
			"path": path,
			"body": string(respBody),
		})
		return fmt.Errorf("hetzner api %s %s: status %d", method, path, resp.StatusCode)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode hetzner response: %w", err)
		}
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
