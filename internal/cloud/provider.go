// Package cloud provisions worker hosts: creating, deleting and inspecting
// them via an IaaS HTTP API.
package cloud

import (
	"context"
	"time"
)

// HostSpec describes the host the provisioner should create.
type HostSpec struct {
	HostID          string // used for naming and embedded in the bootstrap script
	ControlPlaneURL string // embedded in the bootstrap script
	AccessKey       string // shared key the bootstrap script uses to download the binary
	ServerType      string
	Image           string
	Location        string
	BinaryVersion   string
}

// ProvisionedHost is what the provisioner returns on success.
type ProvisionedHost struct {
	HostID     string
	ResourceID string
	Address    string
	CreatedAt  time.Time
}

// Provider is the cloud provisioner contract. Implementations must ensure
// create-phase failures leak no resource: any resource created before a
// failure is deleted before the error is returned.
type Provider interface {
	CreateHost(ctx context.Context, spec HostSpec) (*ProvisionedHost, error)
	DeleteHost(ctx context.Context, resourceID string) (bool, error)
	GetHost(ctx context.Context, resourceID string) (*ProvisionedHost, error)
	ListHosts(ctx context.Context) ([]*ProvisionedHost, error)
	// WaitReady polls the worker agent's status endpoint at address until it
	// answers or timeout elapses.
	WaitReady(ctx context.Context, address string, timeout time.Duration) error
}
