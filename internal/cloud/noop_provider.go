package cloud

import (
	"context"
	"time"

	"github.com/bloxon/controlplane/internal/coreerr"
)

// NoopProvider is wired in place of a real IaaS client when no cloud
// credentials are configured (single-master/standalone deployments, or
// local development). Every read returns an empty fleet; CreateHost fails
// with KindFailedToCreateHost so the Matchmaker's Provision step reports a
// clear error instead of panicking on a nil Provider.
type NoopProvider struct{}

func NewNoopProvider() *NoopProvider { return &NoopProvider{} }

func (NoopProvider) CreateHost(ctx context.Context, spec HostSpec) (*ProvisionedHost, error) {
	return nil, coreerr.New(coreerr.KindFailedToCreateHost, "cloud provisioning is not configured")
}

func (NoopProvider) DeleteHost(ctx context.Context, resourceID string) (bool, error) {
	return false, nil
}

func (NoopProvider) GetHost(ctx context.Context, resourceID string) (*ProvisionedHost, error) {
	return nil, coreerr.New(coreerr.KindServerNotFound, "cloud provisioning is not configured")
}

func (NoopProvider) ListHosts(ctx context.Context) ([]*ProvisionedHost, error) {
	return nil, nil
}

func (NoopProvider) WaitReady(ctx context.Context, address string, timeout time.Duration) error {
	return coreerr.New(coreerr.KindTimeout, "cloud provisioning is not configured")
}

var _ Provider = NoopProvider{}
