// Package matchmaker implements the request_server decision chain: steer a
// user to the best existing server, else spawn on the master host, else
// spawn on a remote host, else provision new infrastructure from the cloud
// provider.
package matchmaker

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bloxon/controlplane/internal/agent"
	"github.com/bloxon/controlplane/internal/agentclient"
	"github.com/bloxon/controlplane/internal/cloud"
	"github.com/bloxon/controlplane/internal/coreerr"
	"github.com/bloxon/controlplane/internal/events"
	"github.com/bloxon/controlplane/internal/metrics"
	"github.com/bloxon/controlplane/internal/playerdata"
	"github.com/bloxon/controlplane/internal/registry"
	"github.com/bloxon/controlplane/internal/savebarrier"
	"github.com/bloxon/controlplane/pkg/logger"
)

// reserveSlots is the capacity margin kept free on every public candidate
// server, so a double-join race can't land two players on a server that
// read as having exactly one free slot.
const reserveSlots = 2

// serverPlayerCapacity is the per-server player ceiling the best-fit scan
// checks candidates against. Every server instance holds the same number
// of seats; this is distinct from maxServersPerHost/maxServersInMaster,
// which cap how many server processes a host may run.
const serverPlayerCapacity = 8

// provisionCeiling bounds the Provision step's wait for the new host's
// first heartbeat. The wait itself is notification-driven via
// Registry.WaitForFirstServer, not a poll loop.
const (
	provisionCeiling = 90 * time.Second
	spawnWarmup      = 3 * time.Second
)

// Result is what RequestServer returns on success.
type Result struct {
	UID     string `json:"uid"`
	Address string `json:"address"`
	Port    int    `json:"port"`
	HostID  string `json:"host_id"`
	Private bool   `json:"private"`
}

// Matchmaker wires together everything request_server needs.
type Matchmaker struct {
	reg     *registry.Registry
	store   playerdata.Store
	barrier *savebarrier.Barrier
	cloudP  cloud.Provider
	local   *agent.ProcessManager // the master host's own process manager
	remote  *agentclient.Client

	masterHostID       string
	masterAddress      string
	controlPlaneURL    string
	accessKey          string
	binaryVersion      string
	maxServersPerHost  int
	maxServersInMaster int
	basePort           int
	provisionWait      time.Duration

	maintenance bool
}

// Config bundles the constructor's scalar dependencies.
type Config struct {
	MasterHostID       string
	MasterAddress      string
	ControlPlaneURL    string
	AccessKey          string
	BinaryVersion      string
	MaxServersPerHost  int
	MaxServersInMaster int
	BasePort           int
	ProvisionWait      time.Duration // ceiling on step 6's first-heartbeat wait; defaults to 90s
}

// New constructs a Matchmaker.
func New(reg *registry.Registry, store playerdata.Store, barrier *savebarrier.Barrier, cloudP cloud.Provider, local *agent.ProcessManager, remote *agentclient.Client, cfg Config) *Matchmaker {
	if cfg.ProvisionWait <= 0 {
		cfg.ProvisionWait = provisionCeiling
	}
	return &Matchmaker{
		reg:                reg,
		store:              store,
		barrier:            barrier,
		cloudP:             cloudP,
		local:              local,
		remote:             remote,
		masterHostID:       cfg.MasterHostID,
		masterAddress:      cfg.MasterAddress,
		controlPlaneURL:    cfg.ControlPlaneURL,
		accessKey:          cfg.AccessKey,
		binaryVersion:      cfg.BinaryVersion,
		maxServersPerHost:  cfg.MaxServersPerHost,
		maxServersInMaster: cfg.MaxServersInMaster,
		basePort:           cfg.BasePort,
		provisionWait:      cfg.ProvisionWait,
	}
}

// SetMaintenance flips maintenance mode, checked as decision step 1.
func (m *Matchmaker) SetMaintenance(on bool) { m.maintenance = on }

// candidate is a public server eligible for step 3's best-fit selection.
type candidate struct {
	hostID  string
	address string
	server  *registry.Server
}

// RequestServer runs the six-step decision chain.
func (m *Matchmaker) RequestServer(ctx context.Context, userID string) (*Result, error) {
	if m.maintenance {
		return nil, coreerr.New(coreerr.KindMaintenanceMode, "matchmaking is suspended")
	}

	// Step 2: private binding.
	binding, err := m.store.GetBinding(ctx, userID)
	if err != nil {
		metrics.MatchmakerErrorsTotal.WithLabelValues(string(coreerr.KindInternal)).Inc()
		return nil, coreerr.Wrap(err, "failed to load player binding")
	}
	if binding.PrivateServerActive {
		if res := m.findPrivateServer(userID); res != nil {
			if err := m.bind(ctx, userID, res.UID); err != nil {
				return nil, err
			}
			metrics.MatchmakerDecisionsTotal.WithLabelValues("private_binding").Inc()
			return res, nil
		}
		// falls through: Subscribe re-creates the server in the background;
		// the caller may simply request again.
	}

	// Step 3: best public fit.
	if res := m.bestPublicFit(userID); res != nil {
		if err := m.bind(ctx, userID, res.UID); err != nil {
			return nil, err
		}
		metrics.MatchmakerDecisionsTotal.WithLabelValues("public_fit").Inc()
		return res, nil
	}

	// Step 4: spawn on master.
	if res, err := m.spawnOnMaster(ctx, userID); err != nil {
		metrics.MatchmakerErrorsTotal.WithLabelValues(string(coreerr.As(err).Kind)).Inc()
		return nil, err
	} else if res != nil {
		metrics.MatchmakerDecisionsTotal.WithLabelValues("spawn_master").Inc()
		return res, nil
	}

	// Step 5: spawn on remote.
	if res, err := m.spawnOnRemote(ctx, userID); err != nil {
		metrics.MatchmakerErrorsTotal.WithLabelValues(string(coreerr.As(err).Kind)).Inc()
		return nil, err
	} else if res != nil {
		metrics.MatchmakerDecisionsTotal.WithLabelValues("spawn_remote").Inc()
		return res, nil
	}

	// Step 6: provision.
	res, err := m.provision(ctx, userID)
	if err != nil {
		metrics.MatchmakerErrorsTotal.WithLabelValues(string(coreerr.As(err).Kind)).Inc()
		return nil, err
	}
	metrics.MatchmakerDecisionsTotal.WithLabelValues("provision").Inc()
	return res, nil
}

func (m *Matchmaker) findPrivateServer(userID string) *Result {
	var found *Result
	m.reg.WithRLock(func(hosts map[string]*registry.Host) {
		for _, h := range hosts {
			if h.Status != registry.HostActive {
				continue
			}
			for _, s := range h.Servers {
				if s.OwnerID == userID {
					found = &Result{UID: s.UID, Address: h.Address, Port: s.Port, HostID: h.ID, Private: true}
					return
				}
			}
		}
	})
	return found
}

// bestPublicFit scans every active host's public, joinable servers and
// picks the lowest player count, breaking ties by host id then uid.
func (m *Matchmaker) bestPublicFit(userID string) *Result {
	var candidates []candidate

	m.reg.WithRLock(func(hosts map[string]*registry.Host) {
		for hostID, h := range hosts {
			if h.Status != registry.HostActive {
				continue
			}
			for _, s := range h.Servers {
				if s.IsPrivate() {
					continue
				}
				if s.Status != registry.ServerStarting && s.Status != registry.ServerRunning {
					continue
				}
				if s.PlayerCount > serverPlayerCapacity-reserveSlots {
					continue
				}
				candidates = append(candidates, candidate{hostID: hostID, address: h.Address, server: s})
			}
		}
	})

	if len(candidates) == 0 {
		return nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.server.PlayerCount != b.server.PlayerCount {
			return a.server.PlayerCount < b.server.PlayerCount
		}
		if a.hostID != b.hostID {
			return a.hostID < b.hostID
		}
		return a.server.UID < b.server.UID
	})

	best := candidates[0]
	return &Result{UID: best.server.UID, Address: best.address, Port: best.server.Port, HostID: best.hostID, Private: false}
}

func (m *Matchmaker) bind(ctx context.Context, userID, uid string) error {
	saveID := m.barrier.Start(userID, "bind_server")
	err := m.store.SetBinding(ctx, userID, uid)
	m.barrier.Complete(saveID, err == nil)
	if err != nil {
		return coreerr.Wrap(err, "failed to persist player binding")
	}
	events.GetEventBus().Publish(events.Event{
		Type:      events.EventServerBound,
		Source:    "matchmaker",
		ServerUID: uid,
		UserID:    userID,
	})
	return nil
}

// spawnOnMaster is step 4: if the master host has room under its own
// ceiling, spawn locally and bind. Returns (nil, nil) when the master is
// full or the local spawn fails, so the caller proceeds to the remote and
// provisioning steps.
func (m *Matchmaker) spawnOnMaster(ctx context.Context, userID string) (*Result, error) {
	master := m.reg.GetHost(m.masterHostID)
	if master == nil {
		return nil, nil
	}

	var count int
	m.reg.WithRLock(func(hosts map[string]*registry.Host) { count = len(hosts[m.masterHostID].Servers) })
	if count >= m.maxServersInMaster {
		return nil, nil
	}

	port := m.basePort + count
	uid, port, err := m.local.SpawnServer(m.masterHostID, "", port, "")
	if err != nil {
		logger.Warn("master spawn failed, trying remote hosts", map[string]interface{}{"error": err.Error()})
		return nil, nil
	}

	time.Sleep(spawnWarmup)

	if err := m.bind(ctx, userID, uid); err != nil {
		return nil, err
	}
	return &Result{UID: uid, Address: m.masterAddress, Port: port, HostID: m.masterHostID, Private: false}, nil
}

// spawnOnRemote is step 5: try every remote active host in registration
// order for spare capacity.
func (m *Matchmaker) spawnOnRemote(ctx context.Context, userID string) (*Result, error) {
	type target struct {
		hostID    string
		address   string
		count     int
		createdAt time.Time
	}
	var targets []target

	m.reg.WithRLock(func(hosts map[string]*registry.Host) {
		for hostID, h := range hosts {
			if h.IsMaster || h.Status != registry.HostActive {
				continue
			}
			if len(h.Servers) >= m.maxServersPerHost {
				continue
			}
			targets = append(targets, target{hostID: hostID, address: h.Address, count: len(h.Servers), createdAt: h.CreatedAt})
		}
	})
	sort.Slice(targets, func(i, j int) bool {
		if !targets[i].createdAt.Equal(targets[j].createdAt) {
			return targets[i].createdAt.Before(targets[j].createdAt)
		}
		return targets[i].hostID < targets[j].hostID
	})

	for _, t := range targets {
		port := m.basePort + t.count
		baseURL := fmt.Sprintf("http://%s:8081", t.address)
		uid, gotPort, err := m.remote.SpawnServer(ctx, baseURL, "", port, "")
		if err != nil {
			logger.Warn("remote spawn failed, trying next host", map[string]interface{}{"host_id": t.hostID, "error": err.Error()})
			continue
		}

		time.Sleep(spawnWarmup)

		if err := m.bind(ctx, userID, uid); err != nil {
			return nil, err
		}
		return &Result{UID: uid, Address: t.address, Port: gotPort, HostID: t.hostID, Private: false}, nil
	}
	return nil, nil
}

// provision is step 6: mint a new host, create cloud infrastructure
// off-lock, then wait on the registry's notification that the new host
// has published its first server.
func (m *Matchmaker) provision(ctx context.Context, userID string) (*Result, error) {
	hostID := fmt.Sprintf("host-%d", time.Now().UnixNano())

	// Creating the host is minutes of I/O: the IaaS create, the action
	// poll, and the agent-ready wait each carry their own shorter budgets
	// inside the provider; this ceiling just bounds the whole create phase.
	provisionCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	spec := cloud.HostSpec{
		HostID:          hostID,
		ControlPlaneURL: m.controlPlaneURL,
		AccessKey:       m.accessKey,
		BinaryVersion:   m.binaryVersion,
	}
	provisioned, err := m.cloudP.CreateHost(provisionCtx, spec)
	if err != nil {
		return nil, coreerr.New(coreerr.KindFailedToCreateHost, err.Error())
	}

	host := registry.NewHost(hostID, provisioned.Address, false)
	host.CloudResourceID = provisioned.ResourceID
	m.reg.RegisterHost(host)
	metrics.HostsProvisionedTotal.Inc()
	events.GetEventBus().Publish(events.Event{
		Type:   events.EventHostProvisioning,
		Source: "matchmaker",
		HostID: hostID,
		Data:   map[string]interface{}{"resource_id": provisioned.ResourceID, "address": provisioned.Address},
	})

	waitCh := m.reg.WaitForFirstServer(hostID)

	select {
	case <-waitCh:
	case <-time.After(m.provisionWait):
		events.GetEventBus().Publish(events.Event{Type: events.EventMatchmakerTimeout, Source: "matchmaker", HostID: hostID, UserID: userID})
		return nil, coreerr.New(coreerr.KindTimeout, "host did not publish a server before the provisioning ceiling")
	case <-ctx.Done():
		return nil, coreerr.Wrap(ctx.Err(), "request cancelled while provisioning")
	}

	var result *Result
	m.reg.WithRLock(func(hosts map[string]*registry.Host) {
		h := hosts[hostID]
		for _, s := range h.Servers {
			if !s.IsPrivate() {
				result = &Result{UID: s.UID, Address: h.Address, Port: s.Port, HostID: hostID, Private: false}
				return
			}
		}
	})
	if result == nil {
		return nil, coreerr.New(coreerr.KindTimeout, "provisioned host published no public server")
	}

	if err := m.bind(ctx, userID, result.UID); err != nil {
		return nil, err
	}
	return result, nil
}
