// Package lifecycle implements the pair of periodic reapers that age out
// stale hosts and empty servers. Both sweeps build their removal list
// under the registry lock, perform RPCs and cloud deletes off-lock, then
// re-take the lock to apply the removals.
package lifecycle

import (
	"context"
	"time"

	"github.com/bloxon/controlplane/internal/agent"
	"github.com/bloxon/controlplane/internal/agentclient"
	"github.com/bloxon/controlplane/internal/cloud"
	"github.com/bloxon/controlplane/internal/events"
	"github.com/bloxon/controlplane/internal/metrics"
	"github.com/bloxon/controlplane/internal/registry"
	"github.com/bloxon/controlplane/pkg/logger"
)

// Thresholds bundles the timing constants read from configuration.
type Thresholds struct {
	HostInactiveAfter time.Duration // T_inactive, default 120s
	HostStaleAfter    time.Duration // T_stale, default 180s
	HostIdleGrace     time.Duration // T_host_idle, default 15s
	ServerStaleAfter  time.Duration // server heartbeat miss threshold, default 120s
	ServerIdleGrace   time.Duration // T_server_idle, default 15s
}

const monitorInterval = 30 * time.Second

// Monitor runs the host monitor and the master-server monitor.
type Monitor struct {
	reg        *registry.Registry
	cloudP     cloud.Provider
	remote     *agentclient.Client
	local      *agent.ProcessManager
	masterID   string
	thresholds Thresholds

	stop chan struct{}
}

// New constructs a Lifecycle Monitor. local is the master host's own
// ProcessManager, used by the master-server monitor to issue graceful
// stops for locally owned idle servers.
func New(reg *registry.Registry, cloudP cloud.Provider, remote *agentclient.Client, local *agent.ProcessManager, masterID string, thresholds Thresholds) *Monitor {
	return &Monitor{
		reg:        reg,
		cloudP:     cloudP,
		remote:     remote,
		local:      local,
		masterID:   masterID,
		thresholds: thresholds,
		stop:       make(chan struct{}),
	}
}

// Run starts both 30s loops and blocks until ctx is cancelled or Stop is
// called.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweepHosts(ctx)
			m.sweepMasterServers(ctx)
			m.refreshFleetGauges()
		}
	}
}

// Stop terminates Run.
func (m *Monitor) Stop() { close(m.stop) }

// refreshFleetGauges recomputes the fleet-wide Prometheus gauges from a
// fresh registry snapshot; these are cheap enough to recompute every
// monitor tick rather than track incrementally at every mutation site.
func (m *Monitor) refreshFleetGauges() {
	hosts := m.reg.AllHosts()

	byStatus := map[registry.HostStatus]int{}
	var servers, players int
	for _, h := range hosts {
		byStatus[h.Status]++
		servers += len(h.Servers)
		players += h.TotalPlayers()
	}

	for _, status := range []registry.HostStatus{registry.HostProvisioning, registry.HostActive, registry.HostInactive, registry.HostDraining} {
		metrics.FleetHostCount.WithLabelValues(string(status)).Set(float64(byStatus[status]))
	}
	metrics.FleetServerCount.Set(float64(servers))
	metrics.FleetPlayerCount.Set(float64(players))
}

type hostAction int

const (
	actionNone hostAction = iota
	actionMarkInactive
	actionFullCleanup
	actionGracefulShutdown
)

// sweepHosts marks hosts inactive past the heartbeat threshold, tears down
// hosts stale past the cleanup threshold, and ages the empty-host timer.
func (m *Monitor) sweepHosts(ctx context.Context) {
	now := time.Now()
	type decision struct {
		host   *registry.Host
		action hostAction
	}
	var decisions []decision

	m.reg.WithLock(func(hosts map[string]*registry.Host) {
		for id, h := range hosts {
			if h.IsMaster || id == m.masterID {
				continue
			}

			idle := now.Sub(h.LastHeartbeat)
			if idle > m.thresholds.HostStaleAfter {
				decisions = append(decisions, decision{host: h, action: actionFullCleanup})
				continue
			}
			if idle > m.thresholds.HostInactiveAfter && h.Status != registry.HostInactive {
				h.Status = registry.HostInactive
			}

			if len(h.Servers) > 0 && h.TotalPlayers() == 0 {
				if h.EmptySince == nil {
					h.EmptySince = &now
				} else if now.Sub(*h.EmptySince) > m.thresholds.HostIdleGrace {
					decisions = append(decisions, decision{host: h, action: actionGracefulShutdown})
				}
			} else {
				h.EmptySince = nil
			}
		}
	})

	for _, d := range decisions {
		switch d.action {
		case actionFullCleanup:
			m.fullCleanup(ctx, d.host, "stale")
		case actionGracefulShutdown:
			m.gracefulShutdown(ctx, d.host)
		}
	}
}

// fullCleanup deletes the cloud resource and drops the host entirely.
func (m *Monitor) fullCleanup(ctx context.Context, h *registry.Host, reason string) {
	logger.Info("host stale, deleting cloud resource", map[string]interface{}{"host_id": h.ID})
	if h.CloudResourceID != "" {
		if _, err := m.cloudP.DeleteHost(ctx, h.CloudResourceID); err != nil {
			logger.Error("failed to delete stale host's cloud resource", err, map[string]interface{}{"host_id": h.ID})
		}
	}
	uids := make([]string, 0, len(h.Servers))
	for uid := range h.Servers {
		uids = append(uids, uid)
	}
	m.reg.RemoveHost(h.ID)
	m.reg.ClearBindingsFor(uids)
	metrics.HostsReapedTotal.WithLabelValues(reason).Inc()
	events.GetEventBus().Publish(events.Event{
		Type:   events.EventHostReaped,
		Source: "lifecycle",
		HostID: h.ID,
		Data:   map[string]interface{}{"reason": reason, "server_count": len(uids)},
	})
}

// gracefulShutdown asks the agent to drain, waits, then deletes the
// resource and drops the host.
func (m *Monitor) gracefulShutdown(ctx context.Context, h *registry.Host) {
	logger.Info("host empty past idle grace, shutting down", map[string]interface{}{"host_id": h.ID})
	m.reg.SetHostStatus(h.ID, registry.HostDraining)

	baseURL := "http://" + h.Address + ":8081"
	if err := m.remote.Shutdown(ctx, baseURL); err != nil {
		logger.Warn("agent shutdown rpc failed, proceeding with teardown anyway", map[string]interface{}{"host_id": h.ID, "error": err.Error()})
	}

	select {
	case <-ctx.Done():
	case <-time.After(30 * time.Second):
	}

	m.fullCleanup(ctx, h, "idle")
}

// sweepMasterServers walks only the master host's server table; remote
// hosts' server tables are reaped indirectly via the host monitor's
// cleanup path.
func (m *Monitor) sweepMasterServers(ctx context.Context) {
	now := time.Now()
	var stale, idle []string

	m.reg.WithLock(func(hosts map[string]*registry.Host) {
		master, ok := hosts[m.masterID]
		if !ok {
			return
		}
		for uid, s := range master.Servers {
			if now.Sub(s.LastHeartbeat) > m.thresholds.ServerStaleAfter {
				stale = append(stale, uid)
				continue
			}
			if s.PlayerCount == 0 {
				if s.EmptySince == nil {
					s.EmptySince = &now
				} else if now.Sub(*s.EmptySince) > m.thresholds.ServerIdleGrace {
					idle = append(idle, uid)
				}
			} else {
				s.EmptySince = nil
			}
		}
	})

	if len(stale) == 0 && len(idle) == 0 {
		return
	}

	// Idle servers still answer their own process; a stale one has missed
	// heartbeats and may already be gone, so only idle servers get a
	// graceful stop request.
	for _, uid := range idle {
		if err := m.local.StopServer(uid, true); err != nil {
			logger.Warn("graceful stop of idle master server failed", map[string]interface{}{"uid": uid, "error": err.Error()})
		}
	}

	removed := append(append([]string{}, stale...), idle...)

	m.reg.WithLock(func(hosts map[string]*registry.Host) {
		master, ok := hosts[m.masterID]
		if !ok {
			return
		}
		for _, uid := range removed {
			delete(master.Servers, uid)
		}
	})

	logger.Info("reaped idle/stale master servers", map[string]interface{}{"uids": removed})
	m.reg.ClearBindingsFor(removed)
	for _, uid := range removed {
		metrics.ServersReapedTotal.Inc()
		events.GetEventBus().Publish(events.Event{Type: events.EventServerReaped, Source: "lifecycle", HostID: m.masterID, ServerUID: uid})
	}
}
