package registry

import (
	"sync"
	"time"

	"github.com/bloxon/controlplane/pkg/logger"
)

// BindingClearer is the scoped slice of the player-data store the registry
// needs: clearing every player binding that pointed at a uid which just
// left the registry. Defined here rather than imported from
// internal/playerdata so the registry depends on an interface, never a
// concrete package; the store is wired in by the composition root via
// SetBindingClearer.
type BindingClearer interface {
	ClearServerBinding(uid string) error
}

// HeartbeatServerSnapshot is one server entry inside an incoming heartbeat.
type HeartbeatServerSnapshot struct {
	UID         string
	Port        int
	PlayerCount int
	Status      ServerStatus
	OwnerID     string
}

// Registry is the single in-memory host table, guarded by one RWMutex. It
// is the only source of truth for matchmaking and reaping.
type Registry struct {
	mu    sync.RWMutex
	hosts map[string]*Host

	bindingClearer BindingClearer

	// provisionWaiters holds, per host id, the set of channels the
	// matchmaker's provisioning step is blocked on. Closed (not sent on)
	// the first time that host's server table becomes non-empty.
	provisionWaiters map[string][]chan struct{}
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{
		hosts:            make(map[string]*Host),
		provisionWaiters: make(map[string][]chan struct{}),
	}
}

// SetBindingClearer wires the player-data collaborator used to clear
// bindings after a server is removed. Called once by the composition root.
func (r *Registry) SetBindingClearer(c BindingClearer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindingClearer = c
}

// RegisterHost adds a newly provisioned (or the master) host to the table.
func (r *Registry) RegisterHost(h *Host) {
	r.mu.Lock()
	r.hosts[h.ID] = h
	r.mu.Unlock()
}

// GetHost returns a copy-free pointer to the host, or nil. Callers that
// need a consistent read across multiple fields should hold the returned
// host only under WithRLock/WithLock, not retain it past the call.
func (r *Registry) GetHost(id string) *Host {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hosts[id]
}

// WithRLock runs fn with the registry read-locked, for callers (the
// matchmaker) that must inspect several hosts/servers atomically.
func (r *Registry) WithRLock(fn func(hosts map[string]*Host)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn(r.hosts)
}

// WithLock runs fn with the registry write-locked. fn must not perform
// network or database I/O.
func (r *Registry) WithLock(fn func(hosts map[string]*Host)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.hosts)
}

// RemoveHost drops a host from the table entirely (used by the lifecycle
// monitor after a cloud-resource delete succeeds).
func (r *Registry) RemoveHost(id string) {
	r.mu.Lock()
	delete(r.hosts, id)
	r.mu.Unlock()
}

// ApplyHeartbeat upserts the host (provisioning->active on first arrival),
// diffs the server table, and returns the uids that were removed so the
// caller can clear their bindings *after* releasing the lock.
func (r *Registry) ApplyHeartbeat(hostID string, snapshots []HeartbeatServerSnapshot, now time.Time) (removed []string) {
	var toNotify []chan struct{}

	r.mu.Lock()
	host, ok := r.hosts[hostID]
	if !ok {
		r.mu.Unlock()
		logger.Warn("heartbeat for unknown host", map[string]interface{}{"host_id": hostID})
		return nil
	}

	if host.Status == HostProvisioning {
		host.Status = HostActive
	} else if host.Status == HostInactive {
		host.Status = HostActive
	}
	host.LastHeartbeat = now

	present := make(map[string]bool, len(snapshots))
	hadServers := len(host.Servers) > 0

	for _, snap := range snapshots {
		present[snap.UID] = true
		existing, exists := host.Servers[snap.UID]
		if !exists {
			existing = &Server{UID: snap.UID}
			host.Servers[snap.UID] = existing
		}
		existing.Port = snap.Port
		existing.PlayerCount = snap.PlayerCount
		existing.Status = snap.Status
		existing.OwnerID = snap.OwnerID
		existing.LastHeartbeat = now
		if existing.PlayerCount > 0 {
			existing.EmptySince = nil
		} else if existing.EmptySince == nil {
			t := now
			existing.EmptySince = &t
		}
	}

	for uid := range host.Servers {
		if !present[uid] {
			removed = append(removed, uid)
			delete(host.Servers, uid)
		}
	}

	// A heartbeat showing players cancels the host's idle timer, so the
	// race between a joining player and the idle threshold resolves in the
	// player's favor. An all-empty heartbeat leaves EmptySince alone: the
	// lifecycle monitor owns setting and aging that timer, and resetting it
	// on every 5s arrival would keep it from ever elapsing.
	if host.TotalPlayers() > 0 {
		host.EmptySince = nil
	}
	if !hadServers && len(host.Servers) > 0 {
		toNotify = r.provisionWaiters[hostID]
		delete(r.provisionWaiters, hostID)
	}
	r.mu.Unlock()

	for _, ch := range toNotify {
		close(ch)
	}

	return removed
}

// SetHostStatus forces a host's lifecycle status, used by the lifecycle
// monitor to mark a host draining before it requests the agent's shutdown.
func (r *Registry) SetHostStatus(hostID string, status HostStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.hosts[hostID]; ok {
		h.Status = status
	}
}

// SetHostEmptySince updates (or clears) a host's empty timer. Used by the
// lifecycle monitor under its own lock-then-release discipline; exposed so
// the monitor never reaches into Host fields directly from outside the
// registry's lock.
func (r *Registry) SetHostEmptySince(hostID string, since *time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.hosts[hostID]; ok {
		h.EmptySince = since
	}
}

// WaitForFirstServer returns a channel that is closed the first time
// hostID's server table becomes non-empty, for the matchmaker's
// notification-driven provisioning wait. If the host already has servers,
// the returned channel is already closed.
func (r *Registry) WaitForFirstServer(hostID string) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan struct{})
	if h, ok := r.hosts[hostID]; ok && len(h.Servers) > 0 {
		close(ch)
		return ch
	}
	r.provisionWaiters[hostID] = append(r.provisionWaiters[hostID], ch)
	return ch
}

// ClearBindingsFor clears every player binding pointing at the given uids.
// Must be called *after* releasing the registry lock.
func (r *Registry) ClearBindingsFor(uids []string) {
	r.mu.RLock()
	clearer := r.bindingClearer
	r.mu.RUnlock()

	if clearer == nil || len(uids) == 0 {
		return
	}
	for _, uid := range uids {
		if err := clearer.ClearServerBinding(uid); err != nil {
			logger.Error("failed to clear player binding", err, map[string]interface{}{"uid": uid})
		}
	}
}

// AllHosts returns a snapshot slice of host pointers. Used by read-mostly
// callers (admin status, metrics) that don't need the finer WithRLock
// control.
func (r *Registry) AllHosts() []*Host {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Host, 0, len(r.hosts))
	for _, h := range r.hosts {
		out = append(out, h)
	}
	return out
}
