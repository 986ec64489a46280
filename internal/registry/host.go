// Package registry implements the host registry: the single in-memory
// table of worker hosts and their nested server tables that is the only
// source of truth for matchmaking and reaping.
package registry

import "time"

// HostStatus is one of the host lifecycle states.
type HostStatus string

const (
	HostProvisioning HostStatus = "provisioning"
	HostActive       HostStatus = "active"
	HostInactive     HostStatus = "inactive"
	HostDraining     HostStatus = "draining"
)

// ServerStatus is one of the server lifecycle states.
type ServerStatus string

const (
	ServerStarting ServerStatus = "starting"
	ServerRunning  ServerStatus = "running"
	ServerStopping ServerStatus = "stopping"
	ServerDead     ServerStatus = "dead"
)

// Server is a single game-server process tracked inside a host's server
// table.
type Server struct {
	UID           string
	Port          int
	PlayerCount   int
	Status        ServerStatus
	LastHeartbeat time.Time
	EmptySince    *time.Time
	OwnerID       string // non-empty iff private
}

func (s *Server) IsPrivate() bool { return s.OwnerID != "" }

// Host is a single worker host tracked by the registry.
type Host struct {
	ID              string
	Address         string
	CloudResourceID string // empty for the master host
	Status          HostStatus
	CreatedAt       time.Time
	LastHeartbeat   time.Time
	EmptySince      *time.Time
	IsMaster        bool

	Servers map[string]*Server // uid -> server
}

// NewHost constructs a freshly provisioned host with an empty server table.
func NewHost(id, address string, isMaster bool) *Host {
	return &Host{
		ID:        id,
		Address:   address,
		Status:    HostProvisioning,
		CreatedAt: time.Now(),
		IsMaster:  isMaster,
		Servers:   make(map[string]*Server),
	}
}

// TotalPlayers returns the sum of every server's player count.
func (h *Host) TotalPlayers() int {
	total := 0
	for _, s := range h.Servers {
		total += s.PlayerCount
	}
	return total
}

// UsedPorts returns the set of ports currently occupied by live servers on
// this host, consulted by both the public and private port allocators.
func (h *Host) UsedPorts() map[int]bool {
	ports := make(map[int]bool, len(h.Servers))
	for _, s := range h.Servers {
		ports[s.Port] = true
	}
	return ports
}

// HasCapacity reports whether this host can accept one more server given
// its configured per-host limit.
func (h *Host) HasCapacity(maxServers int) bool {
	return len(h.Servers) < maxServers
}
