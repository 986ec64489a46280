// Package agent implements the worker agent: the per-host supervisor that
// owns local game-server OS processes, allocates local ports, reports
// heartbeats, and accepts spawn/shutdown RPCs from the control plane.
package agent

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/bloxon/controlplane/internal/events"
	"github.com/bloxon/controlplane/pkg/logger"
)

// ProcessStatus mirrors registry.ServerStatus but is kept local to the
// agent so the agent package has no dependency on the control plane's
// registry package; the two processes share only the JSON heartbeat
// contract, never Go types.
type ProcessStatus string

const (
	ProcessStarting ProcessStatus = "starting"
	ProcessRunning  ProcessStatus = "running"
	ProcessStopping ProcessStatus = "stopping"
)

// managedProcess is one locally owned game-server process.
type managedProcess struct {
	UID         string
	Port        int
	OwnerID     string
	Status      ProcessStatus
	PlayerCount int
	StartedAt   time.Time
	cmd         *exec.Cmd
}

// ProcessManager owns the set of live local server processes keyed by uid,
// and the set of used local ports drawn from [basePort, basePort+maxServers).
type ProcessManager struct {
	mu         sync.Mutex
	processes  map[string]*managedProcess
	usedPorts  map[int]bool
	basePort   int
	maxServers int
	binaryPath string
	masterURL  string
}

// NewProcessManager constructs a process manager for one host.
func NewProcessManager(binaryPath, masterURL string, basePort, maxServers int) *ProcessManager {
	return &ProcessManager{
		processes:  make(map[string]*managedProcess),
		usedPorts:  make(map[int]bool),
		basePort:   basePort,
		maxServers: maxServers,
		binaryPath: binaryPath,
		masterURL:  masterURL,
	}
}

// nextAvailablePort returns the lowest free port in the host's range, or
// false if the range is exhausted.
func (pm *ProcessManager) nextAvailablePort() (int, bool) {
	for p := pm.basePort; p < pm.basePort+pm.maxServers; p++ {
		if !pm.usedPorts[p] {
			return p, true
		}
	}
	return 0, false
}

// SpawnServer launches the game binary with
// --server --port P --master URL --uid UID [--private --owner OID]. If
// port is 0, the next available port is allocated; if uid is empty, one is
// derived from the host id and port.
func (pm *ProcessManager) SpawnServer(hostID, uid string, port int, ownerID string) (string, int, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if len(pm.processes) >= pm.maxServers {
		return "", 0, fmt.Errorf("max_servers_reached")
	}

	if port == 0 {
		p, ok := pm.nextAvailablePort()
		if !ok {
			return "", 0, fmt.Errorf("max_servers_reached")
		}
		port = p
	} else if pm.usedPorts[port] {
		return "", 0, fmt.Errorf("port %d already in use", port)
	}

	if uid == "" {
		if ownerID != "" {
			uid = fmt.Sprintf("private_%s_%s", ownerID, hostID)
		} else {
			uid = fmt.Sprintf("%s-%d", hostID, port)
		}
	}
	if _, exists := pm.processes[uid]; exists {
		return "", 0, fmt.Errorf("server %s already running", uid)
	}

	args := []string{"--server", "--port", fmt.Sprintf("%d", port), "--master", pm.masterURL, "--uid", uid}
	if ownerID != "" {
		args = append(args, "--private", "--owner", ownerID)
	}

	cmd := exec.Command(pm.binaryPath, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return "", 0, fmt.Errorf("spawn %s: %w", uid, err)
	}

	proc := &managedProcess{
		UID:       uid,
		Port:      port,
		OwnerID:   ownerID,
		Status:    ProcessStarting,
		StartedAt: time.Now(),
		cmd:       cmd,
	}
	pm.processes[uid] = proc
	pm.usedPorts[port] = true

	go pm.reap(proc)

	logger.Info("spawned local server process", map[string]interface{}{
		"uid": uid, "port": port, "owner_id": ownerID,
	})
	events.GetEventBus().Publish(events.Event{
		Type:      events.EventServerSpawned,
		Source:    "agent",
		HostID:    hostID,
		ServerUID: uid,
		UserID:    ownerID,
		Data:      map[string]interface{}{"port": port},
	})

	// Warmup: after a short delay the process is assumed running; the
	// authoritative signal is still the game process's own update_players
	// report to the agent.
	time.AfterFunc(2*time.Second, func() {
		pm.mu.Lock()
		if p, ok := pm.processes[uid]; ok && p.Status == ProcessStarting {
			p.Status = ProcessRunning
		}
		pm.mu.Unlock()
	})

	return uid, port, nil
}

// reap waits for the process to exit and removes its bookkeeping, covering
// the case where the game binary crashes without a Stop call.
func (pm *ProcessManager) reap(proc *managedProcess) {
	_ = proc.cmd.Wait()
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if current, ok := pm.processes[proc.UID]; ok && current == proc {
		delete(pm.processes, proc.UID)
		delete(pm.usedPorts, proc.Port)
	}
}

// StopServer stops a local server process. graceful=true sends SIGTERM and
// waits up to 10s before SIGKILL; graceful=false kills immediately. Either
// way the port and uid bookkeeping is freed.
func (pm *ProcessManager) StopServer(uid string, graceful bool) error {
	pm.mu.Lock()
	proc, ok := pm.processes[uid]
	if !ok {
		pm.mu.Unlock()
		return fmt.Errorf("server_not_found")
	}
	proc.Status = ProcessStopping
	pm.mu.Unlock()

	if graceful {
		_ = proc.cmd.Process.Signal(syscall.SIGTERM)
		done := make(chan struct{})
		go func() {
			_ = proc.cmd.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			logger.Warn("graceful stop timed out, force-killing", map[string]interface{}{"uid": uid})
			_ = proc.cmd.Process.Kill()
		}
	} else {
		_ = proc.cmd.Process.Kill()
	}

	pm.mu.Lock()
	delete(pm.processes, uid)
	delete(pm.usedPorts, proc.Port)
	pm.mu.Unlock()

	return nil
}

// StopAll stops (graceful per arg) every local server, used by the
// maintenance-mode sweep and the agent's own shutdown path.
func (pm *ProcessManager) StopAll(graceful bool) {
	pm.mu.Lock()
	uids := make([]string, 0, len(pm.processes))
	for uid := range pm.processes {
		uids = append(uids, uid)
	}
	pm.mu.Unlock()

	for _, uid := range uids {
		_ = pm.StopServer(uid, graceful)
	}
}

// Snapshot returns the current server table for inclusion in a heartbeat or
// a /status response.
func (pm *ProcessManager) Snapshot() []ServerSnapshot {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	out := make([]ServerSnapshot, 0, len(pm.processes))
	for _, p := range pm.processes {
		out = append(out, ServerSnapshot{
			UID:         p.UID,
			Port:        p.Port,
			PlayerCount: p.PlayerCount,
			Status:      p.Status,
			OwnerID:     p.OwnerID,
		})
	}
	return out
}

// UpdatePlayerCount is called from the /update_players HTTP handler, posted
// by the game process itself.
func (pm *ProcessManager) UpdatePlayerCount(uid string, count int) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	p, ok := pm.processes[uid]
	if !ok {
		return fmt.Errorf("server_not_found")
	}
	p.PlayerCount = count
	return nil
}

// Count returns the number of currently owned local processes.
func (pm *ProcessManager) Count() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.processes)
}

// ServerSnapshot is the wire shape of one locally owned server, used both
// in heartbeats and the /status response.
type ServerSnapshot struct {
	UID         string        `json:"uid"`
	Port        int           `json:"port"`
	PlayerCount int           `json:"player_count"`
	Status      ProcessStatus `json:"status"`
	OwnerID     string        `json:"owner_id,omitempty"`
}
