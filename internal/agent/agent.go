package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bloxon/controlplane/internal/savebarrier"
	"github.com/bloxon/controlplane/pkg/logger"
)

// maxHeartbeatFailures is the consecutive-failure ceiling after which the
// agent gives up on the control plane and shuts itself down: the control
// plane has lost it anyway, and self-termination reclaims the machine.
const maxHeartbeatFailures = 6

// heartbeatRequest is the wire body the agent POSTs every heartbeat
// interval.
type heartbeatRequest struct {
	HostID  string           `json:"host_id"`
	Servers []ServerSnapshot `json:"servers"`
}

// heartbeatResponse is what the control plane may reply with. A command of
// "shutdown" tells the agent to begin draining.
type heartbeatResponse struct {
	Command string `json:"command,omitempty"`
}

// Agent is the worker agent process: it owns a ProcessManager, reports
// heartbeats to the control plane, accepts spawn/shutdown/status RPCs, and
// drains outstanding saves before exiting.
type Agent struct {
	hostID          string
	controlPlaneURL string
	httpClient      *http.Client

	pm      *ProcessManager
	barrier *savebarrier.Barrier

	heartbeatInterval time.Duration
	drainTimeout      time.Duration

	mu            sync.Mutex
	shuttingDown  bool
	failureStreak int32
	stop          chan struct{}
	stoppedOnce   sync.Once
}

// New constructs a Worker Agent.
func New(hostID, controlPlaneURL string, pm *ProcessManager, barrier *savebarrier.Barrier, heartbeatInterval, drainTimeout time.Duration) *Agent {
	return &Agent{
		hostID:            hostID,
		controlPlaneURL:   controlPlaneURL,
		httpClient:        &http.Client{Timeout: 10 * time.Second},
		pm:                pm,
		barrier:           barrier,
		heartbeatInterval: heartbeatInterval,
		drainTimeout:      drainTimeout,
		stop:              make(chan struct{}),
	}
}

// Run starts the heartbeat loop and blocks until Shutdown completes or the
// context is cancelled. It is the Worker Agent's main loop.
func (a *Agent) Run(ctx context.Context) {
	ticker := time.NewTicker(a.heartbeatInterval)
	defer ticker.Stop()

	a.barrier.StartJanitor()

	for {
		select {
		case <-ctx.Done():
			a.Shutdown()
			return
		case <-a.stop:
			return
		case <-ticker.C:
			a.beat(ctx)
		}
	}
}

// beat sends one heartbeat and acts on failure-streak / shutdown-command
// outcomes. A failed heartbeat while already draining is ignored: draining
// continues on its own timer regardless of connectivity.
func (a *Agent) beat(ctx context.Context) {
	a.mu.Lock()
	draining := a.shuttingDown
	a.mu.Unlock()
	if draining {
		return
	}

	resp, err := a.sendHeartbeat(ctx)
	if err != nil {
		streak := atomic.AddInt32(&a.failureStreak, 1)
		logger.Warn("heartbeat failed", map[string]interface{}{"host_id": a.hostID, "streak": streak, "error": err.Error()})
		if streak >= maxHeartbeatFailures {
			logger.Error("control plane unreachable after max consecutive failures, shutting down", err, map[string]interface{}{"host_id": a.hostID})
			go a.Shutdown()
		}
		return
	}
	atomic.StoreInt32(&a.failureStreak, 0)

	if resp.Command == "shutdown" {
		logger.Info("received shutdown command from control plane", map[string]interface{}{"host_id": a.hostID})
		go a.Shutdown()
	}
}

func (a *Agent) sendHeartbeat(ctx context.Context) (*heartbeatResponse, error) {
	body, err := json.Marshal(heartbeatRequest{HostID: a.hostID, Servers: a.pm.Snapshot()})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.controlPlaneURL+"/heartbeat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("heartbeat rejected: status %d", resp.StatusCode)
	}

	var out heartbeatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		// empty/absent body means no command
		return &heartbeatResponse{}, nil
	}
	return &out, nil
}

// Shutdown runs the graceful drain: suppress further heartbeats, wait up
// to drainTimeout for the local pending-save set to empty, then stop every
// local server gracefully and signal Run to return. Safe to call more than
// once; only the first call acts.
func (a *Agent) Shutdown() {
	a.mu.Lock()
	if a.shuttingDown {
		a.mu.Unlock()
		return
	}
	a.shuttingDown = true
	a.mu.Unlock()

	logger.Info("worker agent draining", map[string]interface{}{"host_id": a.hostID, "drain_timeout": a.drainTimeout.String()})

	drained := a.barrier.WaitAll(a.drainTimeout)
	if !drained {
		logger.Warn("worker agent drain timed out, stopping servers anyway", map[string]interface{}{"host_id": a.hostID})
	}

	a.pm.StopAll(true)
	a.barrier.Stop()

	a.stoppedOnce.Do(func() { close(a.stop) })
}

// IsShuttingDown reports whether the agent has begun draining, for the
// /spawn_server handler to reject new spawns mid-drain.
func (a *Agent) IsShuttingDown() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.shuttingDown
}
