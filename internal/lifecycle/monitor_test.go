package lifecycle

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bloxon/controlplane/internal/agent"
	"github.com/bloxon/controlplane/internal/agentclient"
	"github.com/bloxon/controlplane/internal/cloud"
	"github.com/bloxon/controlplane/internal/registry"
)

const testMasterID = "master"

func newTestBinary(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-server.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\nsleep 5\n"), 0o755); err != nil {
		t.Fatalf("failed to write fake server binary: %v", err)
	}
	return path
}

func newTestMonitor(t *testing.T) (*Monitor, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	master := registry.NewHost(testMasterID, "10.0.0.1", true)
	master.Status = registry.HostActive
	master.LastHeartbeat = time.Now()
	reg.RegisterHost(master)

	local := agent.NewProcessManager(newTestBinary(t), "http://master:8080", 9000, 6)
	remote := agentclient.New()
	cloudP := cloud.NewNoopProvider()

	mon := New(reg, cloudP, remote, local, testMasterID, Thresholds{
		HostInactiveAfter: 120 * time.Second,
		HostStaleAfter:    180 * time.Second,
		HostIdleGrace:     15 * time.Second,
		ServerStaleAfter:  120 * time.Second,
		ServerIdleGrace:   15 * time.Second,
	})
	return mon, reg
}

func TestSweepHostsNeverReapsMaster(t *testing.T) {
	mon, reg := newTestMonitor(t)

	master := reg.GetHost(testMasterID)
	master.LastHeartbeat = time.Now().Add(-10 * time.Hour)

	mon.sweepHosts(context.Background())

	if reg.GetHost(testMasterID) == nil {
		t.Fatalf("the master host must never be reaped by the lifecycle monitor")
	}
}

func TestSweepHostsFullCleanupOnStale(t *testing.T) {
	mon, reg := newTestMonitor(t)

	stale := registry.NewHost("remote-1", "10.0.0.5", false)
	stale.Status = registry.HostActive
	stale.LastHeartbeat = time.Now().Add(-200 * time.Second)
	reg.RegisterHost(stale)

	mon.sweepHosts(context.Background())

	if reg.GetHost("remote-1") != nil {
		t.Fatalf("a host stale past T_stale should be dropped from the registry")
	}
}

func TestSweepHostsMarksInactiveBeforeStale(t *testing.T) {
	mon, reg := newTestMonitor(t)

	h := registry.NewHost("remote-1", "10.0.0.5", false)
	h.Status = registry.HostActive
	h.LastHeartbeat = time.Now().Add(-150 * time.Second)
	reg.RegisterHost(h)

	mon.sweepHosts(context.Background())

	got := reg.GetHost("remote-1")
	if got == nil {
		t.Fatalf("a host only past T_inactive (not T_stale) must not be dropped")
	}
	if got.Status != registry.HostInactive {
		t.Fatalf("expected status inactive, got %s", got.Status)
	}
}

// An empty remote host gets its empty timer on the first sweep and is
// marked draining once its idle grace has elapsed.
func TestSweepHostsEmptyHostScheduledForGracefulShutdown(t *testing.T) {
	mon, reg := newTestMonitor(t)

	h := registry.NewHost("remote-1", "10.0.0.5", false)
	h.Status = registry.HostActive
	h.LastHeartbeat = time.Now()
	reg.RegisterHost(h)
	reg.ApplyHeartbeat("remote-1", []registry.HeartbeatServerSnapshot{
		{UID: "remote-1-9000", Port: 9000, PlayerCount: 0, Status: registry.ServerRunning},
	}, time.Now())

	// First sweep only starts the empty timer.
	mon.sweepHosts(context.Background())
	h = reg.GetHost("remote-1")
	if h == nil || h.EmptySince == nil {
		t.Fatalf("expected empty_since to be set on the first sweep of an empty host")
	}

	// Force the timer to have elapsed past the grace period. sweepHosts's
	// gracefulShutdown path marks the host draining before its 30s agent-
	// drain wait, so poll for that transition instead of waiting for the
	// full teardown to finish.
	reg.SetHostEmptySince("remote-1", timePtr(time.Now().Add(-20*time.Second)))

	go mon.sweepHosts(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for {
		if h := reg.GetHost("remote-1"); h != nil && h.Status == registry.HostDraining {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected host marked draining once graceful shutdown begins")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSweepHostsCancelsEmptyTimerOnPlayerReturn(t *testing.T) {
	mon, reg := newTestMonitor(t)

	h := registry.NewHost("remote-1", "10.0.0.5", false)
	h.Status = registry.HostActive
	h.LastHeartbeat = time.Now()
	reg.RegisterHost(h)
	reg.ApplyHeartbeat("remote-1", []registry.HeartbeatServerSnapshot{
		{UID: "remote-1-9000", Port: 9000, PlayerCount: 0, Status: registry.ServerRunning},
	}, time.Now())

	mon.sweepHosts(context.Background())
	if reg.GetHost("remote-1").EmptySince == nil {
		t.Fatalf("expected empty_since set after first sweep")
	}

	reg.ApplyHeartbeat("remote-1", []registry.HeartbeatServerSnapshot{
		{UID: "remote-1-9000", Port: 9000, PlayerCount: 1, Status: registry.ServerRunning},
	}, time.Now())

	mon.sweepHosts(context.Background())
	if reg.GetHost("remote-1").EmptySince != nil {
		t.Fatalf("a non-empty server should cancel the host's empty timer")
	}
}

func TestSweepMasterServersRemovesStaleAndIdle(t *testing.T) {
	mon, reg := newTestMonitor(t)
	now := time.Now()

	reg.ApplyHeartbeat(testMasterID, []registry.HeartbeatServerSnapshot{
		{UID: "stale-uid", Port: 9000, PlayerCount: 2, Status: registry.ServerRunning},
		{UID: "idle-uid", Port: 9001, PlayerCount: 0, Status: registry.ServerRunning},
		{UID: "busy-uid", Port: 9002, PlayerCount: 3, Status: registry.ServerRunning},
	}, now)

	master := reg.GetHost(testMasterID)
	master.Servers["stale-uid"].LastHeartbeat = now.Add(-200 * time.Second)
	master.Servers["idle-uid"].EmptySince = timePtr(now.Add(-20 * time.Second))

	mon.sweepMasterServers(context.Background())

	master = reg.GetHost(testMasterID)
	if _, ok := master.Servers["stale-uid"]; ok {
		t.Fatalf("stale server should have been removed")
	}
	if _, ok := master.Servers["idle-uid"]; ok {
		t.Fatalf("idle-past-grace server should have been removed")
	}
	if _, ok := master.Servers["busy-uid"]; !ok {
		t.Fatalf("busy server must survive the sweep")
	}
}

func timePtr(t time.Time) *time.Time { return &t }
