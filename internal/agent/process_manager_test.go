package agent

import (
	"os"
	"path/filepath"
	"testing"
)

// newTestBinary writes a tiny shell script that ignores every argument and
// sleeps, standing in for the real game-server binary so spawned processes
// stay alive for the duration of a test instead of racing ProcessManager's
// exit-reap goroutine.
func newTestBinary(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-server.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\nsleep 5\n"), 0o755); err != nil {
		t.Fatalf("failed to write fake server binary: %v", err)
	}
	return path
}

func newTestPM(t *testing.T, basePort, maxServers int) *ProcessManager {
	t.Helper()
	return NewProcessManager(newTestBinary(t), "http://master:8080", basePort, maxServers)
}

func TestSpawnServerAllocatesLowestFreePort(t *testing.T) {
	pm := newTestPM(t, 9000, 3)

	uid1, port1, err := pm.SpawnServer("host-1", "", 0, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if port1 != 9000 {
		t.Fatalf("expected first spawn to take the lowest free port 9000, got %d", port1)
	}

	uid2, port2, err := pm.SpawnServer("host-1", "", 0, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if port2 != 9001 {
		t.Fatalf("expected second spawn to take 9001, got %d", port2)
	}
	if uid1 == uid2 {
		t.Fatalf("expected distinct uids, got %s twice", uid1)
	}
}

func TestSpawnServerMaxServersReached(t *testing.T) {
	pm := newTestPM(t, 9000, 1)

	if _, _, err := pm.SpawnServer("host-1", "", 0, ""); err != nil {
		t.Fatalf("first spawn should succeed: %v", err)
	}

	_, _, err := pm.SpawnServer("host-1", "", 0, "")
	if err == nil {
		t.Fatalf("expected max_servers_reached once capacity is exhausted")
	}
}

func TestStopServerFreesPortForReuse(t *testing.T) {
	pm := newTestPM(t, 9000, 1)

	uid, port, err := pm.SpawnServer("host-1", "", 0, "")
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}

	if err := pm.StopServer(uid, false); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	newUID, newPort, err := pm.SpawnServer("host-1", "", 0, "")
	if err != nil {
		t.Fatalf("respawn after stop should succeed: %v", err)
	}
	if newPort != port {
		t.Fatalf("expected the freed port %d to be reused, got %d", port, newPort)
	}
	_ = newUID
}

func TestSpawnRemoveRespawnSameUIDSucceeds(t *testing.T) {
	pm := newTestPM(t, 9000, 2)

	uid, _, err := pm.SpawnServer("host-1", "fixed-uid", 0, "")
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}
	if uid != "fixed-uid" {
		t.Fatalf("expected the requested uid to be honored, got %s", uid)
	}

	if err := pm.StopServer(uid, false); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	uid2, _, err := pm.SpawnServer("host-1", "fixed-uid", 0, "")
	if err != nil {
		t.Fatalf("respawning the same uid after removal should succeed: %v", err)
	}
	if uid2 != "fixed-uid" {
		t.Fatalf("expected uid fixed-uid, got %s", uid2)
	}
}

func TestSpawnServerRejectsDuplicateUIDWhileRunning(t *testing.T) {
	pm := newTestPM(t, 9000, 2)

	if _, _, err := pm.SpawnServer("host-1", "dup-uid", 0, ""); err != nil {
		t.Fatalf("spawn failed: %v", err)
	}

	_, _, err := pm.SpawnServer("host-1", "dup-uid", 0, "")
	if err == nil {
		t.Fatalf("spawning an already-running uid a second time must fail")
	}
}

func TestPrivateServerOwnerRecorded(t *testing.T) {
	pm := newTestPM(t, 9000, 2)

	uid, _, err := pm.SpawnServer("host-1", "", 0, "user-42")
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}

	var found bool
	for _, s := range pm.Snapshot() {
		if s.UID == uid {
			found = true
			if s.OwnerID != "user-42" {
				t.Fatalf("expected owner_id user-42, got %q", s.OwnerID)
			}
		}
	}
	if !found {
		t.Fatalf("spawned server missing from snapshot")
	}
}

func TestUpdatePlayerCountUnknownUIDFails(t *testing.T) {
	pm := newTestPM(t, 9000, 2)
	if err := pm.UpdatePlayerCount("no-such-uid", 3); err == nil {
		t.Fatalf("expected server_not_found for an unknown uid")
	}
}

func TestStopServerUnknownUIDFails(t *testing.T) {
	pm := newTestPM(t, 9000, 2)
	if err := pm.StopServer("no-such-uid", true); err == nil {
		t.Fatalf("expected server_not_found for an unknown uid")
	}
}
