package matchmaker

import (
	"context"
	"testing"
	"time"

	"github.com/bloxon/controlplane/internal/agent"
	"github.com/bloxon/controlplane/internal/agentclient"
	"github.com/bloxon/controlplane/internal/cloud"
	"github.com/bloxon/controlplane/internal/coreerr"
	"github.com/bloxon/controlplane/internal/playerdata"
	"github.com/bloxon/controlplane/internal/registry"
	"github.com/bloxon/controlplane/internal/savebarrier"
)

const testMasterID = "master"

// newTestMatchmaker wires a Matchmaker against a fresh in-memory registry
// and player store, using /usr/bin/true as the spawned "binary" so
// ProcessManager.SpawnServer exercises the real exec.Command path without
// needing an actual game-server build.
func newTestMatchmaker(t *testing.T, maxServersInMaster, maxServersPerHost, basePort int) (*Matchmaker, *registry.Registry, *playerdata.MemoryStore) {
	t.Helper()

	reg := registry.New()
	master := registry.NewHost(testMasterID, "10.0.0.1", true)
	master.Status = registry.HostActive
	master.LastHeartbeat = time.Now()
	reg.RegisterHost(master)

	store := playerdata.NewMemoryStore()
	barrier := savebarrier.New(30 * time.Second)
	cloudP := cloud.NewNoopProvider()
	localPM := agent.NewProcessManager("/usr/bin/true", "http://master:8080", basePort, maxServersInMaster)
	remote := agentclient.New()

	mm := New(reg, store, barrier, cloudP, localPM, remote, Config{
		MasterHostID:       testMasterID,
		MasterAddress:      "10.0.0.1",
		ControlPlaneURL:    "http://master:8080",
		AccessKey:          "secret",
		MaxServersPerHost:  maxServersPerHost,
		MaxServersInMaster: maxServersInMaster,
		BasePort:           basePort,
	})
	return mm, reg, store
}

func TestRequestServerMaintenanceModeFails(t *testing.T) {
	mm, _, _ := newTestMatchmaker(t, 4, 6, 9000)
	mm.SetMaintenance(true)

	_, err := mm.RequestServer(context.Background(), "user-1")
	ce := coreerr.As(err)
	if ce == nil || ce.Kind != coreerr.KindMaintenanceMode {
		t.Fatalf("expected maintenance_mode error, got %v", err)
	}
}

// Cold start: an empty fleet spawns on the master at the base port.
func TestRequestServerColdStartSpawnsOnMaster(t *testing.T) {
	mm, _, store := newTestMatchmaker(t, 4, 6, 9000)

	res, err := mm.RequestServer(context.Background(), "user-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.HostID != testMasterID || res.Port != 9000 || res.Private {
		t.Fatalf("expected master spawn at base port, got %+v", res)
	}

	binding, _ := store.GetBinding(context.Background(), "user-a")
	if binding.ServerUID != res.UID {
		t.Fatalf("expected the user bound to %s, got %s", res.UID, binding.ServerUID)
	}
}

// A server at capacity-2 (6/8) is selected; at capacity-1 (7/8) it is
// skipped because of the reserve slots.
func TestBestPublicFitHonorsReserveSlots(t *testing.T) {
	mm, reg, _ := newTestMatchmaker(t, 4, 6, 9000)

	reg.ApplyHeartbeat(testMasterID, []registry.HeartbeatServerSnapshot{
		{UID: testMasterID + "-9000", Port: 9000, PlayerCount: 6, Status: registry.ServerRunning},
	}, time.Now())

	if res := mm.bestPublicFit("user-x"); res == nil {
		t.Fatalf("expected the 6/8 server to be selectable (6 <= 8-2)")
	}

	reg.ApplyHeartbeat(testMasterID, []registry.HeartbeatServerSnapshot{
		{UID: testMasterID + "-9000", Port: 9000, PlayerCount: 7, Status: registry.ServerRunning},
	}, time.Now().Add(time.Second))

	if res := mm.bestPublicFit("user-x"); res != nil {
		t.Fatalf("expected the 7/8 server to be skipped (7 > 8-2), got %+v", res)
	}
}

func TestBestPublicFitSkipsPrivateServers(t *testing.T) {
	mm, reg, _ := newTestMatchmaker(t, 4, 6, 9000)
	reg.ApplyHeartbeat(testMasterID, []registry.HeartbeatServerSnapshot{
		{UID: "private_u1_master", Port: 9000, PlayerCount: 0, Status: registry.ServerRunning, OwnerID: "u1"},
	}, time.Now())

	if res := mm.bestPublicFit("user-x"); res != nil {
		t.Fatalf("a private server must never be offered to public matchmaking, got %+v", res)
	}
}

func TestBestPublicFitTieBreaksByHostThenUID(t *testing.T) {
	mm, reg, _ := newTestMatchmaker(t, 4, 6, 9000)

	hostA := registry.NewHost("host-a", "10.0.0.2", false)
	hostA.Status = registry.HostActive
	reg.RegisterHost(hostA)
	hostB := registry.NewHost("host-b", "10.0.0.3", false)
	hostB.Status = registry.HostActive
	reg.RegisterHost(hostB)

	reg.ApplyHeartbeat("host-b", []registry.HeartbeatServerSnapshot{
		{UID: "host-b-9000", Port: 9000, PlayerCount: 1, Status: registry.ServerRunning},
	}, time.Now())
	reg.ApplyHeartbeat("host-a", []registry.HeartbeatServerSnapshot{
		{UID: "host-a-9000", Port: 9000, PlayerCount: 1, Status: registry.ServerRunning},
	}, time.Now())

	res := mm.bestPublicFit("user-x")
	if res == nil || res.HostID != "host-a" {
		t.Fatalf("expected the lower host id to win the tie, got %+v", res)
	}
}

// Private ownership is enforced per-user.
func TestFindPrivateServerOwnershipIsolation(t *testing.T) {
	mm, reg, _ := newTestMatchmaker(t, 4, 6, 9000)
	reg.ApplyHeartbeat(testMasterID, []registry.HeartbeatServerSnapshot{
		{UID: "private_u_master", Port: 9500, PlayerCount: 1, Status: registry.ServerRunning, OwnerID: "u"},
	}, time.Now())

	res := mm.findPrivateServer("u")
	if res == nil || !res.Private || res.UID != "private_u_master" {
		t.Fatalf("owner should be matched to their private server, got %+v", res)
	}

	other := mm.findPrivateServer("someone-else")
	if other != nil {
		t.Fatalf("a different user must never be matched to another user's private server, got %+v", other)
	}
}

func TestSpawnOnMasterFailsAtCapacity(t *testing.T) {
	mm, reg, _ := newTestMatchmaker(t, 1, 6, 9000)

	// Fill the master to its ceiling directly via heartbeat, bypassing an
	// actual spawn RPC.
	reg.ApplyHeartbeat(testMasterID, []registry.HeartbeatServerSnapshot{
		{UID: testMasterID + "-9000", Port: 9000, PlayerCount: 5, Status: registry.ServerRunning},
	}, time.Now())

	res, err := mm.spawnOnMaster(context.Background(), "user-y")
	if err != nil {
		t.Fatalf("at-capacity master should return (nil, nil) so the caller proceeds to step 5, got err=%v", err)
	}
	if res != nil {
		t.Fatalf("expected no spawn when the master is at MaxServersInMaster, got %+v", res)
	}
}

func TestSpawnOnRemoteNoCandidatesReturnsNil(t *testing.T) {
	mm, _, _ := newTestMatchmaker(t, 4, 6, 9000)

	res, err := mm.spawnOnRemote(context.Background(), "user-z")
	if err != nil {
		t.Fatalf("unexpected error with no remote hosts: %v", err)
	}
	if res != nil {
		t.Fatalf("expected nil result with no remote active hosts, got %+v", res)
	}
}

func TestSubscribeAndCancelRoundTripSameUID(t *testing.T) {
	mm, _, store := newTestMatchmaker(t, 4, 6, 9000)
	store.Credit("user-sub", 1000)

	res, err := mm.Subscribe(context.Background(), "user-sub")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if !res.Private {
		t.Fatalf("subscribe must return a private server")
	}
	firstUID := res.UID

	if err := mm.Cancel(context.Background(), "user-sub"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	store.Credit("user-sub", 1000)
	res2, err := mm.Subscribe(context.Background(), "user-sub")
	if err != nil {
		t.Fatalf("re-subscribe failed: %v", err)
	}
	if res2.UID != firstUID {
		t.Fatalf("add-remove-add of a private subscription should yield the same uid, got %s then %s", firstUID, res2.UID)
	}
}

func TestSubscribeFailsWithoutFunds(t *testing.T) {
	mm, _, _ := newTestMatchmaker(t, 4, 6, 9000)

	_, err := mm.Subscribe(context.Background(), "poor-user")
	ce := coreerr.As(err)
	if ce == nil || ce.Kind != coreerr.KindInsufficientFunds {
		t.Fatalf("expected insufficient_funds, got %v", err)
	}
}
