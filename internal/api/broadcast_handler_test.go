package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bloxon/controlplane/internal/agent"
	"github.com/bloxon/controlplane/internal/agentclient"
	"github.com/bloxon/controlplane/internal/broadcast"
	"github.com/bloxon/controlplane/internal/cloud"
	"github.com/bloxon/controlplane/internal/matchmaker"
	"github.com/bloxon/controlplane/internal/playerdata"
	"github.com/bloxon/controlplane/internal/registry"
	"github.com/bloxon/controlplane/internal/savebarrier"
)

func newTestBroadcastHandler(t *testing.T) (*BroadcastHandler, *broadcast.Bus, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	master := registry.NewHost("master", "10.0.0.1", true)
	master.Status = registry.HostActive
	reg.RegisterHost(master)

	remote := agentclient.New()
	bus := broadcast.New(agent.NewProcessManager("/usr/bin/true", "http://master:8080", 9000, 6), remote, reg)

	store := playerdata.NewMemoryStore()
	barrier := savebarrier.New(30 * time.Second)
	cloudP := cloud.NewNoopProvider()
	localPM := agent.NewProcessManager("/usr/bin/true", "http://master:8080", 9000, 6)
	mm := matchmaker.New(reg, store, barrier, cloudP, localPM, remote, matchmaker.Config{
		MasterHostID:       "master",
		MasterAddress:      "10.0.0.1",
		ControlPlaneURL:    "http://master:8080",
		MaxServersPerHost:  6,
		MaxServersInMaster: 4,
		BasePort:           9000,
	})

	return NewBroadcastHandler(bus, mm), bus, reg
}

func TestBroadcastPullReturnsOnlyNewerMessages(t *testing.T) {
	h, bus, _ := newTestBroadcastHandler(t)

	first := bus.Add("server_started", map[string]interface{}{"uid": "a"})
	bus.Add("server_started", map[string]interface{}{"uid": "b"})

	req := httptest.NewRequest(http.MethodGet, "/broadcast/pull?cursor="+strconv.FormatInt(first.ID, 10), nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	h.Pull(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !contains(w.Body.String(), `"uid":"b"`) {
		t.Fatalf("expected the cursor-filtered response to include message b, got %s", w.Body.String())
	}
	if contains(w.Body.String(), `"uid":"a"`) {
		t.Fatalf("message a should have been excluded by the cursor, got %s", w.Body.String())
	}
}

func TestBroadcastPullWithoutCursorReturnsEverything(t *testing.T) {
	h, bus, _ := newTestBroadcastHandler(t)
	bus.Add("server_started", map[string]interface{}{"uid": "a"})

	req := httptest.NewRequest(http.MethodGet, "/broadcast/pull", nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	h.Pull(c)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !contains(w.Body.String(), `"uid":"a"`) {
		t.Fatalf("expected message a in an un-cursored pull, got %s", w.Body.String())
	}
}

func TestEnterMaintenanceFlipsFlagAndBroadcasts(t *testing.T) {
	h, bus, _ := newTestBroadcastHandler(t)

	before := bus.Pull(0)

	req := httptest.NewRequest(http.MethodPost, "/admin/maintenance", jsonBody(t, map[string]interface{}{"enabled": true}))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	h.EnterMaintenance(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	after := bus.Pull(0)
	if len(after) <= len(before) {
		t.Fatalf("expected entering maintenance to publish at least one broadcast message")
	}
}

func TestExitMaintenancePublishesExitMessage(t *testing.T) {
	h, bus, _ := newTestBroadcastHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/maintenance", jsonBody(t, map[string]interface{}{"enabled": false}))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	h.EnterMaintenance(c)

	msgs := bus.Pull(0)
	found := false
	for _, m := range msgs {
		if m.Type == "maintenance_exited" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a maintenance_exited message, got %+v", msgs)
	}
}

func jsonBody(t *testing.T, v interface{}) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal request body: %v", err)
	}
	return bytes.NewReader(b)
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
