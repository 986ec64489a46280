package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/bloxon/controlplane/internal/registry"
)

func TestHeartbeatHandlerUpsertsHostAndServer(t *testing.T) {
	reg := registry.New()
	reg.RegisterHost(registry.NewHost("host-1", "10.0.0.7", false))
	h := NewHeartbeatHandler(reg)

	body, _ := json.Marshal(heartbeatBody{
		HostID: "host-1",
		Servers: []heartbeatServerBody{
			{UID: "host-1-9000", Port: 9000, PlayerCount: 4, Status: "running"},
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/heartbeat", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	h.Heartbeat(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	host := reg.GetHost("host-1")
	if host.Status != registry.HostActive {
		t.Fatalf("expected host activated on first heartbeat, got %s", host.Status)
	}
	if host.TotalPlayers() != 4 {
		t.Fatalf("expected total players 4, got %d", host.TotalPlayers())
	}
}

// A heartbeat from a host the registry has never seen (control-plane
// restart) re-registers it from its observed source address.
func TestHeartbeatHandlerRegistersUnknownHost(t *testing.T) {
	reg := registry.New()
	h := NewHeartbeatHandler(reg)

	body, _ := json.Marshal(heartbeatBody{
		HostID: "orphan-1",
		Servers: []heartbeatServerBody{
			{UID: "orphan-1-9000", Port: 9000, PlayerCount: 2, Status: "running"},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/heartbeat", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "10.0.0.9:51234"
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	h.Heartbeat(c)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	host := reg.GetHost("orphan-1")
	if host == nil {
		t.Fatalf("expected the unknown host to be registered from its heartbeat")
	}
	if host.Address != "10.0.0.9" {
		t.Fatalf("expected the host's address taken from the heartbeat's source, got %q", host.Address)
	}
	if host.TotalPlayers() != 2 {
		t.Fatalf("expected the snapshot applied, got %d players", host.TotalPlayers())
	}
}

func TestHeartbeatHandlerMissingHostIDRejected(t *testing.T) {
	reg := registry.New()
	h := NewHeartbeatHandler(reg)

	body, _ := json.Marshal(heartbeatBody{})
	req := httptest.NewRequest(http.MethodPost, "/heartbeat", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	h.Heartbeat(c)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a missing host_id, got %d", w.Code)
	}
}

func TestHeartbeatHandlerReturnsShutdownCommandWhenDraining(t *testing.T) {
	reg := registry.New()
	reg.RegisterHost(registry.NewHost("host-1", "10.0.0.7", false))
	reg.SetHostStatus("host-1", registry.HostDraining)
	h := NewHeartbeatHandler(reg)

	body, _ := json.Marshal(heartbeatBody{HostID: "host-1"})
	req := httptest.NewRequest(http.MethodPost, "/heartbeat", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	h.Heartbeat(c)

	var resp struct {
		Command string `json:"command"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Command != "shutdown" {
		t.Fatalf("expected shutdown command for a draining host, got %q", resp.Command)
	}
}
