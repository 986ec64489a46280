package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bloxon/controlplane/internal/coreerr"
	"github.com/bloxon/controlplane/internal/middleware"
	"github.com/bloxon/controlplane/internal/registry"
)

// HeartbeatHandler ingests every worker agent's periodic heartbeat,
// applying it to the host registry and clearing player bindings for any
// server the heartbeat dropped.
type HeartbeatHandler struct {
	reg *registry.Registry
}

func NewHeartbeatHandler(reg *registry.Registry) *HeartbeatHandler {
	return &HeartbeatHandler{reg: reg}
}

type heartbeatServerBody struct {
	UID         string `json:"uid"`
	Port        int    `json:"port"`
	PlayerCount int    `json:"player_count"`
	Status      string `json:"status"`
	OwnerID     string `json:"owner_id,omitempty"`
}

type heartbeatBody struct {
	HostID       string                `json:"host_id"`
	Servers      []heartbeatServerBody `json:"servers"`
	Timestamp    int64                 `json:"timestamp"`
	TotalPlayers int                   `json:"total_players"`
}

// Heartbeat handles POST /heartbeat. The response's command field tells a
// draining host's agent to begin its own shutdown sequence.
func (h *HeartbeatHandler) Heartbeat(c *gin.Context) {
	var body heartbeatBody
	if err := c.ShouldBindJSON(&body); err != nil {
		middleware.RenderError(c, coreerr.New(coreerr.KindInvalidData, "malformed heartbeat body"))
		return
	}
	if body.HostID == "" {
		middleware.RenderError(c, coreerr.New(coreerr.KindInvalidData, "host_id is required"))
		return
	}

	// A host the registry has never seen (control-plane restart, or a
	// resource that outlived its registry entry) is re-registered from its
	// own heartbeat, using the agent's observed source address.
	if h.reg.GetHost(body.HostID) == nil {
		h.reg.RegisterHost(registry.NewHost(body.HostID, c.ClientIP(), false))
	}

	snapshots := make([]registry.HeartbeatServerSnapshot, 0, len(body.Servers))
	for _, s := range body.Servers {
		snapshots = append(snapshots, registry.HeartbeatServerSnapshot{
			UID:         s.UID,
			Port:        s.Port,
			PlayerCount: s.PlayerCount,
			Status:      registry.ServerStatus(s.Status),
			OwnerID:     s.OwnerID,
		})
	}

	removed := h.reg.ApplyHeartbeat(body.HostID, snapshots, time.Now())
	h.reg.ClearBindingsFor(removed)

	var command string
	if host := h.reg.GetHost(body.HostID); host != nil && host.Status == registry.HostDraining {
		command = "shutdown"
	}

	resp := gin.H{"status": "ok"}
	if command != "" {
		resp["command"] = command
	} else {
		resp["command"] = nil
	}
	c.JSON(http.StatusOK, resp)
}
