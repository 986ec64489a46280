package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bloxon/controlplane/internal/registry"
	"github.com/bloxon/controlplane/internal/savebarrier"
)

// AdminHandler serves a read-only fleet snapshot: the narrow status
// surface the dashboard service is built against.
type AdminHandler struct {
	reg     *registry.Registry
	barrier *savebarrier.Barrier
}

func NewAdminHandler(reg *registry.Registry, barrier *savebarrier.Barrier) *AdminHandler {
	return &AdminHandler{reg: reg, barrier: barrier}
}

type adminServerView struct {
	UID         string `json:"uid"`
	Port        int    `json:"port"`
	PlayerCount int    `json:"player_count"`
	Status      string `json:"status"`
	OwnerID     string `json:"owner_id,omitempty"`
	Private     bool   `json:"private"`
}

type adminHostView struct {
	HostID       string            `json:"host_id"`
	Address      string            `json:"address"`
	Status       string            `json:"status"`
	IsMaster     bool              `json:"is_master"`
	TotalPlayers int               `json:"total_players"`
	Servers      []adminServerView `json:"servers"`
}

// Status handles GET /admin/status: the whole registry plus the save
// barrier's currently pending writes.
func (h *AdminHandler) Status(c *gin.Context) {
	hosts := h.reg.AllHosts()
	out := make([]adminHostView, 0, len(hosts))

	for _, host := range hosts {
		hv := adminHostView{
			HostID:       host.ID,
			Address:      host.Address,
			Status:       string(host.Status),
			IsMaster:     host.IsMaster,
			TotalPlayers: host.TotalPlayers(),
		}
		for _, s := range host.Servers {
			hv.Servers = append(hv.Servers, adminServerView{
				UID:         s.UID,
				Port:        s.Port,
				PlayerCount: s.PlayerCount,
				Status:      string(s.Status),
				OwnerID:     s.OwnerID,
				Private:     s.IsPrivate(),
			})
		}
		out = append(out, hv)
	}

	c.JSON(http.StatusOK, gin.H{
		"hosts":         out,
		"host_count":    len(out),
		"pending_saves": h.barrier.Pending(),
	})
}
