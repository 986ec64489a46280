package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/bloxon/controlplane/internal/broadcast"
	"github.com/bloxon/controlplane/internal/coreerr"
	"github.com/bloxon/controlplane/internal/matchmaker"
	"github.com/bloxon/controlplane/internal/middleware"
	"github.com/bloxon/controlplane/pkg/logger"
)

// maintenanceShutdownDelay is how long after entering maintenance mode the
// broadcast bus waits before sweeping every local server and non-master
// host.
const maintenanceShutdownDelay = 30 * time.Second

var upgrader = websocket.Upgrader{
	// The control plane serves this endpoint behind the same origin the
	// game client already trusts, so no same-origin policy is enforced
	// here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// BroadcastHandler serves the broadcast bus's pull/stream surface and the
// maintenance-mode toggle.
type BroadcastHandler struct {
	bus *broadcast.Bus
	mm  *matchmaker.Matchmaker
}

func NewBroadcastHandler(bus *broadcast.Bus, mm *matchmaker.Matchmaker) *BroadcastHandler {
	return &BroadcastHandler{bus: bus, mm: mm}
}

// Pull handles GET /broadcast/pull?cursor=N: every message with id > cursor.
func (h *BroadcastHandler) Pull(c *gin.Context) {
	cursor, _ := strconv.ParseInt(c.Query("cursor"), 10, 64)
	c.JSON(http.StatusOK, gin.H{"messages": h.bus.Pull(cursor)})
}

// Stream handles GET /broadcast/stream: a long-lived WebSocket connection
// that blocks on the subscriber's mailbox and closes on peer termination,
// send failure, or unsubscribe.
func (h *BroadcastHandler) Stream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("broadcast stream upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer conn.Close()

	mailbox, unsubscribe := h.bus.Subscribe()
	defer unsubscribe()

	// A reader goroutine is required so gorilla/websocket notices the peer
	// closing the connection (pings/close frames are only processed while
	// something is reading).
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg, ok := <-mailbox:
			if !ok {
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

// EnterMaintenance handles POST /admin/maintenance: flips the matchmaker's
// maintenance flag and schedules the delayed global shutdown sweep.
func (h *BroadcastHandler) EnterMaintenance(c *gin.Context) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		middleware.RenderError(c, coreerr.New(coreerr.KindInvalidJSON, "malformed request body"))
		return
	}

	h.mm.SetMaintenance(body.Enabled)
	if body.Enabled {
		h.bus.EnterMaintenance(maintenanceShutdownDelay)
	} else {
		h.bus.Add("maintenance_exited", nil)
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "maintenance_mode": body.Enabled})
}
