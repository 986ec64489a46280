package agent

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bloxon/controlplane/internal/coreerr"
)

// RegisterRoutes wires the worker agent's own HTTP surface; the control
// plane calls these endpoints directly against each host's address. This
// router lives in the agent binary, not the control plane's.
func RegisterRoutes(r gin.IRouter, a *Agent) {
	r.POST("/spawn_server", a.handleSpawnServer)
	r.POST("/shutdown", a.handleShutdown)
	r.GET("/status", a.handleStatus)
	r.POST("/update_players", a.handleUpdatePlayers)
	r.POST("/track_save", a.handleTrackSave)
}

type spawnServerRequest struct {
	UID     string `json:"uid"`
	Port    int    `json:"port"`
	OwnerID string `json:"owner_id"`
}

type spawnServerResponse struct {
	UID  string `json:"uid"`
	Port int    `json:"port"`
}

func (a *Agent) handleSpawnServer(c *gin.Context) {
	if a.IsShuttingDown() {
		writeErr(c, coreerr.New(coreerr.KindMaintenanceMode, "worker agent is draining"))
		return
	}

	var req spawnServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, coreerr.New(coreerr.KindInvalidJSON, "invalid request body"))
		return
	}

	uid, port, err := a.pm.SpawnServer(a.hostID, req.UID, req.Port, req.OwnerID)
	if err != nil {
		writeErr(c, coreerr.New(coreerr.KindMaxServersReached, err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "uid": uid, "port": port})
}

func (a *Agent) handleShutdown(c *gin.Context) {
	go a.Shutdown()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (a *Agent) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"host_id":       a.hostID,
		"servers":       a.pm.Snapshot(),
		"server_count":  a.pm.Count(),
		"draining":      a.IsShuttingDown(),
		"pending_saves": a.barrier.Pending(),
	})
}

type updatePlayersRequest struct {
	UID         string `json:"uid"`
	PlayerCount int    `json:"player_count"`
}

func (a *Agent) handleUpdatePlayers(c *gin.Context) {
	var req updatePlayersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, coreerr.New(coreerr.KindInvalidJSON, "invalid request body"))
		return
	}
	if err := a.pm.UpdatePlayerCount(req.UID, req.PlayerCount); err != nil {
		writeErr(c, coreerr.New(coreerr.KindServerNotFound, err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// trackSaveRequest is the wire body for POST /track_save: the game process
// posts "start" (carrying user_id/operation, no save_id yet) to open a
// barrier entry, then "complete" or "failed" (carrying the save_id that
// start returned) to close it.
type trackSaveRequest struct {
	SaveID    string `json:"save_id,omitempty"`
	Status    string `json:"status"`
	UserID    string `json:"user_id,omitempty"`
	Operation string `json:"operation,omitempty"`
}

func (a *Agent) handleTrackSave(c *gin.Context) {
	var req trackSaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, coreerr.New(coreerr.KindInvalidJSON, "invalid request body"))
		return
	}

	switch req.Status {
	case "start":
		if req.UserID == "" || req.Operation == "" {
			writeErr(c, coreerr.New(coreerr.KindMissingRequiredFields, "user_id and operation are required to start a save"))
			return
		}
		saveID := a.barrier.Start(req.UserID, req.Operation)
		c.JSON(http.StatusOK, gin.H{"success": true, "save_id": saveID})
	case "complete", "failed":
		if req.SaveID == "" {
			writeErr(c, coreerr.New(coreerr.KindMissingRequiredFields, "save_id is required to close a save"))
			return
		}
		a.barrier.Complete(req.SaveID, req.Status == "complete")
		c.JSON(http.StatusOK, gin.H{"success": true})
	default:
		writeErr(c, coreerr.New(coreerr.KindInvalidData, "status must be start, complete, or failed"))
	}
}

func writeErr(c *gin.Context, e *coreerr.Error) {
	c.JSON(e.HTTPStatus(), gin.H{
		"success": false,
		"error":   gin.H{"code": string(e.Kind), "message": e.Message},
	})
}
