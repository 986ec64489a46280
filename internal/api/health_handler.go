package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bloxon/controlplane/internal/repository"
)

// HealthHandler serves the ungated liveness/readiness probes: a start
// time for uptime reporting plus a database ping for readiness.
type HealthHandler struct {
	startTime  time.Time
	dbProvider repository.DatabaseProvider
}

func NewHealthHandler(dbProvider repository.DatabaseProvider) *HealthHandler {
	return &HealthHandler{startTime: time.Now(), dbProvider: dbProvider}
}

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "controlplane",
		"uptime":  time.Since(h.startTime).String(),
	})
}

func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	if err := h.dbProvider.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not_ready",
			"reason": "database_unavailable",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "database": "connected"})
}

func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive", "uptime": time.Since(h.startTime).String()})
}
