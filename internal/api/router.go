// Package api is the control plane's HTTP layer: a thin Gin surface that
// validates input, translates wire shapes, and delegates to the
// matchmaker, host registry, broadcast bus and save barrier.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bloxon/controlplane/internal/middleware"
	"github.com/bloxon/controlplane/internal/repository"
	"github.com/bloxon/controlplane/pkg/config"
)

// Handlers bundles every handler group the router wires up. Built once by
// the composition root and passed in whole.
type Handlers struct {
	Request   *RequestHandler
	Heartbeat *HeartbeatHandler
	Broadcast *BroadcastHandler
	Admin     *AdminHandler
	Download  *DownloadHandler
}

// SetupRouter builds the Gin engine and wires every route.
func SetupRouter(h *Handlers, cfg *config.Config) *gin.Engine {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.RateLimitMiddleware(middleware.APIRateLimiter, cfg.ControlPlanePublicAddr))

	dbProvider := repository.GetDBProvider()
	health := NewHealthHandler(dbProvider)
	router.GET("/health", health.HealthCheck)
	router.HEAD("/health", health.HealthCheck)
	router.GET("/ready", health.ReadinessCheck)
	router.GET("/live", health.LivenessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Client-facing surface: bearer auth optional at the transport layer,
	// the token itself is validated inside RequestServer so invalid_token
	// comes back as a classified error, not a middleware rejection.
	router.POST("/request_server", h.Request.RequestServer)
	router.POST("/subscribe", middleware.AuthMiddleware(), h.Request.Subscribe)
	router.POST("/cancel", middleware.AuthMiddleware(), h.Request.Cancel)

	// Agent-facing surface: heartbeats arrive from every worker agent,
	// unauthenticated beyond network placement.
	router.POST("/heartbeat", h.Heartbeat.Heartbeat)

	// Broadcast bus surface.
	router.GET("/broadcast/pull", h.Broadcast.Pull)
	router.GET("/broadcast/stream", h.Broadcast.Stream)
	router.POST("/admin/maintenance", middleware.AuthMiddleware(), h.Broadcast.EnterMaintenance)

	// Admin read surface; write-side admin actions live in the dashboard
	// service, not here.
	router.GET("/admin/status", middleware.AuthMiddleware(), h.Admin.Status)

	// Binary distribution, gated by the shared access key instead of a
	// user's bearer token.
	router.POST("/download_binary", h.Download.Download)

	return router
}
