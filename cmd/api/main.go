// Command api is the control plane's composition root: it loads
// configuration, opens the database, wires every component (host registry,
// matchmaker, lifecycle monitor, save barrier, broadcast bus, cloud
// provisioner), builds the HTTP surface, and serves it until a termination
// signal triggers the graceful shutdown path.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bloxon/controlplane/internal/agent"
	"github.com/bloxon/controlplane/internal/agentclient"
	"github.com/bloxon/controlplane/internal/api"
	"github.com/bloxon/controlplane/internal/broadcast"
	"github.com/bloxon/controlplane/internal/cloud"
	"github.com/bloxon/controlplane/internal/events"
	"github.com/bloxon/controlplane/internal/lifecycle"
	"github.com/bloxon/controlplane/internal/matchmaker"
	"github.com/bloxon/controlplane/internal/middleware"
	"github.com/bloxon/controlplane/internal/playerdata"
	"github.com/bloxon/controlplane/internal/registry"
	"github.com/bloxon/controlplane/internal/repository"
	"github.com/bloxon/controlplane/internal/savebarrier"
	"github.com/bloxon/controlplane/internal/storage"
	"github.com/bloxon/controlplane/internal/tokenauth"
	"github.com/bloxon/controlplane/pkg/config"
	"github.com/bloxon/controlplane/pkg/logger"
	"github.com/bloxon/controlplane/pkg/netutil"
)

func main() {
	cfg := config.Load()

	logger.SetDefault(logger.NewLogger(parseLogLevel(cfg.LogLevel), os.Stdout, cfg.LogJSON))
	logger.Info("starting control plane", map[string]interface{}{"app": cfg.AppName, "debug": cfg.Debug})

	if err := repository.InitDB(cfg); err != nil {
		logger.Fatal("database initialization failed", err, nil)
	}

	setupEventStorage(cfg)

	middleware.SetJWTSigningKey([]byte(cfg.JWTSecret))

	playerStore := buildPlayerStore(cfg)

	reg := registry.New()
	reg.SetBindingClearer(playerStore)

	publicAddr := netutil.DiscoverPublicAddr(cfg.ControlPlanePublicAddr)
	controlPlaneURL := fmt.Sprintf("http://%s:%s", publicAddr, cfg.Port)
	logger.Info("advertising control plane address", map[string]interface{}{"address": publicAddr, "url": controlPlaneURL})

	masterHost := registry.NewHost(cfg.MasterHostID, publicAddr, true)
	masterHost.Status = registry.HostActive
	masterHost.LastHeartbeat = time.Now()
	reg.RegisterHost(masterHost)

	var cloudProvider cloud.Provider
	if cfg.HetznerAPIToken != "" {
		cloudProvider = cloud.NewHetznerProvider(cfg.HetznerAPIToken, cfg.HetznerImage, cfg.HetznerType, cfg.HetznerLocation)
		logger.Info("cloud provisioner enabled", map[string]interface{}{"provider": "hetzner", "location": cfg.HetznerLocation})
	} else {
		cloudProvider = cloud.NewNoopProvider()
		logger.Warn("no cloud provider token configured, provisioning is disabled", nil)
	}

	localPM := agent.NewProcessManager(binaryPath(cfg), controlPlaneURL, cfg.BasePort, cfg.MaxServersInMaster)
	remoteClient := agentclient.New()

	barrier := savebarrier.New(time.Duration(cfg.SaveStaleAfter) * time.Second)
	barrier.StartJanitor()

	mm := matchmaker.New(reg, playerStore, barrier, cloudProvider, localPM, remoteClient, matchmaker.Config{
		MasterHostID:       cfg.MasterHostID,
		MasterAddress:      publicAddr,
		ControlPlaneURL:    controlPlaneURL,
		AccessKey:          cfg.SharedAccessKey,
		MaxServersPerHost:  cfg.MaxServersPerHost,
		MaxServersInMaster: cfg.MaxServersInMaster,
		BasePort:           cfg.BasePort,
		BinaryVersion:      readBinaryVersion(cfg.BinaryVersionFile),
		ProvisionWait:      time.Duration(cfg.ProvisionWaitCeiling) * time.Second,
	})

	monitor := lifecycle.New(reg, cloudProvider, remoteClient, localPM, cfg.MasterHostID, lifecycle.Thresholds{
		HostInactiveAfter: time.Duration(cfg.HostInactiveAfter) * time.Second,
		HostStaleAfter:    time.Duration(cfg.HostStaleAfter) * time.Second,
		HostIdleGrace:     time.Duration(cfg.HostIdleGrace) * time.Second,
		ServerStaleAfter:  time.Duration(cfg.ServerStaleAfter) * time.Second,
		ServerIdleGrace:   time.Duration(cfg.ServerIdleGrace) * time.Second,
	})

	monitorCtx, cancelMonitor := context.WithCancel(context.Background())
	go monitor.Run(monitorCtx)

	bus := broadcast.New(localPM, remoteClient, reg)
	tokens := tokenauth.NewJWTStore([]byte(cfg.JWTSecret))

	handlers := &api.Handlers{
		Request:   api.NewRequestHandler(mm, tokens),
		Heartbeat: api.NewHeartbeatHandler(reg),
		Broadcast: api.NewBroadcastHandler(bus, mm),
		Admin:     api.NewAdminHandler(reg, barrier),
		Download:  api.NewDownloadHandler(cfg.BinariesDir, cfg.SharedAccessKey),
	}
	router := api.SetupRouter(handlers, cfg)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("http server listening", map[string]interface{}{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", err, nil)
		}
	}()

	// Graceful shutdown: TERM/INT wait for every in-flight save to drain
	// before the process exits.
	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, syscall.SIGTERM, syscall.SIGINT)
	<-stopSignal

	logger.Info("shutdown signal received, draining", nil)
	cancelMonitor()
	barrier.Stop()

	if ok := barrier.WaitAll(time.Duration(cfg.DrainTimeout) * time.Second); !ok {
		logger.Warn("drain timeout elapsed with saves still pending", map[string]interface{}{"pending": barrier.Pending()})
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", err, nil)
	}

	logger.Info("control plane stopped", nil)
}

// setupEventStorage wires the domain event bus's persistence: the
// database backend is always present, InfluxDB is layered in on top of it
// when configured. Time-series storage is additive, never a replacement
// for the relational audit trail.
func setupEventStorage(cfg *config.Config) {
	backends := []events.EventStorage{events.NewDatabaseEventStorage(repository.GetDB())}

	if cfg.InfluxDBURL != "" {
		client, err := storage.NewInfluxDBClient(storage.InfluxDBConfig{
			URL:    cfg.InfluxDBURL,
			Token:  cfg.InfluxDBToken,
			Org:    cfg.InfluxDBOrg,
			Bucket: cfg.InfluxDBBucket,
		})
		if err != nil {
			logger.Warn("influxdb unavailable, continuing with database-only event storage", map[string]interface{}{"error": err.Error()})
		} else {
			backends = append(backends, events.NewInfluxDBEventStorage(client))
		}
	}

	var combined events.EventStorage
	if len(backends) == 1 {
		combined = backends[0]
	} else {
		combined = events.NewMultiEventStorage(backends...)
	}
	events.SetEventStorage(combined)
}

// buildPlayerStore picks the production Postgres-backed store.
func buildPlayerStore(cfg *config.Config) playerdata.Store {
	_ = cfg
	return playerdata.NewGormStore(repository.NewPlayerRepository(repository.GetDB()))
}

// binaryPath is the game-server binary the master's own process manager
// launches; the worker-agent binary next to it is only ever served to
// bootstrap scripts via /download_binary, never executed here.
func binaryPath(cfg *config.Config) string {
	return cfg.BinariesDir + "/game-server"
}

// readBinaryVersion reads the current binary version marker kept next to
// the binaries directory, empty if the file is absent (a fresh install that
// has never published a versioned build).
func readBinaryVersion(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// parseLogLevel maps the LOG_LEVEL environment string to a logger.LogLevel,
// defaulting to INFO on anything unrecognized.
func parseLogLevel(level string) logger.LogLevel {
	switch level {
	case "DEBUG", "debug":
		return logger.DEBUG
	case "WARN", "warn", "WARNING", "warning":
		return logger.WARN
	case "ERROR", "error":
		return logger.ERROR
	case "FATAL", "fatal":
		return logger.FATAL
	default:
		return logger.INFO
	}
}
