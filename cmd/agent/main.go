// Command agent is the worker agent binary that the bootstrap script
// launches on every provisioned host. It owns the host's local
// game-server processes, serves the spawn/shutdown/status/update_players/
// track_save HTTP surface the control plane and the game processes call,
// and reports heartbeats until told (or forced) to drain. Composition
// mirrors cmd/api: env config, logger, wiring, HTTP server, signal-driven
// graceful shutdown.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bloxon/controlplane/internal/agent"
	"github.com/bloxon/controlplane/internal/savebarrier"
	"github.com/bloxon/controlplane/pkg/logger"
)

const (
	heartbeatInterval = 5 * time.Second
	drainTimeout      = 30 * time.Second
	saveStaleAfter    = 30 * time.Second

	// binaryDownloadTimeout bounds the game-binary fetch from the control
	// plane.
	binaryDownloadTimeout = 300 * time.Second
)

func main() {
	hostID := getenv("HOST_ID", "")
	controlPlaneURL := getenv("CONTROL_PLANE_URL", "")
	if hostID == "" || controlPlaneURL == "" {
		fmt.Fprintln(os.Stderr, "HOST_ID and CONTROL_PLANE_URL are required")
		os.Exit(1)
	}

	logger.SetDefault(logger.NewLogger(logger.INFO, os.Stdout, getenvBool("LOG_JSON", false)))
	logger.Info("starting worker agent", map[string]interface{}{"host_id": hostID, "control_plane": controlPlaneURL})

	gameBinary := getenv("GAME_BINARY", "./game-server")
	if err := ensureGameBinary(gameBinary, controlPlaneURL, getenv("ACCESS_KEY", "")); err != nil {
		logger.Fatal("game binary unavailable", err, map[string]interface{}{"path": gameBinary})
	}

	basePort := getenvInt("BASE_PORT", 9000)
	maxServers := getenvInt("MAX_SERVERS_PER_HOST", 6)

	barrier := savebarrier.New(saveStaleAfter)
	pm := agent.NewProcessManager(gameBinary, controlPlaneURL, basePort, maxServers)
	a := agent.New(hostID, controlPlaneURL, pm, barrier, heartbeatInterval, drainTimeout)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	agent.RegisterRoutes(router, a)

	agentPort := getenv("AGENT_PORT", "8081")
	srv := &http.Server{Addr: ":" + agentPort, Handler: router}
	go func() {
		logger.Info("agent http surface listening", map[string]interface{}{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("agent http server failed", err, nil)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
		<-stop
		logger.Info("shutdown signal received", map[string]interface{}{"host_id": hostID})
		cancel()
	}()

	// Blocks until the drain completes: on ctx cancellation Run invokes the
	// shutdown barrier itself (suppress heartbeats, wait for pending saves,
	// stop every local server) before returning.
	a.Run(ctx)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = srv.Shutdown(shutdownCtx)

	logger.Info("worker agent stopped", map[string]interface{}{"host_id": hostID})
}

// ensureGameBinary downloads the game-server binary from the control plane
// if it is not already on disk, using the shared access key the bootstrap
// script exported. An already-downloaded binary is left alone so retries
// stay idempotent.
func ensureGameBinary(path, controlPlaneURL, accessKey string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if accessKey == "" {
		return fmt.Errorf("binary %s is missing and no ACCESS_KEY is set to download it", path)
	}

	client := http.Client{Timeout: binaryDownloadTimeout}
	body := strings.NewReader(fmt.Sprintf(`{"access_key":%q,"binary":"game-server"}`, accessKey))
	resp, err := client.Post(controlPlaneURL+"/download_binary", "application/json", body)
	if err != nil {
		return fmt.Errorf("download game binary: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download game binary: status %d", resp.StatusCode)
	}

	tmp := path + ".partial"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
