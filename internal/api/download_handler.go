package api

import (
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/bloxon/controlplane/internal/coreerr"
	"github.com/bloxon/controlplane/internal/middleware"
)

// DownloadHandler serves the game-server and worker-agent binaries to a
// bootstrap script running on a freshly provisioned host, gated by the
// shared access key rather than a per-user bearer token.
type DownloadHandler struct {
	binariesDir string
	accessKey   string
}

func NewDownloadHandler(binariesDir, accessKey string) *DownloadHandler {
	return &DownloadHandler{binariesDir: binariesDir, accessKey: accessKey}
}

type downloadBinaryBody struct {
	AccessKey string `json:"access_key"`
	Binary    string `json:"binary"` // game-server (default) or worker-agent
}

// servableBinaries is the closed set of names Download will hand out; the
// binaries directory may hold other files (version.txt, old builds) that
// must never be fetchable.
var servableBinaries = map[string]bool{
	"game-server":  true,
	"worker-agent": true,
}

// Download handles POST /download_binary. Defaults to the game-server
// binary; the bootstrap script asks for worker-agent explicitly. Version
// pinning, if ever needed, is a BinaryVersionFile concern the provisioner
// reads separately, not a request parameter here.
func (h *DownloadHandler) Download(c *gin.Context) {
	var body downloadBinaryBody
	if err := c.ShouldBindJSON(&body); err != nil {
		middleware.RenderError(c, coreerr.New(coreerr.KindInvalidJSON, "malformed request body"))
		return
	}
	if body.AccessKey == "" || body.AccessKey != h.accessKey {
		middleware.RenderError(c, coreerr.New(coreerr.KindInvalidAccessKey, "invalid access_key"))
		return
	}

	name := body.Binary
	if name == "" {
		name = "game-server"
	}
	if !servableBinaries[name] {
		middleware.RenderError(c, coreerr.New(coreerr.KindInvalidData, "unknown binary"))
		return
	}

	path := filepath.Join(h.binariesDir, name)
	if _, err := os.Stat(path); err != nil {
		middleware.RenderError(c, coreerr.New(coreerr.KindInternal, "binary unavailable"))
		return
	}

	c.FileAttachment(path, name)
}
