package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bloxon/controlplane/internal/coreerr"
	"github.com/bloxon/controlplane/internal/matchmaker"
	"github.com/bloxon/controlplane/internal/middleware"
	"github.com/bloxon/controlplane/internal/tokenauth"
)

// RequestHandler serves the client-facing matchmaking surface:
// request_server plus the private-server subscribe/cancel pair.
type RequestHandler struct {
	mm     *matchmaker.Matchmaker
	tokens tokenauth.TokenStore
}

func NewRequestHandler(mm *matchmaker.Matchmaker, tokens tokenauth.TokenStore) *RequestHandler {
	return &RequestHandler{mm: mm, tokens: tokens}
}

type requestServerBody struct {
	Token string `json:"token"`
}

// RequestServer handles POST /request_server.
func (h *RequestHandler) RequestServer(c *gin.Context) {
	var body requestServerBody
	if err := c.ShouldBindJSON(&body); err != nil {
		middleware.RenderError(c, coreerr.New(coreerr.KindInvalidJSON, "malformed request body"))
		return
	}
	if body.Token == "" {
		middleware.RenderError(c, coreerr.New(coreerr.KindMissingRequiredFields, "token is required"))
		return
	}

	userID, err := h.tokens.ValidateToken(c.Request.Context(), body.Token)
	if err != nil {
		middleware.RenderError(c, coreerr.As(err))
		return
	}

	result, err := h.mm.RequestServer(c.Request.Context(), userID)
	if err != nil {
		middleware.RenderError(c, coreerr.As(err))
		return
	}
	c.JSON(http.StatusOK, result)
}

// Subscribe handles POST /subscribe: purchase a private server.
// Bearer-authenticated, unlike request_server, since this mutates the
// player's currency balance and is never offered anonymously.
func (h *RequestHandler) Subscribe(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		middleware.RenderError(c, coreerr.New(coreerr.KindInvalidToken, "missing bearer token"))
		return
	}

	result, err := h.mm.Subscribe(c.Request.Context(), userID)
	if err != nil {
		middleware.RenderError(c, coreerr.As(err))
		return
	}
	c.JSON(http.StatusOK, result)
}

// Cancel handles POST /cancel: reverse a private-server subscription.
func (h *RequestHandler) Cancel(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		middleware.RenderError(c, coreerr.New(coreerr.KindInvalidToken, "missing bearer token"))
		return
	}

	if err := h.mm.Cancel(c.Request.Context(), userID); err != nil {
		middleware.RenderError(c, coreerr.As(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
