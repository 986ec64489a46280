package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bloxon/controlplane/internal/coreerr"
	"github.com/bloxon/controlplane/pkg/logger"
)

// ErrorHandler recovers panics and renders any coreerr.Error the handler
// set on the gin context via c.Error(...) into the fixed wire shape
// {success:false, error:{code,message}}.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered", nil, map[string]interface{}{
					"path": c.Request.URL.Path, "method": c.Request.Method, "panic": r,
				})
				RenderError(c, coreerr.Wrap(nil, "internal server error"))
				c.Abort()
			}
		}()

		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			RenderError(c, coreerr.As(c.Errors.Last().Err))
		}
	}
}

// RenderError writes a coreerr.Error in the control plane's fixed wire
// shape; the underlying cause is logged but never returned to the caller.
func RenderError(c *gin.Context, err *coreerr.Error) {
	logger.Error("request failed", err, map[string]interface{}{
		"code": string(err.Kind), "path": c.Request.URL.Path, "method": c.Request.Method,
	})

	status := err.HTTPStatus()
	if status == 0 {
		status = http.StatusInternalServerError
	}

	c.JSON(status, gin.H{
		"success": false,
		"error":   gin.H{"code": string(err.Kind), "message": err.Message},
	})
}
