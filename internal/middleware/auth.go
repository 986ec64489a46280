package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/bloxon/controlplane/internal/coreerr"
)

// Claims is the subset of the external token store's JWT payload the
// control plane trusts; tokens are issued by that store, never minted
// here.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

var jwtSigningKey []byte

// SetJWTSigningKey wires the shared secret used to verify bearer tokens.
// Called once by the composition root.
func SetJWTSigningKey(key []byte) { jwtSigningKey = key }

func writeCoreErr(c *gin.Context, kind coreerr.Kind, message string) {
	err := coreerr.New(kind, message)
	c.JSON(err.HTTPStatus(), gin.H{"success": false, "error": gin.H{"code": string(kind), "message": message}})
	c.Abort()
}

// AuthMiddleware validates a bearer JWT and sets user_id in context.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := validateBearer(c)
		if !ok {
			return
		}
		c.Set("user_id", userID)
		c.Next()
	}
}

// OptionalAuthMiddleware sets user_id if a valid bearer token is present,
// but never rejects the request.
func OptionalAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Next()
			return
		}
		if userID, ok := parseBearer(authHeader); ok {
			c.Set("user_id", userID)
		}
		c.Next()
	}
}

func validateBearer(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		writeCoreErr(c, coreerr.KindInvalidToken, "missing authorization header")
		return "", false
	}

	userID, ok := parseBearer(authHeader)
	if !ok {
		writeCoreErr(c, coreerr.KindInvalidToken, "invalid or expired token")
		return "", false
	}
	return userID, true
}

func parseBearer(authHeader string) (string, bool) {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", false
	}

	token, err := jwt.ParseWithClaims(parts[1], &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return jwtSigningKey, nil
	})
	if err != nil || !token.Valid {
		return "", false
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || claims.UserID == "" {
		return "", false
	}
	return claims.UserID, true
}

// AccessKeyMiddleware gates a route with a shared access key, comparing the
// body's access_key against a bcrypt hash. No route in the router uses it;
// /download_binary checks its key inside DownloadHandler.
func AccessKeyMiddleware(hashedKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			AccessKey string `json:"access_key"`
		}
		if err := c.ShouldBindJSON(&body); err != nil || body.AccessKey == "" {
			writeCoreErr(c, coreerr.KindInvalidAccessKey, "missing access_key")
			return
		}
		if bcrypt.CompareHashAndPassword([]byte(hashedKey), []byte(body.AccessKey)) != nil {
			writeCoreErr(c, coreerr.KindInvalidAccessKey, "invalid access_key")
			return
		}
		c.Next()
	}
}

// RequireRole is unused by any current route (the control plane has no
// role-based endpoints beyond the bearer/admin split GetUserID already
// covers) but kept available for a future admin-role split.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userRole, exists := c.Get("user_role")
		if !exists {
			writeCoreErr(c, coreerr.KindInvalidToken, "not authenticated")
			return
		}
		if userRole != role && userRole != "admin" {
			c.JSON(http.StatusForbidden, gin.H{"success": false, "error": gin.H{"code": "forbidden", "message": "insufficient permissions"}})
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetUserID extracts the authenticated user id from context.
func GetUserID(c *gin.Context) string {
	userID, exists := c.Get("user_id")
	if !exists {
		return ""
	}
	return userID.(string)
}
