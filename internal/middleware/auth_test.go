package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	gin.SetMode(gin.TestMode)
	SetJWTSigningKey([]byte("test-signing-key"))
}

func signedToken(t *testing.T, userID string, expiresIn time.Duration) string {
	t.Helper()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(jwtSigningKey)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return signed
}

func runThroughAuthMiddleware(authHeader string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c, engine := gin.CreateTestContext(w)
	engine.Use(AuthMiddleware())
	engine.GET("/protected", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": GetUserID(c)})
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	c.Request = req
	engine.ServeHTTP(w, req)
	return w
}

func TestAuthMiddlewareAcceptsValidBearerToken(t *testing.T) {
	tok := signedToken(t, "user-42", time.Hour)
	w := runThroughAuthMiddleware("Bearer " + tok)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for a valid token, got %d: %s", w.Code, w.Body.String())
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("user-42")) {
		t.Fatalf("expected the handler to see user-42, got %s", w.Body.String())
	}
}

func TestAuthMiddlewareRejectsMissingHeader(t *testing.T) {
	w := runThroughAuthMiddleware("")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a missing authorization header, got %d", w.Code)
	}
}

func TestAuthMiddlewareRejectsExpiredToken(t *testing.T) {
	tok := signedToken(t, "user-42", -time.Hour)
	w := runThroughAuthMiddleware("Bearer " + tok)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for an expired token, got %d", w.Code)
	}
}

func TestAuthMiddlewareRejectsMalformedHeader(t *testing.T) {
	w := runThroughAuthMiddleware("NotBearer abc.def.ghi")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a malformed authorization header, got %d", w.Code)
	}
}

func TestOptionalAuthMiddlewareAllowsMissingToken(t *testing.T) {
	w := httptest.NewRecorder()
	_, engine := gin.CreateTestContext(w)
	engine.Use(OptionalAuthMiddleware())
	engine.GET("/maybe", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": GetUserID(c)})
	})

	req := httptest.NewRequest(http.MethodGet, "/maybe", nil)
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 without a token, got %d", w.Code)
	}
}

func TestAccessKeyMiddlewareAcceptsMatchingKey(t *testing.T) {
	hashed, err := bcrypt.GenerateFromPassword([]byte("super-secret"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("failed to hash test key: %v", err)
	}

	w := httptest.NewRecorder()
	_, engine := gin.CreateTestContext(w)
	engine.Use(AccessKeyMiddleware(string(hashed)))
	engine.POST("/gated", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })

	req := httptest.NewRequest(http.MethodPost, "/gated", bytes.NewReader([]byte(`{"access_key":"super-secret"}`)))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for a matching access key, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAccessKeyMiddlewareRejectsWrongKey(t *testing.T) {
	hashed, _ := bcrypt.GenerateFromPassword([]byte("super-secret"), bcrypt.DefaultCost)

	w := httptest.NewRecorder()
	_, engine := gin.CreateTestContext(w)
	engine.Use(AccessKeyMiddleware(string(hashed)))
	engine.POST("/gated", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })

	req := httptest.NewRequest(http.MethodPost, "/gated", bytes.NewReader([]byte(`{"access_key":"wrong"}`)))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized && w.Code != http.StatusForbidden {
		t.Fatalf("expected a rejection status for a wrong access key, got %d", w.Code)
	}
}
