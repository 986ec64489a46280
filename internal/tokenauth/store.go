// Package tokenauth fronts the external session-token / account store.
// TokenStore is the narrow contract the HTTP layer needs for
// request_server's {token} field; the JWT implementation here validates
// the token's signature and shape, and trusts the issuing account service
// for the account's existence.
package tokenauth

import (
	"context"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bloxon/controlplane/internal/coreerr"
)

// TokenStore resolves an opaque session token to a user id.
type TokenStore interface {
	ValidateToken(ctx context.Context, token string) (userID string, err error)
}

type claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// JWTStore validates that a token is a well-formed, correctly signed JWT
// carrying a user_id claim, and treats any such token as belonging to an
// existing account. Same parsing as internal/middleware's bearer check,
// applied to a request-body token instead of an Authorization header.
type JWTStore struct {
	signingKey []byte
}

var _ TokenStore = (*JWTStore)(nil)

func NewJWTStore(signingKey []byte) *JWTStore {
	return &JWTStore{signingKey: signingKey}
}

func (s *JWTStore) ValidateToken(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", coreerr.New(coreerr.KindInvalidToken, "token is empty")
	}

	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return s.signingKey, nil
	})
	if err != nil || !parsed.Valid {
		return "", coreerr.New(coreerr.KindInvalidToken, "token is invalid or expired")
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || c.UserID == "" {
		return "", coreerr.New(coreerr.KindInvalidToken, "token carries no user_id claim")
	}
	return c.UserID, nil
}
