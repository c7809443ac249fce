package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in the token's role claim.
const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

// ErrTokenInvalid is returned for tokens that fail verification.
var ErrTokenInvalid = errors.New("api: invalid token")

// Claims are the JWT claims issued by the site server.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// ParseToken verifies an HS256 token against secret and returns its
// claims. Subject and role are required.
func ParseToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	switch claims.Role {
	case RoleAdmin, RoleViewer:
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrTokenInvalid, claims.Role)
	}
	return claims, nil
}

const ctxKeyClaims contextKey = "claims"

// claimsFrom returns the verified claims stored by authMiddleware.
func claimsFrom(ctx context.Context) *Claims {
	c, _ := ctx.Value(ctxKeyClaims).(*Claims) //nolint:errcheck // nil when unauthenticated
	return c
}

// bearerToken extracts the token from the Authorization header, falling
// back to the access_token query parameter for WebSocket upgrades.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

// authMiddleware rejects requests without a valid token.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeUnauthorized(w, "bearer token required")
			return
		}
		claims, err := ParseToken(token, s.cfg.JWTSecret)
		if err != nil {
			s.logger.Debug("token rejected", "error", err, "path", r.URL.Path)
			writeUnauthorized(w, "invalid or expired token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyClaims, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole allows only tokens carrying role.
func requireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if c := claimsFrom(r.Context()); c == nil || c.Role != role {
				writeForbidden(w, role+" role required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
