// Package auth checks HS256 bearer tokens on the API. With no secret
// configured the server runs open on the loopback interface.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const SubjectKey contextKey = "subject"

// Claims are the token claims the API reads. Scope is a space separated
// list; "import" is required to post transmissions.
type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope,omitempty"`
}

// HasScope reports whether s is one of the token scopes.
func (c *Claims) HasScope(s string) bool {
	for _, f := range strings.Fields(c.Scope) {
		if f == s {
			return true
		}
	}
	return false
}

type JWTConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
	// Skipper bypasses authentication when it returns true.
	Skipper func(echo.Context) bool
}

const claimsKey = "auth_claims"

// JWTMiddleware validates the bearer token. It is a no-op when no secret
// is configured.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	keyFunc := func(*jwt.Token) (interface{}, error) { return cfg.Secret, nil }

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if len(cfg.Secret) == 0 || (cfg.Skipper != nil && cfg.Skipper(c)) {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, keyFunc, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			c.Set(claimsKey, claims)
			ctx := context.WithValue(c.Request().Context(), SubjectKey, claims.Subject)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// RequireScope rejects authenticated requests whose token lacks scope.
// Requests that passed through without a token (auth disabled) are allowed.
func RequireScope(scope string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, ok := c.Get(claimsKey).(*Claims)
			if ok && !claims.HasScope(scope) {
				return echo.NewHTTPError(http.StatusForbidden, "insufficient scope")
			}
			return next(c)
		}
	}
}

// SubjectFromContext returns the token subject, or "" when auth is off.
func SubjectFromContext(ctx context.Context) string {
	sub, _ := ctx.Value(SubjectKey).(string)
	return sub
}
