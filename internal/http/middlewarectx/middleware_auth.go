// Package middlewarectx holds the HTTP middleware of the API: bearer
// authentication, role checks, per-client rate limiting and API version
// headers. Authenticated identity travels in the request context.
package middlewarectx

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/plugin-licensing/internal/http/response"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/jwt"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/sl"
	"github.com/magabrotheeeer/plugin-licensing/internal/models"
	"github.com/magabrotheeeer/plugin-licensing/internal/services/credentials"
)

// Key is the type of request context keys set by this package.
type Key string

const (
	// UserID holds the authenticated user id.
	UserID Key = "user_id"
	// Email holds the authenticated user email.
	Email Key = "email"
	// Role holds the authenticated user role as models.Role.
	Role Key = "role"
)

// TokenVerifier checks access tokens.
type TokenVerifier interface {
	VerifyAccess(token string) (*jwt.Claims, error)
}

// UserLoader loads the live account behind a token.
type UserLoader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// Authenticate requires a valid Bearer access token whose user still
// exists and is not deleted. The role is taken from the stored account so a
// demotion applies before the token expires.
func Authenticate(tokens TokenVerifier, users UserLoader, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.Authenticate"
			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				log.Debug("missing or invalid authorization header")
				response.JSON(w, r, http.StatusUnauthorized, response.Error("missing or invalid authorization header"))
				return
			}
			tokenStr := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

			claims, err := tokens.VerifyAccess(tokenStr)
			if err != nil {
				log.Debug("access token rejected", sl.Err(err))
				response.FromError(w, r, log, err)
				return
			}

			u, err := users.FindByID(r.Context(), claims.Subject)
			if err != nil {
				if errors.Is(err, credentials.ErrUserNotFound) {
					log.Warn("token for unknown or deleted user", slog.String("user_id", claims.Subject), sl.Err(err))
					response.JSON(w, r, http.StatusUnauthorized, response.Error("user no longer exists"))
					return
				}
				response.FromError(w, r, log, err)
				return
			}

			ctx := context.WithValue(r.Context(), UserID, u.ID)
			ctx = context.WithValue(ctx, Email, u.Email)
			ctx = context.WithValue(ctx, Role, u.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFrom returns the authenticated user id, or "".
func UserIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(UserID).(string)
	return id
}

// RoleFrom returns the authenticated role, or "".
func RoleFrom(ctx context.Context) models.Role {
	role, _ := ctx.Value(Role).(models.Role)
	return role
}

// ClientIP returns the host part of r.RemoteAddr. Run chi's RealIP first
// when the API sits behind a proxy.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
