package middlewarectx

import (
	"log/slog"
	"net/http"
	"slices"

	"github.com/magabrotheeeer/plugin-licensing/internal/http/response"
	"github.com/magabrotheeeer/plugin-licensing/internal/models"
)

// RequireRole lets the request through only when the authenticated role is
// one of roles. It must run after Authenticate.
func RequireRole(log *slog.Logger, roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := RoleFrom(r.Context())
			if role == "" {
				response.JSON(w, r, http.StatusUnauthorized, response.Error("authentication required"))
				return
			}
			if !slices.Contains(roles, role) {
				log.Warn("role not allowed",
					slog.String("user_id", UserIDFrom(r.Context())),
					slog.String("role", string(role)),
					slog.String("path", r.URL.Path))
				response.JSON(w, r, http.StatusForbidden, response.Error("insufficient permissions"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
