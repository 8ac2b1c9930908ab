// Package changepassword replaces the password of the signed in user.
package changepassword

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/plugin-licensing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/plugin-licensing/internal/http/response"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/sl"
	"github.com/magabrotheeeer/plugin-licensing/internal/services/auth"
)

// Service changes passwords.
type Service interface {
	ChangePassword(ctx context.Context, userID string, in auth.ChangePasswordInput) error
}

// Handler handles POST /auth/change-password.
type Handler struct {
	log *slog.Logger
	svc Service
}

// New returns a Handler.
func New(log *slog.Logger, svc Service) *Handler {
	return &Handler{log: log, svc: svc}
}

// ServeHTTP godoc
// @Summary Change the password
// @Description Requires the current password. Every refresh token of the user is revoked.
// @Tags Auth
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body auth.ChangePasswordInput true "Current and new password"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse
// @Failure 401 {object} response.ErrorResponse
// @Router /auth/change-password [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.changepassword"
	userID := middlewarectx.UserIDFrom(r.Context())
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("user_id", userID),
	)

	var req auth.ChangePasswordInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		response.BadRequest(w, r, "invalid request body")
		return
	}

	if err := h.svc.ChangePassword(r.Context(), userID, req); err != nil {
		response.FromError(w, r, log, err)
		return
	}
	log.Info("password changed")
	response.JSON(w, r, http.StatusOK, response.OK(map[string]string{"message": "password changed"}))
}
