// Package resetpassword completes the password reset flow.
package resetpassword

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/plugin-licensing/internal/http/response"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/sl"
	"github.com/magabrotheeeer/plugin-licensing/internal/services/auth"
)

// Service resets passwords.
type Service interface {
	ResetPassword(ctx context.Context, in auth.ResetPasswordInput) error
}

// Handler handles POST /auth/reset-password.
type Handler struct {
	log *slog.Logger
	svc Service
}

// New returns a Handler.
func New(log *slog.Logger, svc Service) *Handler {
	return &Handler{log: log, svc: svc}
}

// ServeHTTP godoc
// @Summary Reset the password
// @Description Sets a new password with a mailed reset token and signs out every session.
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body auth.ResetPasswordInput true "Token and new password"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse
// @Router /auth/reset-password [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.resetpassword"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req auth.ResetPasswordInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		response.BadRequest(w, r, "invalid request body")
		return
	}

	if err := h.svc.ResetPassword(r.Context(), req); err != nil {
		response.FromError(w, r, log, err)
		return
	}
	log.Info("password reset")
	response.JSON(w, r, http.StatusOK, response.OK(map[string]string{"message": "password has been reset"}))
}
