// Package twofactor serves enrollment, confirmation and removal of the
// second factor for the signed in user.
package twofactor

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

// Service manages the second factor.
type Service interface {
	Setup2FA(ctx context.Context, userID string) (*auth.TwoFactorSetup, error)
	Verify2FA(ctx context.Context, userID string, in auth.TwoFactorCodeInput) error
	Disable2FA(ctx context.Context, userID string, in auth.TwoFactorCodeInput) error
}

// Handler groups the three 2FA endpoints.
type Handler struct {
	log *slog.Logger
	svc Service
}

// New returns a Handler.
func New(log *slog.Logger, svc Service) *Handler {
	return &Handler{log: log, svc: svc}
}

func (h *Handler) logger(r *http.Request, op string) *slog.Logger {
	return h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("user_id", middlewarectx.UserIDFrom(r.Context())),
	)
}

// Setup godoc
// @Summary Start 2FA enrollment
// @Description Returns the TOTP secret, a QR code data URL and backup codes. 2FA stays off until verified.
// @Tags 2FA
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=auth.TwoFactorSetup}
// @Failure 409 {object} response.ErrorResponse
// @Router /auth/2fa/setup [post]
func (h *Handler) Setup(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.auth.twofactor.setup")

	setup, err := h.svc.Setup2FA(r.Context(), middlewarectx.UserIDFrom(r.Context()))
	if err != nil {
		response.FromError(w, r, log, err)
		return
	}
	response.JSON(w, r, http.StatusOK, response.OK(setup))
}

// Verify godoc
// @Summary Enable 2FA
// @Tags 2FA
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body auth.TwoFactorCodeInput true "TOTP code"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse
// @Failure 401 {object} response.ErrorResponse
// @Router /auth/2fa/verify [post]
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.auth.twofactor.verify")
	h.withCode(w, r, log, h.svc.Verify2FA, "two-factor authentication enabled")
}

// Disable godoc
// @Summary Disable 2FA
// @Tags 2FA
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body auth.TwoFactorCodeInput true "TOTP code"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse
// @Failure 401 {object} response.ErrorResponse
// @Router /auth/2fa/disable [post]
func (h *Handler) Disable(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.auth.twofactor.disable")
	h.withCode(w, r, log, h.svc.Disable2FA, "two-factor authentication disabled")
}

func (h *Handler) withCode(
	w http.ResponseWriter, r *http.Request, log *slog.Logger,
	call func(context.Context, string, auth.TwoFactorCodeInput) error, done string,
) {
	var req auth.TwoFactorCodeInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		response.BadRequest(w, r, "invalid request body")
		return
	}
	if err := call(r.Context(), middlewarectx.UserIDFrom(r.Context()), req); err != nil {
		response.FromError(w, r, log, err)
		return
	}
	log.Info(done)
	response.JSON(w, r, http.StatusOK, response.OK(map[string]string{"message": done}))
}
