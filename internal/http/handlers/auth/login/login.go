// Package login serves password login with the optional second factor.
package login

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
	"github.com/magabrotheeeer/plugin-licensing/internal/services/token"
)

// Service logs users in.
type Service interface {
	Login(ctx context.Context, in auth.LoginInput, info token.ClientInfo) (*auth.LoginResult, error)
}

// Handler handles POST /auth/login.
type Handler struct {
	log *slog.Logger
	svc Service
}

// New returns a Handler.
func New(log *slog.Logger, svc Service) *Handler {
	return &Handler{log: log, svc: svc}
}

// ServeHTTP godoc
// @Summary Log in
// @Description Checks the password and, when enabled, the second factor. Without a code a 2FA account gets requires_2fa and no tokens.
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body auth.LoginInput true "Credentials"
// @Success 200 {object} response.Response{data=auth.LoginResult}
// @Failure 400 {object} response.ErrorResponse
// @Failure 401 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /auth/login [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.login"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req auth.LoginInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		response.BadRequest(w, r, "invalid request body")
		return
	}

	res, err := h.svc.Login(r.Context(), req, token.ClientInfo{
		IP:        middlewarectx.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		log.Info("login rejected", sl.Err(err))
		response.FromError(w, r, log, err)
		return
	}
	response.JSON(w, r, http.StatusOK, response.OK(res))
}
