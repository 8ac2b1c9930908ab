// Package register serves account registration.
package register

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

// Service registers accounts.
type Service interface {
	Register(ctx context.Context, in auth.RegisterInput, info token.ClientInfo) (*auth.AuthResult, error)
}

// Handler handles POST /auth/register.
type Handler struct {
	log *slog.Logger
	svc Service
}

// New returns a Handler.
func New(log *slog.Logger, svc Service) *Handler {
	return &Handler{log: log, svc: svc}
}

// ServeHTTP godoc
// @Summary Register an account
// @Description Creates the account, mails a verification link and returns a token pair.
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body auth.RegisterInput true "Registration form"
// @Success 201 {object} response.Response{data=auth.AuthResult}
// @Failure 400 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /auth/register [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.register"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req auth.RegisterInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		response.BadRequest(w, r, "invalid request body")
		return
	}

	res, err := h.svc.Register(r.Context(), req, token.ClientInfo{
		IP:        middlewarectx.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		response.FromError(w, r, log, err)
		return
	}

	log.Info("user registered", slog.String("user_id", res.User.ID))
	response.JSON(w, r, http.StatusCreated, response.OK(res))
}
