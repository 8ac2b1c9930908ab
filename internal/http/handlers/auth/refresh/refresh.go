// Package refresh serves refresh token rotation.
package refresh

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/plugin-licensing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/plugin-licensing/internal/http/response"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/sl"
	"github.com/magabrotheeeer/plugin-licensing/internal/models"
	"github.com/magabrotheeeer/plugin-licensing/internal/services/auth"
	"github.com/magabrotheeeer/plugin-licensing/internal/services/token"
)

// Service rotates refresh tokens.
type Service interface {
	Refresh(ctx context.Context, in auth.RefreshInput, info token.ClientInfo) (models.TokenPair, error)
}

// Handler handles POST /auth/refresh.
type Handler struct {
	log *slog.Logger
	svc Service
}

// New returns a Handler.
func New(log *slog.Logger, svc Service) *Handler {
	return &Handler{log: log, svc: svc}
}

// ServeHTTP godoc
// @Summary Refresh the token pair
// @Description Exchanges a refresh token for a new pair. The presented token stops working.
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body auth.RefreshInput true "Refresh token"
// @Success 200 {object} response.Response{data=models.TokenPair}
// @Failure 400 {object} response.ErrorResponse
// @Failure 401 {object} response.ErrorResponse
// @Router /auth/refresh [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.refresh"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req auth.RefreshInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		response.BadRequest(w, r, "invalid request body")
		return
	}

	pair, err := h.svc.Refresh(r.Context(), req, token.ClientInfo{
		IP:        middlewarectx.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		response.FromError(w, r, log, err)
		return
	}
	response.JSON(w, r, http.StatusOK, response.OK(pair))
}
