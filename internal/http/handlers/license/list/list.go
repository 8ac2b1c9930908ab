// Package list returns the licenses of the signed in user.
package list

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/plugin-licensing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/plugin-licensing/internal/http/response"
	"github.com/magabrotheeeer/plugin-licensing/internal/models"
)

// Service lists licenses.
type Service interface {
	ListForUser(ctx context.Context, userID string) ([]models.License, error)
}

// Handler handles GET /licenses.
type Handler struct {
	log *slog.Logger
	svc Service
}

// New returns a Handler.
func New(log *slog.Logger, svc Service) *Handler {
	return &Handler{log: log, svc: svc}
}

// ServeHTTP godoc
// @Summary My licenses
// @Tags Licenses
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=[]models.License}
// @Failure 401 {object} response.ErrorResponse
// @Router /licenses [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.license.list"
	userID := middlewarectx.UserIDFrom(r.Context())
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("user_id", userID),
	)

	licenses, err := h.svc.ListForUser(r.Context(), userID)
	if err != nil {
		response.FromError(w, r, log, err)
		return
	}
	response.JSON(w, r, http.StatusOK, response.OK(licenses))
}
