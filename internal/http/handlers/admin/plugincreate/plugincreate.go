// Package plugincreate registers plugins in the catalog.
package plugincreate

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/plugin-licensing/internal/http/response"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/sl"
	"github.com/magabrotheeeer/plugin-licensing/internal/models"
	"github.com/magabrotheeeer/plugin-licensing/internal/services/license"
)

// Service creates plugins.
type Service interface {
	CreatePlugin(ctx context.Context, in license.PluginInput) (*models.Plugin, error)
}

// Handler handles POST /admin/plugins.
type Handler struct {
	log *slog.Logger
	svc Service
}

// New returns a Handler.
func New(log *slog.Logger, svc Service) *Handler {
	return &Handler{log: log, svc: svc}
}

// ServeHTTP godoc
// @Summary Create a plugin
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body license.PluginInput true "Plugin"
// @Success 201 {object} response.Response{data=models.Plugin}
// @Failure 400 {object} response.ErrorResponse
// @Failure 403 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse
// @Router /admin/plugins [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.plugincreate"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req license.PluginInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		response.BadRequest(w, r, "invalid request body")
		return
	}

	p, err := h.svc.CreatePlugin(r.Context(), req)
	if err != nil {
		response.FromError(w, r, log, err)
		return
	}
	log.Info("plugin created", slog.String("slug", p.Slug))
	response.JSON(w, r, http.StatusCreated, response.OK(p))
}
