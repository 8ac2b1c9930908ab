// Package pluginversion publishes a new plugin release.
package pluginversion

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/plugin-licensing/internal/http/response"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/sl"
	"github.com/magabrotheeeer/plugin-licensing/internal/models"
	"github.com/magabrotheeeer/plugin-licensing/internal/services/license"
)

// Service publishes versions.
type Service interface {
	PublishVersion(ctx context.Context, slug string, in license.VersionInput) (*models.Plugin, error)
}

// Handler handles PATCH /admin/plugins/{slug}/version.
type Handler struct {
	log *slog.Logger
	svc Service
}

// New returns a Handler.
func New(log *slog.Logger, svc Service) *Handler {
	return &Handler{log: log, svc: svc}
}

// ServeHTTP godoc
// @Summary Publish a plugin version
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param slug path string true "Plugin slug"
// @Param request body license.VersionInput true "Version"
// @Success 200 {object} response.Response{data=models.Plugin}
// @Failure 400 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /admin/plugins/{slug}/version [patch]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.pluginversion"
	slug := chi.URLParam(r, "slug")
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("slug", slug),
	)

	var req license.VersionInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		response.BadRequest(w, r, "invalid request body")
		return
	}

	p, err := h.svc.PublishVersion(r.Context(), slug, req)
	if err != nil {
		response.FromError(w, r, log, err)
		return
	}
	log.Info("plugin version published", slog.String("version", p.Version))
	response.JSON(w, r, http.StatusOK, response.OK(p))
}
