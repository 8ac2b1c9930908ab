// Package licensestatus suspends, cancels or restores licenses.
package licensestatus

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

// Service changes license status.
type Service interface {
	SetStatus(ctx context.Context, key string, in license.StatusInput) (*models.License, error)
}

// Handler handles PATCH /admin/licenses/{key}/status.
type Handler struct {
	log *slog.Logger
	svc Service
}

// New returns a Handler.
func New(log *slog.Logger, svc Service) *Handler {
	return &Handler{log: log, svc: svc}
}

// ServeHTTP godoc
// @Summary Change license status
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param key path string true "License key"
// @Param request body license.StatusInput true "Status"
// @Success 200 {object} response.Response{data=models.License}
// @Failure 400 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /admin/licenses/{key}/status [patch]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.licensestatus"
	key := chi.URLParam(r, "key")
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req license.StatusInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		response.BadRequest(w, r, "invalid request body")
		return
	}

	l, err := h.svc.SetStatus(r.Context(), key, req)
	if err != nil {
		response.FromError(w, r, log, err)
		return
	}
	log.Info("license status changed", slog.String("license_id", l.ID), slog.String("status", string(l.Status)))
	response.JSON(w, r, http.StatusOK, response.OK(l))
}
