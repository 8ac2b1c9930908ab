// Package licenseissue provisions licenses.
package licenseissue

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

// Service issues licenses.
type Service interface {
	Issue(ctx context.Context, in license.IssueInput) (*models.License, error)
}

// Handler handles POST /admin/licenses.
type Handler struct {
	log *slog.Logger
	svc Service
}

// New returns a Handler.
func New(log *slog.Logger, svc Service) *Handler {
	return &Handler{log: log, svc: svc}
}

// ServeHTTP godoc
// @Summary Issue a license
// @Description Generates a fresh key and mails it to the owner.
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body license.IssueInput true "License"
// @Success 201 {object} response.Response{data=models.License}
// @Failure 400 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /admin/licenses [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.licenseissue"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req license.IssueInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		response.BadRequest(w, r, "invalid request body")
		return
	}

	l, err := h.svc.Issue(r.Context(), req)
	if err != nil {
		response.FromError(w, r, log, err)
		return
	}
	log.Info("license issued", slog.String("license_id", l.ID), slog.String("user_id", l.UserID))
	response.JSON(w, r, http.StatusCreated, response.OK(l))
}
