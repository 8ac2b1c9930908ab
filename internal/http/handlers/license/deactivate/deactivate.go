// Package deactivate releases an activated domain.
package deactivate

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/plugin-licensing/internal/http/response"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/sl"
	"github.com/magabrotheeeer/plugin-licensing/internal/services/license"
)

// Service deactivates domains.
type Service interface {
	Deactivate(ctx context.Context, in license.DeactivateInput) (bool, error)
}

// Handler handles POST /licenses/deactivate.
type Handler struct {
	log *slog.Logger
	svc Service
}

// New returns a Handler.
func New(log *slog.Logger, svc Service) *Handler {
	return &Handler{log: log, svc: svc}
}

// Result reports whether a slot was freed.
type Result struct {
	Deactivated bool `json:"deactivated"`
}

// ServeHTTP godoc
// @Summary Deactivate a domain
// @Tags Licenses
// @Accept json
// @Produce json
// @Param request body license.DeactivateInput true "Key and domain"
// @Success 200 {object} response.Response{data=Result}
// @Failure 400 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /licenses/deactivate [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.license.deactivate"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req license.DeactivateInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		response.BadRequest(w, r, "invalid request body")
		return
	}

	ok, err := h.svc.Deactivate(r.Context(), req)
	if err != nil {
		response.FromError(w, r, log, err)
		return
	}
	response.JSON(w, r, http.StatusOK, response.OK(Result{Deactivated: ok}))
}
