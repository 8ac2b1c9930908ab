// Package validate serves plugin check-ins.
package validate

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/plugin-licensing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/plugin-licensing/internal/http/response"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/sl"
	"github.com/magabrotheeeer/plugin-licensing/internal/services/license"
)

// Service validates and activates licenses.
type Service interface {
	Validate(ctx context.Context, in license.ValidateInput) (*license.ValidateResult, error)
}

// Handler handles POST /licenses/validate.
type Handler struct {
	log *slog.Logger
	svc Service
}

// New returns a Handler.
func New(log *slog.Logger, svc Service) *Handler {
	return &Handler{log: log, svc: svc}
}

// ServeHTTP godoc
// @Summary Validate a license
// @Description Checks the key for the domain and activates the domain if a slot is free.
// @Description A rejected license is still a 200 with valid=false and a reason code.
// @Tags Licenses
// @Accept json
// @Produce json
// @Param request body license.ValidateInput true "Key and domain"
// @Success 200 {object} response.Response{data=license.ValidateResult}
// @Failure 400 {object} response.ErrorResponse
// @Failure 429 {object} response.ErrorResponse
// @Router /licenses/validate [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.license.validate"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req license.ValidateInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		response.BadRequest(w, r, "invalid request body")
		return
	}
	req.IP = middlewarectx.ClientIP(r)
	req.UserAgent = r.UserAgent()

	res, err := h.svc.Validate(r.Context(), req)
	if err != nil {
		response.FromError(w, r, log, err)
		return
	}
	if !res.Valid {
		log.Info("license rejected", slog.String("reason", res.Reason), slog.String("domain", req.Domain))
	}
	response.JSON(w, r, http.StatusOK, response.OK(res))
}
