// Package health reports whether the API can reach its backing stores.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/plugin-licensing/internal/http/response"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/sl"
)

const checkTimeout = 2 * time.Second

// Pinger is a dependency that can be probed.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Status is the per-dependency result.
type Status struct {
	Status   string            `json:"status"`
	Checks   map[string]string `json:"checks"`
	Duration string            `json:"duration"`
}

// Handler handles GET /health.
type Handler struct {
	log    *slog.Logger
	checks map[string]Pinger
}

// New returns a Handler probing every entry of checks. Nil entries are skipped.
func New(log *slog.Logger, checks map[string]Pinger) *Handler {
	return &Handler{log: log, checks: checks}
}

// ServeHTTP godoc
// @Summary Health check
// @Tags Health
// @Produce json
// @Success 200 {object} response.Response{data=Status}
// @Failure 503 {object} response.Response{data=Status}
// @Router /health [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.health"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	start := time.Now()
	st := Status{Status: "ok", Checks: make(map[string]string, len(h.checks))}
	for name, p := range h.checks {
		if p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			log.Warn("dependency unhealthy", slog.String("dependency", name), sl.Err(err))
			st.Checks[name] = "down"
			st.Status = "degraded"
			continue
		}
		st.Checks[name] = "up"
	}
	st.Duration = time.Since(start).String()

	if st.Status != "ok" {
		response.JSON(w, r, http.StatusServiceUnavailable, response.Response{Status: response.StatusError, Error: "service degraded", Data: st})
		return
	}
	response.JSON(w, r, http.StatusOK, response.OK(st))
}
