package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/magabrotheeeer/plugin-licensing/internal/config"
	"github.com/magabrotheeeer/plugin-licensing/internal/http/handlers/admin/licenseissue"
	"github.com/magabrotheeeer/plugin-licensing/internal/http/handlers/admin/licensestatus"
	"github.com/magabrotheeeer/plugin-licensing/internal/http/handlers/admin/plugincreate"
	"github.com/magabrotheeeer/plugin-licensing/internal/http/handlers/admin/pluginversion"
	"github.com/magabrotheeeer/plugin-licensing/internal/http/handlers/auth/changepassword"
	"github.com/magabrotheeeer/plugin-licensing/internal/http/handlers/auth/forgotpassword"
	"github.com/magabrotheeeer/plugin-licensing/internal/http/handlers/auth/login"
	"github.com/magabrotheeeer/plugin-licensing/internal/http/handlers/auth/logout"
	"github.com/magabrotheeeer/plugin-licensing/internal/http/handlers/auth/me"
	"github.com/magabrotheeeer/plugin-licensing/internal/http/handlers/auth/refresh"
	"github.com/magabrotheeeer/plugin-licensing/internal/http/handlers/auth/register"
	"github.com/magabrotheeeer/plugin-licensing/internal/http/handlers/auth/resetpassword"
	"github.com/magabrotheeeer/plugin-licensing/internal/http/handlers/auth/twofactor"
	"github.com/magabrotheeeer/plugin-licensing/internal/http/handlers/auth/verifyemail"
	"github.com/magabrotheeeer/plugin-licensing/internal/http/handlers/health"
	"github.com/magabrotheeeer/plugin-licensing/internal/http/handlers/license/deactivate"
	"github.com/magabrotheeeer/plugin-licensing/internal/http/handlers/license/list"
	"github.com/magabrotheeeer/plugin-licensing/internal/http/handlers/license/validate"
	"github.com/magabrotheeeer/plugin-licensing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/plugin-licensing/internal/http/response"
	"github.com/magabrotheeeer/plugin-licensing/internal/models"
)

// AuthService is everything the account routes call.
type AuthService interface {
	register.Service
	login.Service
	refresh.Service
	logout.Service
	forgotpassword.Service
	resetpassword.Service
	verifyemail.Service
	me.Service
	changepassword.Service
	twofactor.Service
}

// LicenseService is everything the license and catalog routes call.
type LicenseService interface {
	list.Service
	validate.Service
	deactivate.Service
	plugincreate.Service
	pluginversion.Service
	licenseissue.Service
	licensestatus.Service
}

// Deps are the collaborators RegisterRoutes mounts.
type Deps struct {
	Auth     AuthService
	Licenses LicenseService
	Tokens   middlewarectx.TokenVerifier
	Users    middlewarectx.UserLoader
	Checks   map[string]health.Pinger
	Gatherer prometheus.Gatherer
}

// RegisterRoutes mounts every API version and the operational endpoints on r.
func RegisterRoutes(r chi.Router, logger *slog.Logger, cfg *config.Config, d Deps) {
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
	)

	authLimiter := middlewarectx.NewLimiter(cfg.RPS, cfg.Burst)
	pluginLimiter := middlewarectx.NewLimiter(cfg.RPS, cfg.Burst)
	authenticate := middlewarectx.Authenticate(d.Tokens, d.Users, logger)
	tf := twofactor.New(logger, d.Auth)

	for _, v := range cfg.APIVersions {
		r.Route("/api/"+v.Name, func(r chi.Router) {
			r.Use(middlewarectx.APIVersion(v, time.Now))

			r.Route("/auth", func(r chi.Router) {
				r.Group(func(r chi.Router) {
					r.Use(middlewarectx.RateLimit(authLimiter, logger))
					r.Post("/register", register.New(logger, d.Auth).ServeHTTP)
					r.Post("/login", login.New(logger, d.Auth).ServeHTTP)
					r.Post("/refresh", refresh.New(logger, d.Auth).ServeHTTP)
					r.Post("/forgot-password", forgotpassword.New(logger, d.Auth).ServeHTTP)
					r.Post("/reset-password", resetpassword.New(logger, d.Auth).ServeHTTP)
					r.Post("/verify-email", verifyemail.New(logger, d.Auth).ServeHTTP)
				})
				r.Post("/logout", logout.New(logger, d.Auth).ServeHTTP)

				r.Group(func(r chi.Router) {
					r.Use(authenticate)
					r.Get("/me", me.New(logger, d.Auth).ServeHTTP)
					r.Post("/change-password", changepassword.New(logger, d.Auth).ServeHTTP)
					r.Post("/2fa/setup", tf.Setup)
					r.Post("/2fa/verify", tf.Verify)
					r.Post("/2fa/disable", tf.Disable)
				})
			})

			r.Route("/licenses", func(r chi.Router) {
				r.Group(func(r chi.Router) {
					r.Use(middlewarectx.RateLimit(pluginLimiter, logger))
					r.Post("/validate", validate.New(logger, d.Licenses).ServeHTTP)
					r.Post("/deactivate", deactivate.New(logger, d.Licenses).ServeHTTP)
				})
				r.With(authenticate).Get("/", list.New(logger, d.Licenses).ServeHTTP)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(authenticate)
				r.Use(middlewarectx.RequireRole(logger, models.RoleAdmin))
				r.Post("/plugins", plugincreate.New(logger, d.Licenses).ServeHTTP)
				r.Patch("/plugins/{slug}/version", pluginversion.New(logger, d.Licenses).ServeHTTP)
				r.Post("/licenses", licenseissue.New(logger, d.Licenses).ServeHTTP)
				r.Patch("/licenses/{key}/status", licensestatus.New(logger, d.Licenses).ServeHTTP)
			})
		})
	}

	r.Get("/health", health.New(logger, d.Checks).ServeHTTP)
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}
	r.Get("/docs/*", httpSwagger.WrapHandler)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusNotFound, response.Error("not found"))
	})
}
