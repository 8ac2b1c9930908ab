// Package main Plugin Licensing API
//
// @title           Plugin Licensing API
// @version         2.0
// @description     Accounts, two-factor authentication and license activation for commercial WordPress plugins.

// @contact.name   API Support
// @contact.email  support@kollabor8.com

// @license.name  MIT
// @license.url   https://opensource.org/licenses/MIT

// @host      localhost:8080
// @BasePath  /api/v2

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and the access token.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/magabrotheeeer/plugin-licensing/docs"
	"github.com/magabrotheeeer/plugin-licensing/internal/app/api"
	"github.com/magabrotheeeer/plugin-licensing/internal/config"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/sl"
)

func main() {
	cfg := config.MustLoad()
	logger := sl.New(cfg.Env)

	logger.Info("starting licensing-api", slog.String("env", cfg.Env))
	logger.Debug("debug messages are enabled")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := api.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize app", sl.Err(err))
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("app stopped with error", sl.Err(err))
		os.Exit(1)
	}

	logger.Info("licensing-api stopped gracefully")
}
