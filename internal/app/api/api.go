// Package api assembles the public REST process: storage, cache, broker,
// services and the HTTP server.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/plugin-licensing/internal/cache"
	"github.com/magabrotheeeer/plugin-licensing/internal/config"
	"github.com/magabrotheeeer/plugin-licensing/internal/http/handlers/health"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/jwt"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/metrics"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/sl"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/twofactor"
	"github.com/magabrotheeeer/plugin-licensing/internal/migrations"
	authservice "github.com/magabrotheeeer/plugin-licensing/internal/services/auth"
	"github.com/magabrotheeeer/plugin-licensing/internal/services/credentials"
	licenseservice "github.com/magabrotheeeer/plugin-licensing/internal/services/license"
	"github.com/magabrotheeeer/plugin-licensing/internal/services/notify"
	"github.com/magabrotheeeer/plugin-licensing/internal/services/token"
	"github.com/magabrotheeeer/plugin-licensing/internal/storage"
)

const shutdownTimeout = 15 * time.Second

// App is the running REST process.
type App struct {
	server     *http.Server
	logger     *slog.Logger
	db         *storage.Storage
	cache      *cache.Cache
	amqp       *amqp.Connection
	dispatcher *notify.Dispatcher
}

// New connects every dependency and builds the router. Redis and RabbitMQ
// are optional: without Redis plugin lookups go straight to PostgreSQL,
// without RabbitMQ mail jobs are only logged.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "api.New"

	db, err := storage.New(ctx, cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	app := &App{logger: logger, db: db}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	var pluginCache licenseservice.Cache
	checks := map[string]health.Pinger{"postgres": db}
	if c, err := cache.InitServer(ctx, cfg.RedisConnection); err != nil {
		logger.Warn("redis unavailable, plugin cache disabled", sl.Err(err))
	} else {
		app.cache = c
		pluginCache = c
		checks["redis"] = c
	}

	var pub notify.Publisher = notify.LogPublisher{Log: logger}
	if conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay); err != nil {
		logger.Warn("rabbitmq unavailable, mail jobs will only be logged", sl.Err(err))
	} else if ch, err := rabbitmq.SetupChannel(conn, rabbitmq.MailQueues(cfg.MailQueue)); err != nil {
		logger.Warn("rabbitmq channel setup failed, mail jobs will only be logged", sl.Err(err))
		_ = conn.Close()
	} else {
		app.amqp = conn
		pub = rabbitmq.NewPublisher(ch, rabbitmq.MailExchange)
	}
	app.dispatcher = notify.New(pub, cfg.MailQueue, cfg.DispatchBuffer, cfg.PublishTimeout, logger, m)
	app.dispatcher.Start(ctx)

	creds := credentials.New(db, credentials.Policy{
		BcryptCost:           cfg.BcryptCost,
		MaxLoginAttempts:     cfg.MaxLoginAttempts,
		LockDuration:         cfg.LockDuration,
		PasswordResetTTL:     cfg.PasswordResetTTL,
		EmailVerificationTTL: cfg.EmailVerificationTTL,
	})
	maker := jwt.NewMaker(cfg.AccessSecret, cfg.RefreshSecret, cfg.AccessTTL, cfg.RefreshTTL, cfg.Issuer)
	tokens := token.New(maker, db, creds, logger, m)

	authSvc := authservice.New(creds, tokens, twofactor.New(cfg.TOTPIssuer), app.dispatcher, logger, m, authservice.Options{
		PublicBaseURL:    cfg.PublicBaseURL,
		BackupCodesCount: cfg.BackupCodesCount,
	})
	licenseSvc := licenseservice.New(db, pluginCache, creds, app.dispatcher, logger, m, licenseservice.Options{
		PluginCacheTTL: cfg.PluginTTL,
	})

	router := chi.NewRouter()
	RegisterRoutes(router, logger, cfg, Deps{
		Auth:     authSvc,
		Licenses: licenseSvc,
		Tokens:   tokens,
		Users:    creds,
		Checks:   checks,
		Gatherer: reg,
	})

	app.server = &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return app, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err = a.server.Shutdown(timeoutCtx)
	}
	a.close()
	return err
}

func (a *App) close() {
	a.dispatcher.Close()
	if a.amqp != nil {
		_ = a.amqp.Close()
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
	_ = a.db.Close()
}
