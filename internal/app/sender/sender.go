// Package sender runs the mail worker: it consumes mail jobs from RabbitMQ
// and delivers them over SMTP.
package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/plugin-licensing/internal/config"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/mail"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/metrics"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/sl"
	senderservice "github.com/magabrotheeeer/plugin-licensing/internal/services/sender"
)

// MetricsAddress is where the worker exposes /metrics.
const MetricsAddress = ":9101"

// App is the running mail worker.
type App struct {
	conn          *amqp.Connection
	ch            *amqp.Channel
	queue         string
	senderService *senderservice.Service
	metricsServer *http.Server
	logger        *slog.Logger
}

// New connects to the broker and prepares the SMTP sender.
func New(_ context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "app.sender.New"

	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.MailQueues(cfg.MailQueue))
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return &App{
		conn:          conn,
		ch:            ch,
		queue:         cfg.MailQueue,
		senderService: senderservice.New(mail.NewSender(cfg.SMTP), logger, m),
		metricsServer: &http.Server{Addr: MetricsAddress, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		logger:        logger,
	}, nil
}

// Run consumes until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	const op = "app.sender.Run"
	if err := rabbitmq.ConsumerMessage(ctx, a.logger, a.ch, a.queue, a.senderService.HandleMailJob); err != nil {
		a.logger.Error("failed to start mail consumer", slog.String("queue", a.queue), sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	go func() {
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("metrics server stopped", sl.Err(err))
		}
	}()
	a.logger.Info("mail sender consuming", slog.String("queue", a.queue))

	<-ctx.Done()
	a.logger.Info("mail sender shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.metricsServer.Shutdown(shutdownCtx)

	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", sl.Err(err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", sl.Err(err))
	}
	return nil
}
