// Package sender turns queued mail jobs into delivered email.
package sender

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/plugin-licensing/internal/lib/mail"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/metrics"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/sl"
	"github.com/magabrotheeeer/plugin-licensing/internal/models"
)

// Mailer delivers a rendered message.
type Mailer interface {
	Send(msg mail.Message) error
}

// Service handles deliveries from the mail queue.
type Service struct {
	mailer  Mailer
	log     *slog.Logger
	metrics *metrics.Metrics
}

// New builds a Service.
func New(mailer Mailer, log *slog.Logger, m *metrics.Metrics) *Service {
	if m == nil {
		m = metrics.Noop()
	}
	return &Service{mailer: mailer, log: log, metrics: m}
}

// HandleMailJob decodes one queue delivery, renders it and sends it. A
// malformed delivery is logged and acknowledged since retrying cannot fix it.
func (s *Service) HandleMailJob(ctx context.Context, body []byte) error {
	const op = "sender.HandleMailJob"
	log := s.log.With(slog.String("op", op))

	var job models.MailJob
	if err := json.Unmarshal(body, &job); err != nil {
		log.Error("failed to unmarshal mail job", sl.Err(err))
		s.metrics.MailJobsSent.WithLabelValues("malformed").Inc()
		return nil
	}

	msg, err := mail.Render(job)
	if err != nil {
		log.Error("failed to render mail job", slog.String("kind", string(job.Kind)), sl.Err(err))
		s.metrics.MailJobsSent.WithLabelValues("malformed").Inc()
		return nil
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.mailer.Send(msg); err != nil {
		log.Error("failed to send email", slog.String("kind", string(job.Kind)), sl.Err(err))
		s.metrics.MailJobsSent.WithLabelValues("failed").Inc()
		return fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.MailJobsSent.WithLabelValues("sent").Inc()
	log.Info("email sent", slog.String("kind", string(job.Kind)))
	return nil
}
