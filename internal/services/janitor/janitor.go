// Package janitor runs the periodic housekeeping of the licensing store.
package janitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/plugin-licensing/internal/lib/sl"
)

// Repository is the housekeeping surface of the store.
type Repository interface {
	PurgeExpiredRefreshTokens(ctx context.Context, cutoff time.Time) (int64, error)
	ExpireLicenses(ctx context.Context, now time.Time) (int64, error)
}

// Report summarizes one pass.
type Report struct {
	PurgedTokens    int64
	ExpiredLicenses int64
}

// Service moves past-due licenses to expired and soft deletes refresh
// tokens that expired longer than the retention ago.
type Service struct {
	repo      Repository
	log       *slog.Logger
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
}

// New builds a Service. Zero durations fall back to one hour between
// passes and thirty days of token retention.
func New(repo Repository, log *slog.Logger, interval, retention time.Duration) *Service {
	if interval <= 0 {
		interval = time.Hour
	}
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &Service{repo: repo, log: log, interval: interval, retention: retention, now: time.Now}
}

// Run performs a pass immediately and then on every tick until ctx is done.
func (s *Service) Run(ctx context.Context) {
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("janitor stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single pass. A failing step is logged and does not
// stop the other one.
func (s *Service) RunOnce(ctx context.Context) Report {
	now := s.now()
	var report Report

	expired, err := s.repo.ExpireLicenses(ctx, now)
	if err != nil {
		s.log.Error("failed to expire licenses", sl.Err(err))
	} else {
		report.ExpiredLicenses = expired
	}

	purged, err := s.repo.PurgeExpiredRefreshTokens(ctx, now.Add(-s.retention))
	if err != nil {
		s.log.Error("failed to purge refresh tokens", sl.Err(err))
	} else {
		report.PurgedTokens = purged
	}

	if report.ExpiredLicenses > 0 || report.PurgedTokens > 0 {
		s.log.Info("janitor pass finished",
			slog.Int64("expired_licenses", report.ExpiredLicenses),
			slog.Int64("purged_tokens", report.PurgedTokens))
	}
	return report
}
