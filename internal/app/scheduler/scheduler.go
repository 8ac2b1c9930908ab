// Package scheduler runs the periodic housekeeping process.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/plugin-licensing/internal/config"
	"github.com/magabrotheeeer/plugin-licensing/internal/services/janitor"
	"github.com/magabrotheeeer/plugin-licensing/internal/storage"
)

const (
	dbReadyAttempts = 10
	dbReadyDelay    = 3 * time.Second
)

// App is the running housekeeping process.
type App struct {
	db      *storage.Storage
	janitor *janitor.Service
	logger  *slog.Logger
}

func waitForDB(ctx context.Context, db *storage.Storage) error {
	for range dbReadyAttempts {
		if err := db.CheckDatabaseReady(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(dbReadyDelay):
		}
	}
	return fmt.Errorf("database not ready after %d attempts", dbReadyAttempts)
}

// New opens storage and waits for the schema to be in place.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "app.scheduler.New"

	db, err := storage.New(ctx, cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := waitForDB(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &App{
		db:      db,
		janitor: janitor.New(db, logger, cfg.JanitorInterval, cfg.RefreshRetention),
		logger:  logger,
	}, nil
}

// Run sweeps on every tick until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	defer a.db.Close()
	a.logger.Info("scheduler started")
	a.janitor.Run(ctx)
	a.logger.Info("scheduler stopped")
	return nil
}
