// Package auth runs the internal gRPC introspection service.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"

	"github.com/magabrotheeeer/plugin-licensing/internal/config"
	"github.com/magabrotheeeer/plugin-licensing/internal/grpc/authpb"
	"github.com/magabrotheeeer/plugin-licensing/internal/grpc/server"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/jwt"
	"github.com/magabrotheeeer/plugin-licensing/internal/services/credentials"
	licenseservice "github.com/magabrotheeeer/plugin-licensing/internal/services/license"
	"github.com/magabrotheeeer/plugin-licensing/internal/services/token"
	"github.com/magabrotheeeer/plugin-licensing/internal/storage"
)

// App is the running gRPC process.
type App struct {
	grpcServer *grpc.Server
	listener   net.Listener
	db         *storage.Storage
	logger     *slog.Logger
}

// New opens storage and binds the listener. Mail is never sent from this
// process, so the license engine gets no notifier and no cache.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "app.auth.New"

	db, err := storage.New(ctx, cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	creds := credentials.New(db, credentials.Policy{BcryptCost: cfg.BcryptCost})
	maker := jwt.NewMaker(cfg.AccessSecret, cfg.RefreshSecret, cfg.AccessTTL, cfg.RefreshTTL, cfg.Issuer)
	tokens := token.New(maker, db, creds, logger, nil)
	licenses := licenseservice.New(db, nil, creds, discardNotifier{}, logger, nil, licenseservice.Options{})

	lis, err := net.Listen("tcp", cfg.AddressGRPC)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	grpcServer := grpc.NewServer()
	authpb.RegisterAuthServiceServer(grpcServer, server.NewAuthServer(tokens, creds, licenses, logger))

	return &App{
		grpcServer: grpcServer,
		listener:   lis,
		db:         db,
		logger:     logger,
	}, nil
}

// Run serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("auth gRPC service listening", slog.String("address", a.listener.Addr().String()))
		errCh <- a.grpcServer.Serve(a.listener)
	}()

	defer a.db.Close()
	select {
	case <-ctx.Done():
		a.grpcServer.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}
