// Package server implements the internal gRPC introspection service used by
// sibling services to check access tokens and licenses without going
// through the public API.
package server

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/magabrotheeeer/plugin-licensing/internal/grpc/authpb"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/jwt"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/sl"
	"github.com/magabrotheeeer/plugin-licensing/internal/models"
	"github.com/magabrotheeeer/plugin-licensing/internal/services/credentials"
	"github.com/magabrotheeeer/plugin-licensing/internal/services/license"
)

// TokenVerifier checks access tokens.
type TokenVerifier interface {
	VerifyAccess(token string) (*jwt.Claims, error)
}

// UserLoader loads live accounts.
type UserLoader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// LicenseChecker answers read-only license checks.
type LicenseChecker interface {
	Check(ctx context.Context, key, domain string) (*license.CheckResult, error)
}

// AuthServer implements authpb.AuthServiceServer.
type AuthServer struct {
	tokens   TokenVerifier
	users    UserLoader
	licenses LicenseChecker
	log      *slog.Logger
}

var _ authpb.AuthServiceServer = (*AuthServer)(nil)

// NewAuthServer returns an AuthServer.
func NewAuthServer(tokens TokenVerifier, users UserLoader, licenses LicenseChecker, logger *slog.Logger) *AuthServer {
	return &AuthServer{tokens: tokens, users: users, licenses: licenses, log: logger}
}

// ValidateToken reports whether the access token is good and whose it is.
// A rejected token is a normal answer with valid=false, not an RPC error.
func (s *AuthServer) ValidateToken(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	const op = "grpc.server.ValidateToken"
	log := s.log.With(slog.String("op", op))

	if in.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "token is required")
	}

	claims, err := s.tokens.VerifyAccess(in.GetValue())
	if err != nil {
		log.Debug("token rejected", sl.Err(err))
		return invalid(), nil
	}

	u, err := s.users.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, credentials.ErrUserNotFound) {
			log.Info("token for unknown or deleted user", slog.String("user_id", claims.Subject))
			return invalid(), nil
		}
		log.Error("failed to load user", sl.Err(err))
		return nil, status.Error(codes.Unavailable, "user lookup failed")
	}

	return structpb.NewStruct(map[string]any{
		"valid":   true,
		"user_id": u.ID,
		"email":   u.Email,
		"role":    string(u.Role),
	})
}

// CheckLicense reports whether a license is valid for a domain without
// activating anything.
func (s *AuthServer) CheckLicense(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	const op = "grpc.server.CheckLicense"
	log := s.log.With(slog.String("op", op))

	fields := in.GetFields()
	key := fields["license_key"].GetStringValue()
	domain := fields["domain"].GetStringValue()
	if key == "" {
		return nil, status.Error(codes.InvalidArgument, "license_key is required")
	}

	res, err := s.licenses.Check(ctx, key, models.NormalizeDomain(domain))
	if err != nil {
		log.Error("license check failed", sl.Err(err))
		return nil, status.Error(codes.Unavailable, "license lookup failed")
	}

	return structpb.NewStruct(map[string]any{
		"valid":     res.Valid,
		"reason":    res.Reason,
		"activated": res.Activated,
	})
}

func invalid() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"valid": structpb.NewBoolValue(false),
	}}
}
