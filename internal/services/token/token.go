// Package token issues token pairs and runs the refresh rotation protocol
// on top of the JWT maker and the refresh token store.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/plugin-licensing/internal/lib/apperr"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/jwt"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/metrics"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/securetoken"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/sl"
	"github.com/magabrotheeeer/plugin-licensing/internal/models"
	"github.com/magabrotheeeer/plugin-licensing/internal/storage"
)

// ErrInvalidRefreshToken covers every refresh failure: bad signature,
// expiry, revocation and replay.
var ErrInvalidRefreshToken = apperr.New(apperr.KindUnauthenticated, "invalid refresh token")

// ErrInvalidAccessToken is returned by VerifyAccess for bad tokens.
var ErrInvalidAccessToken = apperr.New(apperr.KindUnauthenticated, "invalid access token")

// ErrAccessTokenExpired tells an expired access token from a malformed one.
var ErrAccessTokenExpired = apperr.New(apperr.KindUnauthenticated, "access token expired")

// Repository stores refresh token records by digest.
type Repository interface {
	CreateRefreshToken(ctx context.Context, t *models.RefreshToken) error
	GetRefreshTokenByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
	RotateRefreshToken(ctx context.Context, oldHash string, next *models.RefreshToken, now time.Time) error
	RevokeRefreshToken(ctx context.Context, tokenHash string, now time.Time) (bool, error)
	RevokeAllRefreshTokens(ctx context.Context, userID string, now time.Time) (int64, error)
}

// UserFinder loads the owner of a refresh token.
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// ClientInfo is recorded with every issued refresh token.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// Service mints and rotates token pairs.
type Service struct {
	maker   *jwt.Maker
	repo    Repository
	users   UserFinder
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New builds a Service.
func New(maker *jwt.Maker, repo Repository, users UserFinder, log *slog.Logger, m *metrics.Metrics) *Service {
	if m == nil {
		m = metrics.Noop()
	}
	return &Service{maker: maker, repo: repo, users: users, log: log, metrics: m, now: time.Now}
}

func payloadOf(u *models.User) jwt.Payload {
	return jwt.Payload{UserID: u.ID, Email: u.Email, Role: string(u.Role)}
}

func (s *Service) mint(u *models.User, info ClientInfo) (models.TokenPair, *models.RefreshToken, error) {
	p := payloadOf(u)
	access, err := s.maker.GenerateAccessToken(p)
	if err != nil {
		return models.TokenPair{}, nil, err
	}
	refresh, err := s.maker.GenerateRefreshToken(p)
	if err != nil {
		return models.TokenPair{}, nil, err
	}
	record := &models.RefreshToken{
		UserID:    u.ID,
		TokenHash: securetoken.Hash(refresh),
		ExpiresAt: s.now().Add(s.maker.RefreshTTL()),
		IP:        info.IP,
		UserAgent: info.UserAgent,
	}
	pair := models.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.maker.AccessTTL().Seconds()),
	}
	return pair, record, nil
}

// Issue mints a fresh pair for u and persists the refresh token record.
func (s *Service) Issue(ctx context.Context, u *models.User, info ClientInfo) (models.TokenPair, error) {
	const op = "token.Issue"
	pair, record, err := s.mint(u, info)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.repo.CreateRefreshToken(ctx, record); err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, apperr.External("failed to persist token", err))
	}
	return pair, nil
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// revoked and chained to its successor; a replayed token fails.
func (s *Service) Refresh(ctx context.Context, refreshToken string, info ClientInfo) (models.TokenPair, *models.User, error) {
	const op = "token.Refresh"
	log := s.log.With(slog.String("op", op))

	claims, err := s.maker.VerifyRefreshToken(refreshToken)
	if err != nil {
		s.metrics.RefreshRotations.WithLabelValues("invalid").Inc()
		return models.TokenPair{}, nil, fmt.Errorf("%s: %w", op, apperr.Wrap(ErrInvalidRefreshToken, err))
	}

	digest := securetoken.Hash(refreshToken)
	record, err := s.repo.GetRefreshTokenByHash(ctx, digest)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.metrics.RefreshRotations.WithLabelValues("unknown").Inc()
			return models.TokenPair{}, nil, fmt.Errorf("%s: %w", op, apperr.Wrap(ErrInvalidRefreshToken, err))
		}
		return models.TokenPair{}, nil, fmt.Errorf("%s: %w", op, apperr.External("failed to load token", err))
	}
	if !record.IsValid(s.now()) || record.UserID != claims.Subject {
		if record.IsRevoked {
			log.Warn("revoked refresh token presented", slog.String("user_id", record.UserID))
		}
		s.metrics.RefreshRotations.WithLabelValues("revoked").Inc()
		return models.TokenPair{}, nil, fmt.Errorf("%s: %w", op, ErrInvalidRefreshToken)
	}

	u, err := s.users.FindByID(ctx, record.UserID)
	if err != nil {
		s.metrics.RefreshRotations.WithLabelValues("no_user").Inc()
		return models.TokenPair{}, nil, fmt.Errorf("%s: %w", op, apperr.Wrap(ErrInvalidRefreshToken, err))
	}

	pair, next, err := s.mint(u, info)
	if err != nil {
		return models.TokenPair{}, nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.repo.RotateRefreshToken(ctx, digest, next, s.now()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.Warn("refresh token rotated concurrently", slog.String("user_id", u.ID))
			s.metrics.RefreshRotations.WithLabelValues("replayed").Inc()
			return models.TokenPair{}, nil, fmt.Errorf("%s: %w", op, ErrInvalidRefreshToken)
		}
		return models.TokenPair{}, nil, fmt.Errorf("%s: %w", op, apperr.External("failed to rotate token", err))
	}

	s.metrics.RefreshRotations.WithLabelValues("rotated").Inc()
	return pair, u, nil
}

// Revoke revokes a refresh token. Unknown, malformed and already revoked
// tokens are ignored.
func (s *Service) Revoke(ctx context.Context, refreshToken string) error {
	const op = "token.Revoke"
	if refreshToken == "" {
		return nil
	}
	revoked, err := s.repo.RevokeRefreshToken(ctx, securetoken.Hash(refreshToken), s.now())
	if err != nil {
		return fmt.Errorf("%s: %w", op, apperr.External("failed to revoke token", err))
	}
	if !revoked {
		s.log.Debug("logout with inactive refresh token", slog.String("op", op))
	}
	return nil
}

// RevokeAll revokes every live refresh token of userID.
func (s *Service) RevokeAll(ctx context.Context, userID string) error {
	const op = "token.RevokeAll"
	n, err := s.repo.RevokeAllRefreshTokens(ctx, userID, s.now())
	if err != nil {
		s.log.Error("failed to revoke refresh tokens", slog.String("op", op), sl.Err(err))
		return fmt.Errorf("%s: %w", op, apperr.External("failed to revoke tokens", err))
	}
	s.log.Info("refresh tokens revoked", slog.String("op", op), slog.String("user_id", userID), slog.Int64("count", n))
	return nil
}

// VerifyAccess validates an access token and returns its claims.
func (s *Service) VerifyAccess(token string) (*jwt.Claims, error) {
	const op = "token.VerifyAccess"
	claims, err := s.maker.VerifyAccessToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%s: %w", op, apperr.Wrap(ErrAccessTokenExpired, err))
		}
		return nil, fmt.Errorf("%s: %w", op, apperr.Wrap(ErrInvalidAccessToken, err))
	}
	return claims, nil
}
