// Package auth is the authentication orchestrator. It composes the
// credential store, the token service and TOTP into the account flows.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/magabrotheeeer/plugin-licensing/internal/lib/apperr"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/metrics"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/sl"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/twofactor"
	"github.com/magabrotheeeer/plugin-licensing/internal/models"
	"github.com/magabrotheeeer/plugin-licensing/internal/services/credentials"
	"github.com/magabrotheeeer/plugin-licensing/internal/services/token"
)

// Errors returned to callers. Authentication failures stay generic.
var (
	ErrInvalidCredentials       = apperr.New(apperr.KindUnauthenticated, "invalid email or password")
	ErrAccountLocked            = apperr.New(apperr.KindUnauthenticated, "account is temporarily locked, try again later")
	ErrInvalidTwoFactorCode     = apperr.New(apperr.KindUnauthenticated, "invalid two-factor code")
	ErrEmailTaken               = apperr.New(apperr.KindConflict, "user already exists with this email")
	ErrInvalidResetToken        = apperr.New(apperr.KindValidation, "invalid or expired password reset token")
	ErrInvalidVerificationToken = apperr.New(apperr.KindValidation, "invalid or expired verification token")
	ErrWrongCurrentPassword     = apperr.New(apperr.KindUnauthenticated, "current password is incorrect")
	ErrTwoFactorNotSetUp        = apperr.New(apperr.KindValidation, "two-factor authentication is not set up")
	ErrTwoFactorAlreadyEnabled  = apperr.New(apperr.KindConflict, "two-factor authentication is already enabled")
	ErrTwoFactorNotEnabled      = apperr.New(apperr.KindValidation, "two-factor authentication is not enabled")
	ErrUserNotFound             = apperr.New(apperr.KindNotFound, "user not found")
)

// Credentials is the credential store.
type Credentials interface {
	Now() time.Time
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, u *models.User, plain string) error
	Save(ctx context.Context, u *models.User) error
	ComparePassword(u *models.User, candidate string) bool
	GeneratePasswordResetToken(ctx context.Context, u *models.User) (string, error)
	GenerateEmailVerificationToken(ctx context.Context, u *models.User) (string, error)
	FindByPasswordResetToken(ctx context.Context, plain string) (*models.User, error)
	FindByEmailVerificationToken(ctx context.Context, plain string) (*models.User, error)
	MarkEmailVerified(ctx context.Context, u *models.User) error
	StageTwoFactor(ctx context.Context, u *models.User, secret string, digests []string) error
	EnableTwoFactor(ctx context.Context, u *models.User) error
	DisableTwoFactor(ctx context.Context, u *models.User) error
	RegisterFailedLogin(ctx context.Context, u *models.User) error
	CheckLock(ctx context.Context, u *models.User) error
	ResetLoginAttempts(ctx context.Context, u *models.User) error
	ConsumeBackupCode(ctx context.Context, u *models.User, code string) (bool, error)
}

// Tokens is the token service.
type Tokens interface {
	Issue(ctx context.Context, u *models.User, info token.ClientInfo) (models.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string, info token.ClientInfo) (models.TokenPair, *models.User, error)
	Revoke(ctx context.Context, refreshToken string) error
	RevokeAll(ctx context.Context, userID string) error
}

// TwoFactor generates and checks TOTP material.
type TwoFactor interface {
	GenerateSecret(account string) (string, error)
	GenerateQRCode(account, secret string) (string, error)
	VerifyToken(code, secret string) bool
}

// Notifier accepts mail jobs without blocking.
type Notifier interface {
	Notify(job models.MailJob)
}

// Options configures the orchestrator.
type Options struct {
	// PublicBaseURL prefixes the links placed in emails.
	PublicBaseURL    string
	BackupCodesCount int
}

// AuthResult is returned by register and successful logins.
type AuthResult struct {
	User   models.PublicUser `json:"user"`
	Tokens models.TokenPair  `json:"tokens"`
}

// LoginResult is either a full AuthResult or a request for the second factor.
type LoginResult struct {
	Requires2FA bool               `json:"requires_2fa"`
	User        *models.PublicUser `json:"user,omitempty"`
	Tokens      *models.TokenPair  `json:"tokens,omitempty"`
}

// TwoFactorSetup is shown to the user exactly once.
type TwoFactorSetup struct {
	Secret      string   `json:"secret"`
	QRCode      string   `json:"qr_code"`
	BackupCodes []string `json:"backup_codes"`
}

// Service implements the account flows.
type Service struct {
	creds   Credentials
	tokens  Tokens
	totp    TwoFactor
	notify  Notifier
	log     *slog.Logger
	metrics *metrics.Metrics
	opts    Options
}

// New builds a Service.
func New(creds Credentials, tokens Tokens, totp TwoFactor, notify Notifier, log *slog.Logger, m *metrics.Metrics, opts Options) *Service {
	if m == nil {
		m = metrics.Noop()
	}
	if opts.BackupCodesCount <= 0 {
		opts.BackupCodesCount = twofactor.DefaultBackupCodes
	}
	opts.PublicBaseURL = strings.TrimRight(opts.PublicBaseURL, "/")
	return &Service{creds: creds, tokens: tokens, totp: totp, notify: notify, log: log, metrics: m, opts: opts}
}

func (s *Service) link(path, tok string) string {
	return s.opts.PublicBaseURL + path + "?token=" + url.QueryEscape(tok)
}

// Register creates the account, mails a verification link and signs the
// new user in.
func (s *Service) Register(ctx context.Context, in RegisterInput, info token.ClientInfo) (*AuthResult, error) {
	const op = "auth.Register"
	if err := in.Validate(); err != nil {
		return nil, err
	}
	log := s.log.With(slog.String("op", op))

	u := &models.User{Name: strings.TrimSpace(in.Name), Email: in.Email, Role: models.RoleUser}
	if err := s.creds.Create(ctx, u, in.Password); err != nil {
		if errors.Is(err, credentials.ErrEmailTaken) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("%s: %w", op, apperr.External("failed to create user", err))
	}

	verifyToken, err := s.creds.GenerateEmailVerificationToken(ctx, u)
	if err != nil {
		log.Error("failed to issue verification token", slog.String("user_id", u.ID), sl.Err(err))
	} else {
		s.notify.Notify(models.MailJob{
			Kind: models.MailVerifyEmail,
			To:   u.Email,
			Name: u.Name,
			Link: s.link("/verify-email", verifyToken),
		})
	}

	pair, err := s.tokens.Issue(ctx, u, info)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	log.Info("user registered", slog.String("user_id", u.ID))
	return &AuthResult{User: u.Public(), Tokens: pair}, nil
}

// Login runs the lock check, password check and optional second factor.
// A user with 2FA enabled who sent no code gets Requires2FA and no tokens.
func (s *Service) Login(ctx context.Context, in LoginInput, info token.ClientInfo) (*LoginResult, error) {
	const op = "auth.Login"
	if err := in.Validate(); err != nil {
		return nil, err
	}
	log := s.log.With(slog.String("op", op))

	u, err := s.creds.FindByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, credentials.ErrUserNotFound) {
			s.metrics.Logins.WithLabelValues("invalid").Inc()
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%s: %w", op, apperr.External("failed to load user", err))
	}

	if u.IsLocked(s.creds.Now()) {
		return nil, s.locked()
	}

	// Concurrent attempts all pass the check above, so every outcome after
	// the password check is decided by a statement on the stored row.
	if !s.creds.ComparePassword(u, in.Password) {
		if err := s.creds.RegisterFailedLogin(ctx, u); err != nil {
			if errors.Is(err, credentials.ErrAccountLocked) {
				return nil, s.locked()
			}
			log.Error("failed to record failed login", slog.String("user_id", u.ID), sl.Err(err))
		} else if u.IsLocked(s.creds.Now()) {
			log.Warn("account locked after repeated failures", slog.String("user_id", u.ID))
		}
		s.metrics.Logins.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidCredentials
	}

	if err := s.creds.CheckLock(ctx, u); err != nil {
		if errors.Is(err, credentials.ErrAccountLocked) {
			return nil, s.locked()
		}
		return nil, fmt.Errorf("%s: %w", op, apperr.External("failed to read login state", err))
	}

	if u.TwoFactorEnabled {
		code := strings.TrimSpace(in.TwoFactorCode)
		if code == "" {
			s.metrics.Logins.WithLabelValues("requires_2fa").Inc()
			return &LoginResult{Requires2FA: true}, nil
		}
		if !s.totp.VerifyToken(code, u.TwoFactorSecret) {
			used, err := s.creds.ConsumeBackupCode(ctx, u, code)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", op, apperr.External("failed to check backup code", err))
			}
			if !used {
				s.metrics.Logins.WithLabelValues("invalid_2fa").Inc()
				return nil, ErrInvalidTwoFactorCode
			}
			log.Info("backup code consumed", slog.String("user_id", u.ID), slog.Int("remaining", len(u.TwoFactorBackupCodes)))
		}
	}

	if err := s.creds.ResetLoginAttempts(ctx, u); err != nil {
		if errors.Is(err, credentials.ErrAccountLocked) {
			return nil, s.locked()
		}
		return nil, fmt.Errorf("%s: %w", op, apperr.External("failed to update login state", err))
	}

	pair, err := s.tokens.Issue(ctx, u, info)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.metrics.Logins.WithLabelValues("success").Inc()
	public := u.Public()
	return &LoginResult{User: &public, Tokens: &pair}, nil
}

func (s *Service) locked() error {
	s.metrics.Logins.WithLabelValues("locked").Inc()
	return ErrAccountLocked
}

// Refresh exchanges a refresh token for a new pair.
func (s *Service) Refresh(ctx context.Context, in RefreshInput, info token.ClientInfo) (models.TokenPair, error) {
	const op = "auth.Refresh"
	if err := in.Validate(); err != nil {
		return models.TokenPair{}, err
	}
	pair, _, err := s.tokens.Refresh(ctx, in.RefreshToken, info)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}
	return pair, nil
}

// Logout revokes the refresh token. It succeeds for unknown tokens.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	const op = "auth.Logout"
	if err := s.tokens.Revoke(ctx, refreshToken); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ForgotPassword mails a reset link when the account exists. It never
// reports whether it does.
func (s *Service) ForgotPassword(ctx context.Context, in ForgotPasswordInput) error {
	const op = "auth.ForgotPassword"
	if err := in.Validate(); err != nil {
		return err
	}
	log := s.log.With(slog.String("op", op))

	u, err := s.creds.FindByEmail(ctx, in.Email)
	if err != nil {
		if !errors.Is(err, credentials.ErrUserNotFound) {
			log.Error("failed to load user", sl.Err(err))
		}
		return nil
	}

	resetToken, err := s.creds.GeneratePasswordResetToken(ctx, u)
	if err != nil {
		log.Error("failed to issue reset token", slog.String("user_id", u.ID), sl.Err(err))
		return nil
	}
	s.notify.Notify(models.MailJob{
		Kind: models.MailResetPassword,
		To:   u.Email,
		Name: u.Name,
		Link: s.link("/reset-password", resetToken),
	})
	return nil
}

// ResetPassword sets a new password for the holder of a live reset token
// and signs every session out.
func (s *Service) ResetPassword(ctx context.Context, in ResetPasswordInput) error {
	const op = "auth.ResetPassword"
	if err := in.Validate(); err != nil {
		return err
	}

	u, err := s.creds.FindByPasswordResetToken(ctx, in.Token)
	if err != nil {
		if errors.Is(err, credentials.ErrUserNotFound) {
			return ErrInvalidResetToken
		}
		return fmt.Errorf("%s: %w", op, apperr.External("failed to load user", err))
	}

	u.SetPassword(in.Password)
	if err := s.creds.Save(ctx, u); err != nil {
		return fmt.Errorf("%s: %w", op, apperr.External("failed to save user", err))
	}
	s.afterPasswordChange(ctx, u)
	return nil
}

// VerifyEmail marks the holder of a live verification token as verified.
func (s *Service) VerifyEmail(ctx context.Context, in VerifyEmailInput) error {
	const op = "auth.VerifyEmail"
	if err := in.Validate(); err != nil {
		return err
	}

	u, err := s.creds.FindByEmailVerificationToken(ctx, in.Token)
	if err != nil {
		if errors.Is(err, credentials.ErrUserNotFound) {
			return ErrInvalidVerificationToken
		}
		return fmt.Errorf("%s: %w", op, apperr.External("failed to load user", err))
	}

	if err := s.creds.MarkEmailVerified(ctx, u); err != nil {
		return fmt.Errorf("%s: %w", op, apperr.External("failed to save user", err))
	}
	return nil
}

// ChangePassword replaces the password of userID after checking the
// current one.
func (s *Service) ChangePassword(ctx context.Context, userID string, in ChangePasswordInput) error {
	const op = "auth.ChangePassword"
	if err := in.Validate(); err != nil {
		return err
	}
	u, err := s.user(ctx, op, userID)
	if err != nil {
		return err
	}
	if !s.creds.ComparePassword(u, in.CurrentPassword) {
		return ErrWrongCurrentPassword
	}
	u.SetPassword(in.NewPassword)
	if err := s.creds.Save(ctx, u); err != nil {
		return fmt.Errorf("%s: %w", op, apperr.External("failed to save user", err))
	}
	s.afterPasswordChange(ctx, u)
	return nil
}

func (s *Service) afterPasswordChange(ctx context.Context, u *models.User) {
	if err := s.tokens.RevokeAll(ctx, u.ID); err != nil {
		s.log.Error("failed to revoke sessions after password change", slog.String("user_id", u.ID), sl.Err(err))
	}
	s.notify.Notify(models.MailJob{Kind: models.MailPasswordChanged, To: u.Email, Name: u.Name})
}

// Profile returns the public view of userID.
func (s *Service) Profile(ctx context.Context, userID string) (models.PublicUser, error) {
	u, err := s.user(ctx, "auth.Profile", userID)
	if err != nil {
		return models.PublicUser{}, err
	}
	return u.Public(), nil
}

// Setup2FA stores a new secret and backup codes for userID without
// enabling the second factor. The plaintext codes are returned once.
func (s *Service) Setup2FA(ctx context.Context, userID string) (*TwoFactorSetup, error) {
	const op = "auth.Setup2FA"
	u, err := s.user(ctx, op, userID)
	if err != nil {
		return nil, err
	}
	if u.TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}

	secret, err := s.totp.GenerateSecret(u.Email)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	qr, err := s.totp.GenerateQRCode(u.Email, secret)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	codes, err := twofactor.GenerateBackupCodes(s.opts.BackupCodesCount)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.creds.StageTwoFactor(ctx, u, secret, twofactor.HashBackupCodes(codes)); err != nil {
		if errors.Is(err, credentials.ErrTwoFactorState) {
			return nil, ErrTwoFactorAlreadyEnabled
		}
		return nil, fmt.Errorf("%s: %w", op, apperr.External("failed to save user", err))
	}
	return &TwoFactorSetup{Secret: secret, QRCode: qr, BackupCodes: codes}, nil
}

// Verify2FA enables the second factor once the user proves the secret works.
func (s *Service) Verify2FA(ctx context.Context, userID string, in TwoFactorCodeInput) error {
	const op = "auth.Verify2FA"
	in.Code = strings.TrimSpace(in.Code)
	if err := in.Validate(); err != nil {
		return err
	}
	u, err := s.user(ctx, op, userID)
	if err != nil {
		return err
	}
	if u.TwoFactorSecret == "" {
		return ErrTwoFactorNotSetUp
	}
	if !s.totp.VerifyToken(in.Code, u.TwoFactorSecret) {
		return ErrInvalidTwoFactorCode
	}
	if u.TwoFactorEnabled {
		return nil
	}
	if err := s.creds.EnableTwoFactor(ctx, u); err != nil {
		if errors.Is(err, credentials.ErrTwoFactorState) {
			return ErrTwoFactorNotSetUp
		}
		return fmt.Errorf("%s: %w", op, apperr.External("failed to save user", err))
	}
	s.notify.Notify(models.MailJob{Kind: models.MailTwoFactorOn, To: u.Email, Name: u.Name})
	return nil
}

// Disable2FA turns the second factor off after a valid code and wipes the
// secret and backup codes.
func (s *Service) Disable2FA(ctx context.Context, userID string, in TwoFactorCodeInput) error {
	const op = "auth.Disable2FA"
	in.Code = strings.TrimSpace(in.Code)
	if err := in.Validate(); err != nil {
		return err
	}
	u, err := s.user(ctx, op, userID)
	if err != nil {
		return err
	}
	if !u.TwoFactorEnabled {
		return ErrTwoFactorNotEnabled
	}
	if !s.totp.VerifyToken(in.Code, u.TwoFactorSecret) {
		return ErrInvalidTwoFactorCode
	}
	if err := s.creds.DisableTwoFactor(ctx, u); err != nil {
		return fmt.Errorf("%s: %w", op, apperr.External("failed to save user", err))
	}
	return nil
}

func (s *Service) user(ctx context.Context, op, userID string) (*models.User, error) {
	u, err := s.creds.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, credentials.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, apperr.External("failed to load user", err))
	}
	return u, nil
}
