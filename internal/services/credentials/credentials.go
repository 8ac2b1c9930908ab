// Package credentials is the credential store: it owns password hashing,
// reset and verification token digests and the atomic lockout counters.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/magabrotheeeer/plugin-licensing/internal/lib/password"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/securetoken"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/twofactor"
	"github.com/magabrotheeeer/plugin-licensing/internal/models"
	"github.com/magabrotheeeer/plugin-licensing/internal/storage"
)

var (
	// ErrUserNotFound is returned by lookups that matched no live account.
	ErrUserNotFound = errors.New("user not found")
	// ErrEmailTaken is returned when the email already belongs to an account.
	ErrEmailTaken = errors.New("email already registered")
	// ErrAccountLocked is returned when a lock is in force on the stored row.
	ErrAccountLocked = errors.New("account locked")
	// ErrTwoFactorState is returned when the stored two-factor state no
	// longer allows the requested transition.
	ErrTwoFactorState = errors.New("two-factor state changed")
)

// UserRepository is the persistence the store needs.
type UserRepository interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByPasswordResetToken(ctx context.Context, digest string, now time.Time) (*models.User, error)
	GetUserByEmailVerificationToken(ctx context.Context, digest string, now time.Time) (*models.User, error)
	UpdateUser(ctx context.Context, u *models.User) error
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
	SetPasswordResetToken(ctx context.Context, userID, digest string, expires time.Time) error
	SetEmailVerificationToken(ctx context.Context, userID, digest string, expires time.Time) error
	MarkEmailVerified(ctx context.Context, userID string) error
	StageTwoFactor(ctx context.Context, userID, secret string, digests []string) (bool, error)
	EnableTwoFactor(ctx context.Context, userID, secret string) (bool, error)
	ClearTwoFactor(ctx context.Context, userID string) error
	GetLockState(ctx context.Context, userID string) (storage.LockoutState, error)
	RegisterFailedLogin(ctx context.Context, userID string, now time.Time, maxAttempts int, lockUntil time.Time) (storage.LockoutState, error)
	ResetLoginAttempts(ctx context.Context, userID string, now time.Time) (bool, error)
	ConsumeBackupCode(ctx context.Context, userID, digest string) (bool, error)
}

// Policy holds the tunables of the store.
type Policy struct {
	BcryptCost           int
	MaxLoginAttempts     int
	LockDuration         time.Duration
	PasswordResetTTL     time.Duration
	EmailVerificationTTL time.Duration
	// Clock overrides time.Now.
	Clock func() time.Time
}

// DefaultPolicy is bcrypt cost 12, lock after 5 failures for 2 hours,
// reset tokens valid 1 hour and verification tokens 24 hours.
var DefaultPolicy = Policy{
	BcryptCost:           password.DefaultCost,
	MaxLoginAttempts:     5,
	LockDuration:         2 * time.Hour,
	PasswordResetTTL:     time.Hour,
	EmailVerificationTTL: 24 * time.Hour,
}

// Store implements the credential operations over a UserRepository.
type Store struct {
	repo   UserRepository
	policy Policy
	now    func() time.Time
}

// New builds a Store. Zero policy fields take their DefaultPolicy value.
func New(repo UserRepository, policy Policy) *Store {
	if policy.BcryptCost == 0 {
		policy.BcryptCost = DefaultPolicy.BcryptCost
	}
	if policy.MaxLoginAttempts <= 0 {
		policy.MaxLoginAttempts = DefaultPolicy.MaxLoginAttempts
	}
	if policy.LockDuration <= 0 {
		policy.LockDuration = DefaultPolicy.LockDuration
	}
	if policy.PasswordResetTTL <= 0 {
		policy.PasswordResetTTL = DefaultPolicy.PasswordResetTTL
	}
	if policy.EmailVerificationTTL <= 0 {
		policy.EmailVerificationTTL = DefaultPolicy.EmailVerificationTTL
	}
	now := policy.Clock
	if now == nil {
		now = time.Now
	}
	policy.Clock = nil
	return &Store{repo: repo, policy: policy, now: now}
}

// Now returns the store clock.
func (s *Store) Now() time.Time { return s.now() }

// FindByEmail returns the live account for email.
func (s *Store) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "credentials.FindByEmail"
	u, err := s.repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translate(err))
	}
	return u, nil
}

// FindByID returns the live account with id.
func (s *Store) FindByID(ctx context.Context, id string) (*models.User, error) {
	const op = "credentials.FindByID"
	u, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translate(err))
	}
	if u.IsDeleted {
		return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
	}
	return u, nil
}

// Create hashes plain and inserts u.
func (s *Store) Create(ctx context.Context, u *models.User, plain string) error {
	const op = "credentials.Create"
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	u.SetPassword(plain)
	if err := s.hashPending(u); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.repo.CreateUser(ctx, u); err != nil {
		return fmt.Errorf("%s: %w", op, translate(err))
	}
	return nil
}

// Save persists the profile fields of u. The password is hashed and written
// only when it was changed with SetPassword since the last save, which also
// voids any outstanding reset token.
func (s *Store) Save(ctx context.Context, u *models.User) error {
	const op = "credentials.Save"
	_, dirty := u.PendingPassword()
	if err := s.hashPending(u); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if dirty {
		if err := s.repo.UpdatePasswordHash(ctx, u.ID, u.PasswordHash); err != nil {
			return fmt.Errorf("%s: %w", op, translate(err))
		}
		u.PasswordResetToken = ""
		u.PasswordResetExpires = nil
	}
	if err := s.repo.UpdateUser(ctx, u); err != nil {
		return fmt.Errorf("%s: %w", op, translate(err))
	}
	return nil
}

func (s *Store) hashPending(u *models.User) error {
	plain, dirty := u.PendingPassword()
	if !dirty {
		return nil
	}
	hash, err := password.GetHash(plain, s.policy.BcryptCost)
	if err != nil {
		return err
	}
	u.ApplyPasswordHash(hash)
	return nil
}

// ComparePassword reports whether candidate matches the stored hash.
func (s *Store) ComparePassword(u *models.User, candidate string) bool {
	if u == nil || u.PasswordHash == "" {
		return false
	}
	return password.CompareHash(u.PasswordHash, candidate) == nil
}

// GeneratePasswordResetToken stores the digest of a fresh reset token on u
// and returns the plaintext for mailing.
func (s *Store) GeneratePasswordResetToken(ctx context.Context, u *models.User) (string, error) {
	const op = "credentials.GeneratePasswordResetToken"
	plain, digest, err := securetoken.Generate(securetoken.DefaultSize)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	expires := s.now().Add(s.policy.PasswordResetTTL)
	if err := s.repo.SetPasswordResetToken(ctx, u.ID, digest, expires); err != nil {
		return "", fmt.Errorf("%s: %w", op, translate(err))
	}
	u.PasswordResetToken = digest
	u.PasswordResetExpires = &expires
	return plain, nil
}

// GenerateEmailVerificationToken stores the digest of a fresh verification
// token on u and returns the plaintext for mailing.
func (s *Store) GenerateEmailVerificationToken(ctx context.Context, u *models.User) (string, error) {
	const op = "credentials.GenerateEmailVerificationToken"
	plain, digest, err := securetoken.Generate(securetoken.DefaultSize)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	expires := s.now().Add(s.policy.EmailVerificationTTL)
	if err := s.repo.SetEmailVerificationToken(ctx, u.ID, digest, expires); err != nil {
		return "", fmt.Errorf("%s: %w", op, translate(err))
	}
	u.EmailVerificationToken = digest
	u.EmailVerificationExpires = &expires
	return plain, nil
}

// MarkEmailVerified flags u's address as verified and drops the token.
func (s *Store) MarkEmailVerified(ctx context.Context, u *models.User) error {
	const op = "credentials.MarkEmailVerified"
	if err := s.repo.MarkEmailVerified(ctx, u.ID); err != nil {
		return fmt.Errorf("%s: %w", op, translate(err))
	}
	u.IsEmailVerified = true
	u.EmailVerificationToken = ""
	u.EmailVerificationExpires = nil
	return nil
}

// StageTwoFactor stores a pending secret and backup code digests on u
// without enabling the second factor. It fails with ErrTwoFactorState when
// the stored account already has it enabled.
func (s *Store) StageTwoFactor(ctx context.Context, u *models.User, secret string, digests []string) error {
	const op = "credentials.StageTwoFactor"
	staged, err := s.repo.StageTwoFactor(ctx, u.ID, secret, digests)
	if err != nil {
		return fmt.Errorf("%s: %w", op, translate(err))
	}
	if !staged {
		return fmt.Errorf("%s: %w", op, ErrTwoFactorState)
	}
	u.TwoFactorSecret = secret
	u.TwoFactorBackupCodes = digests
	u.TwoFactorEnabled = false
	return nil
}

// EnableTwoFactor enables the secret staged on u. It fails with
// ErrTwoFactorState when the stored secret is no longer that one.
func (s *Store) EnableTwoFactor(ctx context.Context, u *models.User) error {
	const op = "credentials.EnableTwoFactor"
	enabled, err := s.repo.EnableTwoFactor(ctx, u.ID, u.TwoFactorSecret)
	if err != nil {
		return fmt.Errorf("%s: %w", op, translate(err))
	}
	if !enabled {
		return fmt.Errorf("%s: %w", op, ErrTwoFactorState)
	}
	u.TwoFactorEnabled = true
	return nil
}

// DisableTwoFactor turns the second factor off and wipes its material.
func (s *Store) DisableTwoFactor(ctx context.Context, u *models.User) error {
	const op = "credentials.DisableTwoFactor"
	if err := s.repo.ClearTwoFactor(ctx, u.ID); err != nil {
		return fmt.Errorf("%s: %w", op, translate(err))
	}
	u.TwoFactorEnabled = false
	u.TwoFactorSecret = ""
	u.TwoFactorBackupCodes = nil
	return nil
}

// FindByPasswordResetToken hashes plain and returns the account holding an
// unexpired reset token with that digest.
func (s *Store) FindByPasswordResetToken(ctx context.Context, plain string) (*models.User, error) {
	const op = "credentials.FindByPasswordResetToken"
	if plain == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
	}
	u, err := s.repo.GetUserByPasswordResetToken(ctx, securetoken.Hash(plain), s.now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translate(err))
	}
	return u, nil
}

// FindByEmailVerificationToken hashes plain and returns the account holding
// an unexpired verification token with that digest.
func (s *Store) FindByEmailVerificationToken(ctx context.Context, plain string) (*models.User, error) {
	const op = "credentials.FindByEmailVerificationToken"
	if plain == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
	}
	u, err := s.repo.GetUserByEmailVerificationToken(ctx, securetoken.Hash(plain), s.now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translate(err))
	}
	return u, nil
}

// RegisterFailedLogin records a failed password check for u and copies the
// resulting counter state onto it. It fails with ErrAccountLocked when the
// lock was already in force as the failure landed, so a guess that raced a
// lockout is reported like any attempt made after it.
func (s *Store) RegisterFailedLogin(ctx context.Context, u *models.User) error {
	const op = "credentials.RegisterFailedLogin"
	now := s.now()
	state, err := s.repo.RegisterFailedLogin(ctx, u.ID, now, s.policy.MaxLoginAttempts, now.Add(s.policy.LockDuration))
	if err != nil {
		return fmt.Errorf("%s: %w", op, translate(err))
	}
	u.LoginAttempts = state.Attempts
	u.LockUntil = state.LockUntil
	if state.Attempts > s.policy.MaxLoginAttempts && u.IsLocked(now) {
		return fmt.Errorf("%s: %w", op, ErrAccountLocked)
	}
	return nil
}

// CheckLock re-reads the lockout counters of u from storage and fails with
// ErrAccountLocked when a lock is in force.
func (s *Store) CheckLock(ctx context.Context, u *models.User) error {
	const op = "credentials.CheckLock"
	state, err := s.repo.GetLockState(ctx, u.ID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, translate(err))
	}
	u.LoginAttempts = state.Attempts
	u.LockUntil = state.LockUntil
	if u.IsLocked(s.now()) {
		return fmt.Errorf("%s: %w", op, ErrAccountLocked)
	}
	return nil
}

// ResetLoginAttempts clears the lockout state after a successful login. It
// fails with ErrAccountLocked when a lock was set in the meantime.
func (s *Store) ResetLoginAttempts(ctx context.Context, u *models.User) error {
	const op = "credentials.ResetLoginAttempts"
	now := s.now()
	reset, err := s.repo.ResetLoginAttempts(ctx, u.ID, now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, translate(err))
	}
	if !reset {
		return fmt.Errorf("%s: %w", op, ErrAccountLocked)
	}
	u.LoginAttempts = 0
	u.LockUntil = nil
	u.LastLoginAt = &now
	return nil
}

// ConsumeBackupCode removes code from u's backup codes. It reports false
// when the code is unknown or was already used.
func (s *Store) ConsumeBackupCode(ctx context.Context, u *models.User, code string) (bool, error) {
	const op = "credentials.ConsumeBackupCode"
	digest, ok := twofactor.VerifyBackupCode(code, u.TwoFactorBackupCodes)
	if !ok {
		return false, nil
	}
	consumed, err := s.repo.ConsumeBackupCode(ctx, u.ID, digest)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, translate(err))
	}
	if consumed {
		remaining := make([]string, 0, len(u.TwoFactorBackupCodes))
		for _, d := range u.TwoFactorBackupCodes {
			if d != digest {
				remaining = append(remaining, d)
			}
		}
		u.TwoFactorBackupCodes = remaining
	}
	return consumed, nil
}

func translate(err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrUserNotFound, err)
	case errors.Is(err, storage.ErrConflict):
		return fmt.Errorf("%w: %v", ErrEmailTaken, err)
	default:
		return err
	}
}
