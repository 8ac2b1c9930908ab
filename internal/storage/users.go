package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/magabrotheeeer/plugin-licensing/internal/models"
)

const userColumns = `id, name, email, password_hash, role, is_email_verified,
	email_verification_token, email_verification_expires,
	password_reset_token, password_reset_expires, last_login_at,
	login_attempts, lock_until, two_factor_enabled, two_factor_secret,
	array_to_json(two_factor_backup_codes), is_deleted, deleted_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u                              models.User
		role                           string
		verifyToken, resetToken, tfa   sql.NullString
		verifyExp, resetExp, lastLogin sql.NullTime
		lockUntil, deletedAt           sql.NullTime
		codes                          []byte
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &role, &u.IsEmailVerified,
		&verifyToken, &verifyExp, &resetToken, &resetExp, &lastLogin,
		&u.LoginAttempts, &lockUntil, &u.TwoFactorEnabled, &tfa,
		&codes, &u.IsDeleted, &deletedAt, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Role = models.Role(role)
	u.EmailVerificationToken = verifyToken.String
	u.EmailVerificationExpires = fromNullTime(verifyExp)
	u.PasswordResetToken = resetToken.String
	u.PasswordResetExpires = fromNullTime(resetExp)
	u.LastLoginAt = fromNullTime(lastLogin)
	u.LockUntil = fromNullTime(lockUntil)
	u.TwoFactorSecret = tfa.String
	u.DeletedAt = fromNullTime(deletedAt)
	if len(codes) > 0 {
		if err := json.Unmarshal(codes, &u.TwoFactorBackupCodes); err != nil {
			return nil, err
		}
	}
	return &u, nil
}

func backupCodes(codes []string) []string {
	if codes == nil {
		return []string{}
	}
	return codes
}

// CreateUser inserts u and fills its generated fields. A taken email
// yields ErrConflict.
func (s *Storage) CreateUser(ctx context.Context, u *models.User) error {
	const op = "storage.CreateUser"
	query := `INSERT INTO users (name, email, password_hash, role,
			      email_verification_token, email_verification_expires)
			  VALUES ($1, $2, $3, $4, $5, $6)
			  RETURNING id, created_at, updated_at`
	err := s.DB.QueryRowContext(ctx, query,
		u.Name, strings.ToLower(u.Email), u.PasswordHash, string(u.Role),
		nullString(u.EmailVerificationToken), toNullTime(u.EmailVerificationExpires),
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, ErrConflict)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	u.Email = strings.ToLower(u.Email)
	return nil
}

// GetUserByEmail returns the live account registered with email.
func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "storage.GetUserByEmail"
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1 AND NOT is_deleted`,
		strings.ToLower(strings.TrimSpace(email)))
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, notFound(err))
	}
	return u, nil
}

// GetUserByID returns the account with id, including soft deleted ones so
// callers can tell a removed account from a missing one.
func (s *Storage) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	const op = "storage.GetUserByID"
	row := s.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, notFound(err))
	}
	return u, nil
}

// GetUserByPasswordResetToken finds the account holding an unexpired reset digest.
func (s *Storage) GetUserByPasswordResetToken(ctx context.Context, digest string, now time.Time) (*models.User, error) {
	const op = "storage.GetUserByPasswordResetToken"
	row := s.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users
		WHERE password_reset_token = $1 AND password_reset_expires > $2 AND NOT is_deleted`,
		digest, now)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, notFound(err))
	}
	return u, nil
}

// GetUserByEmailVerificationToken finds the account holding an unexpired verification digest.
func (s *Storage) GetUserByEmailVerificationToken(ctx context.Context, digest string, now time.Time) (*models.User, error) {
	const op = "storage.GetUserByEmailVerificationToken"
	row := s.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users
		WHERE email_verification_token = $1 AND email_verification_expires > $2 AND NOT is_deleted`,
		digest, now)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, notFound(err))
	}
	return u, nil
}

// UpdateUser writes the profile fields of u. Secrets, lockout counters and
// two-factor state are changed only through their dedicated statements.
func (s *Storage) UpdateUser(ctx context.Context, u *models.User) error {
	const op = "storage.UpdateUser"
	query := `UPDATE users SET name = $2, email = $3, role = $4, updated_at = NOW()
			  WHERE id = $1
			  RETURNING updated_at`
	err := s.DB.QueryRowContext(ctx, query,
		u.ID, u.Name, strings.ToLower(u.Email), string(u.Role),
	).Scan(&u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, ErrConflict)
		}
		return fmt.Errorf("%s: %w", op, notFound(err))
	}
	return nil
}

// UpdatePasswordHash replaces the password hash and voids any outstanding
// reset token.
func (s *Storage) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	const op = "storage.UpdatePasswordHash"
	return s.execOne(ctx, op, `UPDATE users
		SET password_hash = $2, password_reset_token = NULL, password_reset_expires = NULL, updated_at = NOW()
		WHERE id = $1`, userID, hash)
}

// SetPasswordResetToken stores the digest of a newly issued reset token.
func (s *Storage) SetPasswordResetToken(ctx context.Context, userID, digest string, expires time.Time) error {
	const op = "storage.SetPasswordResetToken"
	return s.execOne(ctx, op, `UPDATE users
		SET password_reset_token = $2, password_reset_expires = $3, updated_at = NOW()
		WHERE id = $1`, userID, digest, expires)
}

// SetEmailVerificationToken stores the digest of a newly issued verification token.
func (s *Storage) SetEmailVerificationToken(ctx context.Context, userID, digest string, expires time.Time) error {
	const op = "storage.SetEmailVerificationToken"
	return s.execOne(ctx, op, `UPDATE users
		SET email_verification_token = $2, email_verification_expires = $3, updated_at = NOW()
		WHERE id = $1`, userID, digest, expires)
}

// MarkEmailVerified flags the address as verified and drops the token.
func (s *Storage) MarkEmailVerified(ctx context.Context, userID string) error {
	const op = "storage.MarkEmailVerified"
	return s.execOne(ctx, op, `UPDATE users
		SET is_email_verified = TRUE, email_verification_token = NULL, email_verification_expires = NULL, updated_at = NOW()
		WHERE id = $1`, userID)
}

// StageTwoFactor stores a pending secret and backup code digests. It
// reports false when two-factor authentication is already enabled.
func (s *Storage) StageTwoFactor(ctx context.Context, userID, secret string, digests []string) (bool, error) {
	const op = "storage.StageTwoFactor"
	return s.execMaybe(ctx, op, `UPDATE users
		SET two_factor_secret = $2, two_factor_backup_codes = $3, two_factor_enabled = FALSE, updated_at = NOW()
		WHERE id = $1 AND NOT two_factor_enabled`, userID, secret, backupCodes(digests))
}

// EnableTwoFactor turns the second factor on if secret is still the staged
// one. It reports false when the secret was replaced or removed.
func (s *Storage) EnableTwoFactor(ctx context.Context, userID, secret string) (bool, error) {
	const op = "storage.EnableTwoFactor"
	return s.execMaybe(ctx, op, `UPDATE users
		SET two_factor_enabled = TRUE, updated_at = NOW()
		WHERE id = $1 AND two_factor_secret = $2`, userID, secret)
}

// ClearTwoFactor disables the second factor and wipes its secret and codes.
func (s *Storage) ClearTwoFactor(ctx context.Context, userID string) error {
	const op = "storage.ClearTwoFactor"
	return s.execOne(ctx, op, `UPDATE users
		SET two_factor_enabled = FALSE, two_factor_secret = NULL, two_factor_backup_codes = '{}', updated_at = NOW()
		WHERE id = $1`, userID)
}

func (s *Storage) execOne(ctx context.Context, op, query string, args ...any) error {
	ok, err := s.execMaybe(ctx, op, query, args...)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

func (s *Storage) execMaybe(ctx context.Context, op, query string, args ...any) (bool, error) {
	res, err := s.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, nil
}

// LockoutState is the counter state after a failed login was recorded.
type LockoutState struct {
	Attempts  int
	LockUntil *time.Time
}

// RegisterFailedLogin records one failed password check in a single
// statement. An expired lock restarts the counter at 1; reaching
// maxAttempts sets lock_until to lockUntil.
func (s *Storage) RegisterFailedLogin(ctx context.Context, userID string, now time.Time, maxAttempts int, lockUntil time.Time) (LockoutState, error) {
	const op = "storage.RegisterFailedLogin"
	query := `UPDATE users SET
			      login_attempts = CASE
			          WHEN lock_until IS NOT NULL AND lock_until <= $2 THEN 1
			          ELSE login_attempts + 1
			      END,
			      lock_until = CASE
			          WHEN lock_until IS NOT NULL AND lock_until <= $2 THEN NULL
			          WHEN lock_until IS NULL AND login_attempts + 1 >= $3 THEN $4
			          ELSE lock_until
			      END,
			      updated_at = NOW()
			  WHERE id = $1
			  RETURNING login_attempts, lock_until`
	var (
		state LockoutState
		lock  sql.NullTime
	)
	if err := s.DB.QueryRowContext(ctx, query, userID, now, maxAttempts, lockUntil).Scan(&state.Attempts, &lock); err != nil {
		return LockoutState{}, fmt.Errorf("%s: %w", op, notFound(err))
	}
	state.LockUntil = fromNullTime(lock)
	return state, nil
}

// GetLockState reads the current lockout counters of userID.
func (s *Storage) GetLockState(ctx context.Context, userID string) (LockoutState, error) {
	const op = "storage.GetLockState"
	var (
		state LockoutState
		lock  sql.NullTime
	)
	err := s.DB.QueryRowContext(ctx, `SELECT login_attempts, lock_until FROM users WHERE id = $1`, userID).
		Scan(&state.Attempts, &lock)
	if err != nil {
		return LockoutState{}, fmt.Errorf("%s: %w", op, notFound(err))
	}
	state.LockUntil = fromNullTime(lock)
	return state, nil
}

// ResetLoginAttempts clears the lockout state and stamps last_login_at
// unless a lock is in force at now. It reports false in that case, which
// covers a lock set by concurrent failures while the password was checked.
func (s *Storage) ResetLoginAttempts(ctx context.Context, userID string, now time.Time) (bool, error) {
	const op = "storage.ResetLoginAttempts"
	return s.execMaybe(ctx, op, `UPDATE users
		SET login_attempts = 0, lock_until = NULL, last_login_at = $2, updated_at = NOW()
		WHERE id = $1 AND (lock_until IS NULL OR lock_until <= $2)`, userID, now)
}

// ConsumeBackupCode removes digest from the user's backup codes. It reports
// false when the digest was not present, so each code works at most once
// even under concurrent logins.
func (s *Storage) ConsumeBackupCode(ctx context.Context, userID, digest string) (bool, error) {
	const op = "storage.ConsumeBackupCode"
	res, err := s.DB.ExecContext(ctx, `UPDATE users
		SET two_factor_backup_codes = array_remove(two_factor_backup_codes, $2), updated_at = NOW()
		WHERE id = $1 AND $2 = ANY(two_factor_backup_codes)`, userID, digest)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n == 1, nil
}
