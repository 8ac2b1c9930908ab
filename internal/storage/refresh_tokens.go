package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/magabrotheeeer/plugin-licensing/internal/models"
)

func scanRefreshToken(row rowScanner) (*models.RefreshToken, error) {
	var (
		t          models.RefreshToken
		revokedAt  sql.NullTime
		replacedBy sql.NullString
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.IsRevoked, &revokedAt,
		&replacedBy, &t.IP, &t.UserAgent, &t.IsDeleted, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.RevokedAt = fromNullTime(revokedAt)
	t.ReplacedByToken = replacedBy.String
	return &t, nil
}

const insertRefreshToken = `INSERT INTO refresh_tokens (user_id, token_hash, expires_at, ip, user_agent)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING id, created_at`

type execQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertToken(ctx context.Context, q execQuerier, t *models.RefreshToken) error {
	err := q.QueryRowContext(ctx, insertRefreshToken,
		t.UserID, t.TokenHash, t.ExpiresAt, t.IP, t.UserAgent,
	).Scan(&t.ID, &t.CreatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// CreateRefreshToken persists a newly issued refresh token.
func (s *Storage) CreateRefreshToken(ctx context.Context, t *models.RefreshToken) error {
	const op = "storage.CreateRefreshToken"
	if err := insertToken(ctx, s.DB, t); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetRefreshTokenByHash looks a token up by its digest.
func (s *Storage) GetRefreshTokenByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	const op = "storage.GetRefreshTokenByHash"
	row := s.DB.QueryRowContext(ctx, `SELECT id, user_id, token_hash, expires_at, is_revoked, revoked_at,
			replaced_by_token, ip, user_agent, is_deleted, created_at
		FROM refresh_tokens WHERE token_hash = $1`, tokenHash)
	t, err := scanRefreshToken(row)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, notFound(err))
	}
	return t, nil
}

// RotateRefreshToken stores next and revokes the token identified by
// oldHash in one transaction, linking the old record to its successor.
// When the old token was already revoked or expired, nothing is written
// and ErrNotFound is returned: of two concurrent rotations only one wins.
func (s *Storage) RotateRefreshToken(ctx context.Context, oldHash string, next *models.RefreshToken, now time.Time) error {
	const op = "storage.RotateRefreshToken"
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertToken(ctx, tx, next); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `UPDATE refresh_tokens
			SET is_revoked = TRUE, revoked_at = $2, replaced_by_token = $3
			WHERE token_hash = $1 AND NOT is_revoked AND NOT is_deleted AND expires_at > $2`,
			oldHash, now, next.TokenHash)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// RevokeRefreshToken marks a token revoked. It reports whether a live
// token was revoked; revoking an unknown or revoked token is not an error.
func (s *Storage) RevokeRefreshToken(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	const op = "storage.RevokeRefreshToken"
	res, err := s.DB.ExecContext(ctx, `UPDATE refresh_tokens
		SET is_revoked = TRUE, revoked_at = $2
		WHERE token_hash = $1 AND NOT is_revoked`, tokenHash, now)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, nil
}

// RevokeAllRefreshTokens revokes every live token of a user and returns
// how many were revoked.
func (s *Storage) RevokeAllRefreshTokens(ctx context.Context, userID string, now time.Time) (int64, error) {
	const op = "storage.RevokeAllRefreshTokens"
	res, err := s.DB.ExecContext(ctx, `UPDATE refresh_tokens
		SET is_revoked = TRUE, revoked_at = $2
		WHERE user_id = $1 AND NOT is_revoked`, userID, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// PurgeExpiredRefreshTokens soft deletes tokens that expired before cutoff.
func (s *Storage) PurgeExpiredRefreshTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	const op = "storage.PurgeExpiredRefreshTokens"
	res, err := s.DB.ExecContext(ctx, `UPDATE refresh_tokens
		SET is_deleted = TRUE, deleted_at = NOW()
		WHERE expires_at < $1 AND NOT is_deleted`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}
