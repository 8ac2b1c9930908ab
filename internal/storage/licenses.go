package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/plugin-licensing/internal/models"
)

const licenseColumns = `id, key, user_id, plugin_id, plugin_slug, type, status,
	activations_limit, activations_count, purchased_at, expires_at, last_checked_at,
	order_id, amount, currency, is_deleted, created_at, updated_at`

func scanLicense(row rowScanner) (*models.License, error) {
	var (
		l                    models.License
		typ, status          string
		expires, lastChecked sql.NullTime
	)
	if err := row.Scan(&l.ID, &l.Key, &l.UserID, &l.PluginID, &l.PluginSlug, &typ, &status,
		&l.ActivationsLimit, &l.ActivationsCount, &l.PurchasedAt, &expires, &lastChecked,
		&l.OrderID, &l.Amount, &l.Currency, &l.IsDeleted, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	l.Type = models.LicenseType(typ)
	l.Status = models.LicenseStatus(status)
	l.ExpiresAt = fromNullTime(expires)
	l.LastCheckedAt = fromNullTime(lastChecked)
	return &l, nil
}

// CreateLicense inserts l. A duplicate key yields ErrConflict so that the
// caller can retry with a fresh key.
func (s *Storage) CreateLicense(ctx context.Context, l *models.License) error {
	const op = "storage.CreateLicense"
	query := `INSERT INTO licenses (key, user_id, plugin_id, plugin_slug, type, status,
			      activations_limit, purchased_at, expires_at, order_id, amount, currency)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			  RETURNING id, activations_count, created_at, updated_at`
	err := s.DB.QueryRowContext(ctx, query,
		l.Key, l.UserID, l.PluginID, l.PluginSlug, string(l.Type), string(l.Status),
		l.ActivationsLimit, l.PurchasedAt, toNullTime(l.ExpiresAt), l.OrderID, l.Amount, l.Currency,
	).Scan(&l.ID, &l.ActivationsCount, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, ErrConflict)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetLicenseByKey returns the license with its activation history.
func (s *Storage) GetLicenseByKey(ctx context.Context, key string) (*models.License, error) {
	const op = "storage.GetLicenseByKey"
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE key = $1 AND NOT is_deleted`, key)
	l, err := scanLicense(row)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, notFound(err))
	}
	activations, err := s.activations(ctx, l.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	l.Activations = activations
	return l, nil
}

// ListLicensesByUser returns the user's licenses, newest first.
func (s *Storage) ListLicensesByUser(ctx context.Context, userID string) ([]models.License, error) {
	const op = "storage.ListLicensesByUser"
	rows, err := s.DB.QueryContext(ctx, `SELECT `+licenseColumns+` FROM licenses
		WHERE user_id = $1 AND NOT is_deleted
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var result []models.License
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	for i := range result {
		if result[i].Activations, err = s.activations(ctx, result[i].ID); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return result, nil
}

func (s *Storage) activations(ctx context.Context, licenseID string) ([]models.Activation, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, license_id, domain, activated_at, last_seen_at,
			active, ip, user_agent
		FROM activations WHERE license_id = $1 ORDER BY activated_at`, licenseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []models.Activation{}
	for rows.Next() {
		var a models.Activation
		if err := rows.Scan(&a.ID, &a.LicenseID, &a.Domain, &a.ActivatedAt, &a.LastSeenAt,
			&a.Active, &a.IP, &a.UserAgent); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// SetLicenseStatus changes the lifecycle status of the license with key.
func (s *Storage) SetLicenseStatus(ctx context.Context, key string, status models.LicenseStatus) error {
	const op = "storage.SetLicenseStatus"
	res, err := s.DB.ExecContext(ctx, `UPDATE licenses SET status = $2, updated_at = NOW()
		WHERE key = $1 AND NOT is_deleted`, key, string(status))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

// TouchLicense stamps last_checked_at.
func (s *Storage) TouchLicense(ctx context.Context, licenseID string, now time.Time) error {
	const op = "storage.TouchLicense"
	if _, err := s.DB.ExecContext(ctx,
		`UPDATE licenses SET last_checked_at = $2 WHERE id = $1`, licenseID, now); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ExpireLicenses moves active licenses whose expiry passed to expired and
// returns how many changed.
func (s *Storage) ExpireLicenses(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.ExpireLicenses"
	res, err := s.DB.ExecContext(ctx, `UPDATE licenses SET status = 'expired', updated_at = NOW()
		WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// ActivationResult tells a fresh activation from a repeated one.
type ActivationResult int

// Activation outcomes.
const (
	Activated ActivationResult = iota + 1
	AlreadyActive
)

// ActivateDomain claims a slot of the license for a.Domain.
//
// An already active domain only has last_seen_at refreshed and consumes no
// slot. Otherwise the slot counter is incremented with a conditional update
// that also rechecks status and expiry, and the activation row is inserted
// in the same transaction. When a concurrent request activated the same
// domain first, the partial unique index rejects the insert and the call
// reports AlreadyActive. ErrCapacity means no slot was free.
func (s *Storage) ActivateDomain(ctx context.Context, licenseID string, a models.Activation, now time.Time) (ActivationResult, error) {
	const op = "storage.ActivateDomain"
	var result ActivationResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx, `UPDATE activations SET last_seen_at = $3, ip = $4, user_agent = $5
			WHERE license_id = $1 AND domain = $2 AND active
			RETURNING id`, licenseID, a.Domain, now, a.IP, a.UserAgent).Scan(&id)
		if err == nil {
			result = AlreadyActive
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		res, err := tx.ExecContext(ctx, `UPDATE licenses
			SET activations_count = activations_count + 1, updated_at = $2
			WHERE id = $1 AND status = 'active' AND NOT is_deleted
			  AND (expires_at IS NULL OR expires_at > $2)
			  AND activations_count < activations_limit`, licenseID, now)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx, `SELECT EXISTS (
					SELECT 1 FROM activations WHERE license_id = $1 AND domain = $2 AND active
				)`, licenseID, a.Domain).Scan(&exists); err != nil {
				return err
			}
			if exists {
				result = AlreadyActive
				return nil
			}
			return ErrCapacity
		}

		_, err = tx.ExecContext(ctx, `INSERT INTO activations
			(license_id, domain, activated_at, last_seen_at, active, ip, user_agent)
			VALUES ($1, $2, $3, $3, TRUE, $4, $5)`, licenseID, a.Domain, now, a.IP, a.UserAgent)
		if err != nil {
			if isUniqueViolation(err) {
				return errConcurrentActivation
			}
			return err
		}
		result = Activated
		return nil
	})
	if errors.Is(err, errConcurrentActivation) {
		return AlreadyActive, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

var errConcurrentActivation = errors.New("storage: concurrent activation")

// DeactivateDomain releases the slot held by domain. It reports false when
// the domain held none.
func (s *Storage) DeactivateDomain(ctx context.Context, licenseID, domain string, now time.Time) (bool, error) {
	const op = "storage.DeactivateDomain"
	released := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE activations SET active = FALSE, last_seen_at = $3
			WHERE license_id = $1 AND domain = $2 AND active`, licenseID, domain, now)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `UPDATE licenses
			SET activations_count = GREATEST(activations_count - 1, 0), updated_at = $2
			WHERE id = $1`, licenseID, now); err != nil {
			return err
		}
		released = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return released, nil
}
