package storage

import (
	"context"
	"fmt"

	"github.com/magabrotheeeer/plugin-licensing/internal/models"
)

const pluginColumns = `id, name, slug, description, version, status, price, currency,
	download_url, created_at, updated_at`

func scanPlugin(row rowScanner) (*models.Plugin, error) {
	var (
		p      models.Plugin
		status string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Slug, &p.Description, &p.Version, &status,
		&p.Price, &p.Currency, &p.DownloadURL, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Status = models.PluginStatus(status)
	return &p, nil
}

// CreatePlugin inserts p. A taken slug yields ErrConflict.
func (s *Storage) CreatePlugin(ctx context.Context, p *models.Plugin) error {
	const op = "storage.CreatePlugin"
	query := `INSERT INTO plugins (name, slug, description, version, status, price, currency, download_url)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			  RETURNING id, created_at, updated_at`
	err := s.DB.QueryRowContext(ctx, query,
		p.Name, p.Slug, p.Description, p.Version, string(p.Status), p.Price, p.Currency, p.DownloadURL,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, ErrConflict)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetPluginBySlug returns the plugin registered under slug.
func (s *Storage) GetPluginBySlug(ctx context.Context, slug string) (*models.Plugin, error) {
	const op = "storage.GetPluginBySlug"
	row := s.DB.QueryRowContext(ctx, `SELECT `+pluginColumns+` FROM plugins WHERE slug = $1`, slug)
	p, err := scanPlugin(row)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, notFound(err))
	}
	return p, nil
}

// UpdatePluginVersion publishes a new version of the plugin.
func (s *Storage) UpdatePluginVersion(ctx context.Context, slug, version string) (*models.Plugin, error) {
	const op = "storage.UpdatePluginVersion"
	row := s.DB.QueryRowContext(ctx, `UPDATE plugins SET version = $2, updated_at = NOW()
		WHERE slug = $1 RETURNING `+pluginColumns, slug, version)
	p, err := scanPlugin(row)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, notFound(err))
	}
	return p, nil
}
