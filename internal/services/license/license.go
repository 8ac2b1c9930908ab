// Package license is the license activation engine: plugin check-ins,
// domain activation against a bounded number of slots, and the admin
// operations that provision plugins and licenses.
package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/magabrotheeeer/plugin-licensing/internal/lib/apperr"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/licensekey"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/metrics"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/sl"
	"github.com/magabrotheeeer/plugin-licensing/internal/models"
	"github.com/magabrotheeeer/plugin-licensing/internal/services/credentials"
	"github.com/magabrotheeeer/plugin-licensing/internal/storage"
)

// Reasons reported by Validate and Check when a license does not apply.
const (
	ReasonInvalidKey     = "invalid_key"
	ReasonPluginMismatch = "plugin_mismatch"
	ReasonExpired        = "license_expired"
	ReasonSuspended      = "license_suspended"
	ReasonCancelled      = "license_cancelled"
	ReasonLimitReached   = "activation_limit_reached"
	ReasonNotActivated   = "domain_not_activated"
)

const (
	resultValid           = "valid"
	maxKeyAttempts        = 5
	pluginCachePrefix     = "plugin:"
	defaultPluginCacheTTL = 10 * time.Minute
)

// Errors returned to callers.
var (
	ErrLicenseNotFound  = apperr.New(apperr.KindNotFound, "license not found")
	ErrPluginNotFound   = apperr.New(apperr.KindNotFound, "plugin not found")
	ErrUserNotFound     = apperr.New(apperr.KindNotFound, "user not found")
	ErrPluginExists     = apperr.New(apperr.KindConflict, "plugin with this slug already exists")
	ErrKeySpaceConflict = apperr.New(apperr.KindConflict, "could not allocate a unique license key")
)

// Repository is the persistence the engine needs.
type Repository interface {
	GetLicenseByKey(ctx context.Context, key string) (*models.License, error)
	ListLicensesByUser(ctx context.Context, userID string) ([]models.License, error)
	CreateLicense(ctx context.Context, l *models.License) error
	SetLicenseStatus(ctx context.Context, key string, status models.LicenseStatus) error
	TouchLicense(ctx context.Context, licenseID string, now time.Time) error
	ActivateDomain(ctx context.Context, licenseID string, a models.Activation, now time.Time) (storage.ActivationResult, error)
	DeactivateDomain(ctx context.Context, licenseID, domain string, now time.Time) (bool, error)
	GetPluginBySlug(ctx context.Context, slug string) (*models.Plugin, error)
	CreatePlugin(ctx context.Context, p *models.Plugin) error
	UpdatePluginVersion(ctx context.Context, slug, version string) (*models.Plugin, error)
}

// Cache holds plugin metadata between check-ins.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// UserFinder resolves the owner of a newly issued license.
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// Notifier accepts mail jobs without blocking.
type Notifier interface {
	Notify(job models.MailJob)
}

// Options configures the engine.
type Options struct {
	PluginCacheTTL time.Duration
	Clock          func() time.Time
	// KeyGenerator overrides licensekey.Generate.
	KeyGenerator func() (string, error)
}

// ValidateResult is what a plugin receives on check-in.
type ValidateResult struct {
	Valid                bool            `json:"valid"`
	Reason               string          `json:"reason,omitempty"`
	License              *models.License `json:"license,omitempty"`
	ActivationsRemaining int             `json:"activations_remaining,omitempty"`
	UpdateAvailable      bool            `json:"update_available,omitempty"`
	LatestVersion        string          `json:"latest_version,omitempty"`
	DownloadURL          string          `json:"download_url,omitempty"`
}

// CheckResult is the read-only validity of a license for a domain.
type CheckResult struct {
	Valid     bool   `json:"valid"`
	Reason    string `json:"reason,omitempty"`
	Activated bool   `json:"activated"`
}

// Service implements the activation engine.
type Service struct {
	repo     Repository
	cache    Cache
	users    UserFinder
	notify   Notifier
	log      *slog.Logger
	metrics  *metrics.Metrics
	cacheTTL time.Duration
	now      func() time.Time
	newKey   func() (string, error)
}

// New builds a Service. cache may be nil, in which case every plugin lookup
// goes to the repository.
func New(repo Repository, cache Cache, users UserFinder, notify Notifier, log *slog.Logger, m *metrics.Metrics, opts Options) *Service {
	if m == nil {
		m = metrics.Noop()
	}
	s := &Service{
		repo:     repo,
		cache:    cache,
		users:    users,
		notify:   notify,
		log:      log,
		metrics:  m,
		cacheTTL: opts.PluginCacheTTL,
		now:      opts.Clock,
		newKey:   opts.KeyGenerator,
	}
	if s.cacheTTL <= 0 {
		s.cacheTTL = defaultPluginCacheTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newKey == nil {
		s.newKey = licensekey.Generate
	}
	return s
}

func invalidReason(l *models.License, now time.Time) string {
	switch l.Status {
	case models.LicenseSuspended:
		return ReasonSuspended
	case models.LicenseCancelled:
		return ReasonCancelled
	case models.LicenseExpired:
		return ReasonExpired
	}
	if l.ExpiresAt != nil && !l.ExpiresAt.After(now) {
		return ReasonExpired
	}
	return ReasonCancelled
}

// capacityReason explains a refused activation from a fresh read of the
// license.
func (s *Service) capacityReason(ctx context.Context, log *slog.Logger, key string, now time.Time) string {
	l, err := s.repo.GetLicenseByKey(ctx, key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return ReasonInvalidKey
	case err != nil:
		log.Warn("failed to reload license", sl.Err(err))
		return ReasonLimitReached
	case !l.IsValid(now):
		return invalidReason(l, now)
	}
	return ReasonLimitReached
}

func (s *Service) reject(reason string) *ValidateResult {
	s.metrics.LicenseValidations.WithLabelValues(reason).Inc()
	return &ValidateResult{Valid: false, Reason: reason}
}

// Validate checks a license for the calling plugin and claims a slot for
// the domain when it holds none yet. Domain problems come back as a result
// with a reason, not as an error.
func (s *Service) Validate(ctx context.Context, in ValidateInput) (*ValidateResult, error) {
	const op = "license.Validate"
	if err := in.Validate(); err != nil {
		return nil, err
	}
	log := s.log.With(slog.String("op", op))

	key := licensekey.Normalize(in.LicenseKey)
	domain := models.NormalizeDomain(in.Domain)
	if !licensekey.Valid(key) {
		return s.reject(ReasonInvalidKey), nil
	}

	l, err := s.repo.GetLicenseByKey(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return s.reject(ReasonInvalidKey), nil
		}
		return nil, fmt.Errorf("%s: %w", op, apperr.External("failed to load license", err))
	}

	slug := strings.ToLower(strings.TrimSpace(in.PluginSlug))
	if slug != "" && slug != l.PluginSlug {
		return s.reject(ReasonPluginMismatch), nil
	}

	now := s.now()
	if !l.IsValid(now) {
		return s.reject(invalidReason(l, now)), nil
	}
	if !l.CanActivate(domain, now) {
		return s.reject(ReasonLimitReached), nil
	}

	res, err := s.repo.ActivateDomain(ctx, l.ID, models.Activation{
		Domain:    domain,
		IP:        in.IP,
		UserAgent: in.UserAgent,
	}, now)
	if err != nil {
		if errors.Is(err, storage.ErrCapacity) {
			return s.reject(s.capacityReason(ctx, log, key, now)), nil
		}
		return nil, fmt.Errorf("%s: %w", op, apperr.External("failed to activate domain", err))
	}
	applyActivation(l, res, domain, in, now)

	if err := s.repo.TouchLicense(ctx, l.ID, now); err != nil {
		log.Warn("failed to stamp license check", slog.String("license_id", l.ID), sl.Err(err))
	} else {
		l.LastCheckedAt = &now
	}
	if res == storage.Activated {
		log.Info("domain activated", slog.String("license_id", l.ID), slog.String("domain", domain))
	}

	result := &ValidateResult{
		Valid:                true,
		License:              l,
		ActivationsRemaining: l.RemainingActivations(),
	}
	if p, err := s.plugin(ctx, l.PluginSlug); err != nil {
		log.Warn("failed to load plugin metadata", slog.String("slug", l.PluginSlug), sl.Err(err))
	} else {
		result.LatestVersion = p.Version
		if in.PluginVersion != "" && p.UpdateAvailable(in.PluginVersion) {
			result.UpdateAvailable = true
			result.DownloadURL = p.DownloadURL
		}
	}
	s.metrics.LicenseValidations.WithLabelValues(resultValid).Inc()
	return result, nil
}

// applyActivation mirrors the stored outcome on the in-memory license so the
// caller sees the state without a second read.
func applyActivation(l *models.License, res storage.ActivationResult, domain string, in ValidateInput, now time.Time) {
	if a := l.FindActiveActivation(domain); a != nil {
		a.LastSeenAt = now
		return
	}
	l.Activations = append(l.Activations, models.Activation{
		LicenseID:   l.ID,
		Domain:      domain,
		ActivatedAt: now,
		LastSeenAt:  now,
		Active:      true,
		IP:          in.IP,
		UserAgent:   in.UserAgent,
	})
	if res == storage.Activated {
		l.ActivationsCount++
	}
}

// Deactivate frees the slot held by the domain. It reports false when the
// domain held none.
func (s *Service) Deactivate(ctx context.Context, in DeactivateInput) (bool, error) {
	const op = "license.Deactivate"
	if err := in.Validate(); err != nil {
		return false, err
	}
	l, err := s.license(ctx, op, in.LicenseKey)
	if err != nil {
		return false, err
	}
	domain := models.NormalizeDomain(in.Domain)
	released, err := s.repo.DeactivateDomain(ctx, l.ID, domain, s.now())
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, apperr.External("failed to deactivate domain", err))
	}
	if released {
		s.log.Info("domain deactivated", slog.String("op", op), slog.String("license_id", l.ID), slog.String("domain", domain))
	}
	return released, nil
}

// Check reports whether the license is valid and the domain holds a slot,
// without changing anything.
func (s *Service) Check(ctx context.Context, key, domain string) (*CheckResult, error) {
	const op = "license.Check"
	key = licensekey.Normalize(key)
	if !licensekey.Valid(key) {
		return &CheckResult{Reason: ReasonInvalidKey}, nil
	}
	l, err := s.repo.GetLicenseByKey(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &CheckResult{Reason: ReasonInvalidKey}, nil
		}
		return nil, fmt.Errorf("%s: %w", op, apperr.External("failed to load license", err))
	}

	now := s.now()
	if !l.IsValid(now) {
		return &CheckResult{Reason: invalidReason(l, now)}, nil
	}
	if domain == "" {
		return &CheckResult{Valid: true}, nil
	}
	if l.FindActiveActivation(domain) == nil {
		return &CheckResult{Valid: true, Reason: ReasonNotActivated}, nil
	}
	return &CheckResult{Valid: true, Activated: true}, nil
}

// ListForUser returns the licenses owned by userID.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]models.License, error) {
	const op = "license.ListForUser"
	licenses, err := s.repo.ListLicensesByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, apperr.External("failed to list licenses", err))
	}
	if licenses == nil {
		licenses = []models.License{}
	}
	return licenses, nil
}

// Issue provisions a license under a fresh key and mails it to the owner.
// A key collision is retried with a new key.
func (s *Service) Issue(ctx context.Context, in IssueInput) (*models.License, error) {
	const op = "license.Issue"
	if err := in.Validate(); err != nil {
		return nil, err
	}
	log := s.log.With(slog.String("op", op))

	owner, err := s.users.FindByID(ctx, in.UserID)
	if err != nil {
		if errors.Is(err, credentials.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, apperr.External("failed to load user", err))
	}
	p, err := s.plugin(ctx, in.PluginSlug)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrPluginNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, apperr.External("failed to load plugin", err))
	}

	limit := in.ActivationsLimit
	if limit == 0 || in.Type == models.LicenseUnlimited {
		limit = in.Type.DefaultActivationsLimit()
	}
	currency := strings.ToUpper(in.Currency)
	if currency == "" {
		currency = p.Currency
	}

	l := &models.License{
		UserID:           owner.ID,
		PluginID:         p.ID,
		PluginSlug:       p.Slug,
		Type:             in.Type,
		Status:           models.LicenseActive,
		ActivationsLimit: limit,
		Activations:      []models.Activation{},
		PurchasedAt:      s.now(),
		ExpiresAt:        in.ExpiresAt,
		OrderID:          in.OrderID,
		Amount:           in.Amount,
		Currency:         currency,
	}

	for attempt := 1; ; attempt++ {
		key, err := s.newKey()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		l.Key = key
		err = s.repo.CreateLicense(ctx, l)
		if err == nil {
			break
		}
		if !errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("%s: %w", op, apperr.External("failed to create license", err))
		}
		log.Warn("license key collision", slog.Int("attempt", attempt))
		if attempt == maxKeyAttempts {
			return nil, ErrKeySpaceConflict
		}
	}

	log.Info("license issued", slog.String("license_id", l.ID), slog.String("user_id", owner.ID), slog.String("plugin", p.Slug))
	s.notify.Notify(models.MailJob{
		Kind:  models.MailLicenseIssued,
		To:    owner.Email,
		Name:  owner.Name,
		Token: l.Key,
		Extra: p.Name,
	})
	return l, nil
}

// SetStatus changes the lifecycle status of the license with key.
func (s *Service) SetStatus(ctx context.Context, key string, in StatusInput) (*models.License, error) {
	const op = "license.SetStatus"
	if err := in.Validate(); err != nil {
		return nil, err
	}
	key = licensekey.Normalize(key)
	if err := s.repo.SetLicenseStatus(ctx, key, in.Status); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrLicenseNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, apperr.External("failed to update license", err))
	}
	return s.license(ctx, op, key)
}

// CreatePlugin registers a plugin. New plugins start as drafts.
func (s *Service) CreatePlugin(ctx context.Context, in PluginInput) (*models.Plugin, error) {
	const op = "license.CreatePlugin"
	if err := in.Validate(); err != nil {
		return nil, err
	}
	p := &models.Plugin{
		Name:        strings.TrimSpace(in.Name),
		Slug:        in.Slug,
		Description: in.Description,
		Version:     in.Version,
		Status:      in.Status,
		Price:       in.Price,
		Currency:    strings.ToUpper(in.Currency),
		DownloadURL: in.DownloadURL,
	}
	if p.Status == "" {
		p.Status = models.PluginDraft
	}
	if p.Currency == "" {
		p.Currency = "USD"
	}
	if err := s.repo.CreatePlugin(ctx, p); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, ErrPluginExists
		}
		return nil, fmt.Errorf("%s: %w", op, apperr.External("failed to create plugin", err))
	}
	s.forget(ctx, p.Slug)
	return p, nil
}

// PublishVersion moves the catalog version of slug forward.
func (s *Service) PublishVersion(ctx context.Context, slug string, in VersionInput) (*models.Plugin, error) {
	const op = "license.PublishVersion"
	if err := in.Validate(); err != nil {
		return nil, err
	}
	p, err := s.repo.UpdatePluginVersion(ctx, slug, in.Version)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrPluginNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, apperr.External("failed to update plugin", err))
	}
	s.forget(ctx, slug)
	return p, nil
}

func (s *Service) license(ctx context.Context, op, key string) (*models.License, error) {
	l, err := s.repo.GetLicenseByKey(ctx, licensekey.Normalize(key))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrLicenseNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, apperr.External("failed to load license", err))
	}
	return l, nil
}

// plugin reads through the cache. Cache failures fall back to the repository.
func (s *Service) plugin(ctx context.Context, slug string) (*models.Plugin, error) {
	key := pluginCachePrefix + slug
	if s.cache != nil {
		var cached models.Plugin
		found, err := s.cache.Get(ctx, key, &cached)
		if err != nil {
			s.log.Warn("plugin cache read failed", slog.String("slug", slug), sl.Err(err))
		} else if found {
			return &cached, nil
		}
	}

	p, err := s.repo.GetPluginBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, p, s.cacheTTL); err != nil {
			s.log.Warn("plugin cache write failed", slog.String("slug", slug), sl.Err(err))
		}
	}
	return p, nil
}

func (s *Service) forget(ctx context.Context, slug string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, pluginCachePrefix+slug); err != nil {
		s.log.Warn("plugin cache invalidation failed", slog.String("slug", slug), sl.Err(err))
	}
}
