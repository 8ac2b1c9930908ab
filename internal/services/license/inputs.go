package license

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/magabrotheeeer/plugin-licensing/internal/lib/licensekey"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/validation"
	"github.com/magabrotheeeer/plugin-licensing/internal/models"
)

// ValidateInput is sent by a plugin on every check-in. IP and UserAgent are
// filled in by the transport.
type ValidateInput struct {
	LicenseKey    string `json:"license_key" validate:"required,max=32"`
	Domain        string `json:"domain" validate:"required,max=253"`
	PluginSlug    string `json:"plugin_slug,omitempty" validate:"omitempty,max=100"`
	PluginVersion string `json:"plugin_version,omitempty" validate:"omitempty,max=32"`
	IP            string `json:"-"`
	UserAgent     string `json:"-"`
}

// Validate checks the form. A well formed but unknown key is not a
// validation error.
func (in ValidateInput) Validate() error {
	errs := validation.Errors(validation.Struct(in))
	if in.Domain != "" && models.NormalizeDomain(in.Domain) == "" {
		errs.Add("domain", "is invalid")
	}
	return errs.Err()
}

// DeactivateInput releases a domain.
type DeactivateInput struct {
	LicenseKey string `json:"license_key" validate:"required,max=32"`
	Domain     string `json:"domain" validate:"required,max=253"`
}

// Validate checks the form.
func (in DeactivateInput) Validate() error {
	errs := validation.Errors(validation.Struct(in))
	if in.LicenseKey != "" && !licensekey.Valid(in.LicenseKey) {
		errs.Add("license_key", "must have the form XXXX-XXXX-XXXX-XXXX")
	}
	return errs.Err()
}

// IssueInput provisions a license for a user.
type IssueInput struct {
	UserID           string              `json:"user_id" validate:"required,uuid"`
	PluginSlug       string              `json:"plugin_slug" validate:"required"`
	Type             models.LicenseType  `json:"type" validate:"required,oneof=single developer unlimited"`
	ActivationsLimit int                 `json:"activations_limit,omitempty" validate:"gte=0"`
	ExpiresAt        *time.Time          `json:"expires_at,omitempty"`
	OrderID          string              `json:"order_id,omitempty" validate:"max=100"`
	Amount           decimal.NullDecimal `json:"amount"`
	Currency         string              `json:"currency,omitempty" validate:"omitempty,len=3"`
}

// Validate checks the form.
func (in IssueInput) Validate() error {
	errs := validation.Errors(validation.Struct(in))
	if in.Amount.Valid && in.Amount.Decimal.IsNegative() {
		errs.Add("amount", "must not be negative")
	}
	return errs.Err()
}

// StatusInput changes the lifecycle status of a license.
type StatusInput struct {
	Status models.LicenseStatus `json:"status" validate:"required,oneof=active expired suspended cancelled"`
}

// Validate checks the form.
func (in StatusInput) Validate() error {
	return validation.Errors(validation.Struct(in)).Err()
}

// PluginInput registers a plugin in the catalog.
type PluginInput struct {
	Name        string              `json:"name" validate:"required,min=3,max=100"`
	Slug        string              `json:"slug" validate:"required,max=100"`
	Description string              `json:"description,omitempty" validate:"max=2000"`
	Version     string              `json:"version" validate:"required"`
	Status      models.PluginStatus `json:"status,omitempty" validate:"omitempty,oneof=draft published archived"`
	Price       decimal.Decimal     `json:"price"`
	Currency    string              `json:"currency,omitempty" validate:"omitempty,len=3"`
	DownloadURL string              `json:"download_url,omitempty" validate:"omitempty,url"`
}

// Validate checks the form together with the slug and version formats.
func (in PluginInput) Validate() error {
	errs := validation.Errors(validation.Struct(in))
	if in.Slug != "" && !models.ValidSlug(in.Slug) {
		errs.Add("slug", "must contain only lowercase letters, digits and hyphens")
	}
	if in.Version != "" && !models.ValidVersion(in.Version) {
		errs.Add("version", "must have the form X.Y.Z")
	}
	if in.Price.IsNegative() {
		errs.Add("price", "must not be negative")
	}
	return errs.Err()
}

// VersionInput publishes a new plugin version.
type VersionInput struct {
	Version string `json:"version" validate:"required"`
}

// Validate checks the version format.
func (in VersionInput) Validate() error {
	errs := validation.Errors(validation.Struct(in))
	if in.Version != "" && !models.ValidVersion(in.Version) {
		errs.Add("version", "must have the form X.Y.Z")
	}
	return errs.Err()
}
