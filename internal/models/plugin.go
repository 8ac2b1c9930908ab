package models

import (
	"regexp"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/mod/semver"
)

// PluginStatus is the catalog state of a plugin.
type PluginStatus string

// Plugin statuses.
const (
	PluginDraft     PluginStatus = "draft"
	PluginPublished PluginStatus = "published"
	PluginArchived  PluginStatus = "archived"
)

var (
	slugPattern    = regexp.MustCompile(`^[a-z0-9-]+$`)
	versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
)

// ValidSlug reports whether s may be used as a plugin slug.
func ValidSlug(s string) bool { return slugPattern.MatchString(s) }

// ValidVersion reports whether v has the X.Y.Z form.
func ValidVersion(v string) bool { return versionPattern.MatchString(v) }

// Plugin is a sellable WordPress plugin.
type Plugin struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Slug        string          `json:"slug"`
	Description string          `json:"description"`
	Version     string          `json:"version"`
	Status      PluginStatus    `json:"status"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency"`
	DownloadURL string          `json:"download_url"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// UpdateAvailable reports whether installed is older than the catalog version.
// Unparseable versions never report an update.
func (p *Plugin) UpdateAvailable(installed string) bool {
	latest, current := "v"+p.Version, "v"+installed
	if !semver.IsValid(latest) || !semver.IsValid(current) {
		return false
	}
	return semver.Compare(latest, current) > 0
}
