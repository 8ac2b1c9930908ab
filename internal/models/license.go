package models

import (
	"math"
	"net"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// LicenseType decides the default activation capacity of a license.
type LicenseType string

// License types.
const (
	LicenseSingle    LicenseType = "single"
	LicenseDeveloper LicenseType = "developer"
	LicenseUnlimited LicenseType = "unlimited"
)

// UnlimitedActivations is the capacity stored for unlimited licenses.
const UnlimitedActivations = math.MaxInt32

// Valid reports whether t is a known license type.
func (t LicenseType) Valid() bool {
	switch t {
	case LicenseSingle, LicenseDeveloper, LicenseUnlimited:
		return true
	}
	return false
}

// DefaultActivationsLimit is the capacity used when none is given at issue time.
func (t LicenseType) DefaultActivationsLimit() int {
	switch t {
	case LicenseDeveloper:
		return 5
	case LicenseUnlimited:
		return UnlimitedActivations
	default:
		return 1
	}
}

// LicenseStatus is the lifecycle state of a license.
type LicenseStatus string

// License statuses.
const (
	LicenseActive    LicenseStatus = "active"
	LicenseExpired   LicenseStatus = "expired"
	LicenseSuspended LicenseStatus = "suspended"
	LicenseCancelled LicenseStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s LicenseStatus) Valid() bool {
	switch s {
	case LicenseActive, LicenseExpired, LicenseSuspended, LicenseCancelled:
		return true
	}
	return false
}

// Activation is a license's claim on one domain.
type Activation struct {
	ID          int64     `json:"-"`
	LicenseID   string    `json:"-"`
	Domain      string    `json:"domain"`
	ActivatedAt time.Time `json:"activated_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	Active      bool      `json:"active"`
	IP          string    `json:"-"`
	UserAgent   string    `json:"-"`
}

// License grants a user the right to run a plugin on a bounded number of domains.
type License struct {
	ID               string              `json:"id"`
	Key              string              `json:"key"`
	UserID           string              `json:"user_id"`
	PluginID         string              `json:"plugin_id"`
	PluginSlug       string              `json:"plugin_slug"`
	Type             LicenseType         `json:"type"`
	Status           LicenseStatus       `json:"status"`
	ActivationsLimit int                 `json:"activations_limit"`
	ActivationsCount int                 `json:"activations_count"`
	Activations      []Activation        `json:"activations"`
	PurchasedAt      time.Time           `json:"purchased_at"`
	ExpiresAt        *time.Time          `json:"expires_at,omitempty"`
	LastCheckedAt    *time.Time          `json:"last_checked_at,omitempty"`
	OrderID          string              `json:"order_id,omitempty"`
	Amount           decimal.NullDecimal `json:"amount"`
	Currency         string              `json:"currency"`
	IsDeleted        bool                `json:"-"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// IsValid reports whether the license is active and unexpired at now.
func (l *License) IsValid(now time.Time) bool {
	if l.IsDeleted || l.Status != LicenseActive {
		return false
	}
	return l.ExpiresAt == nil || l.ExpiresAt.After(now)
}

// ActiveActivations counts the activations currently holding a slot.
func (l *License) ActiveActivations() int {
	n := 0
	for _, a := range l.Activations {
		if a.Active {
			n++
		}
	}
	return n
}

// FindActiveActivation returns the active activation for domain, if any.
func (l *License) FindActiveActivation(domain string) *Activation {
	domain = NormalizeDomain(domain)
	for i := range l.Activations {
		if l.Activations[i].Active && l.Activations[i].Domain == domain {
			return &l.Activations[i]
		}
	}
	return nil
}

// CanActivate reports whether domain may run under the license at now.
// A domain that is already active is always accepted without consuming a slot.
func (l *License) CanActivate(domain string, now time.Time) bool {
	if !l.IsValid(now) {
		return false
	}
	if l.FindActiveActivation(domain) != nil {
		return true
	}
	return l.ActiveActivations() < l.ActivationsLimit
}

// RemainingActivations is the number of free slots.
func (l *License) RemainingActivations() int {
	rest := l.ActivationsLimit - l.ActiveActivations()
	if rest < 0 {
		return 0
	}
	return rest
}

// NormalizeDomain reduces user input such as "https://Example.com:8080/wp/"
// to the bare lowercase host "example.com".
func NormalizeDomain(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.Index(d, "://"); i >= 0 {
		d = d[i+3:]
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if i := strings.LastIndex(d, "@"); i >= 0 {
		d = d[i+1:]
	}
	if host, _, err := net.SplitHostPort(d); err == nil {
		d = host
	}
	d = strings.Trim(d, "[]")
	return strings.TrimSuffix(d, ".")
}
