// Package models holds the plain data structures shared by storage,
// services and the transport layers, together with the pure rules that
// operate on them.
package models

import "time"

// Role is the coarse authorization level of an account.
type Role string

// Known roles.
const (
	RoleUser      Role = "user"
	RoleAdmin     Role = "admin"
	RoleDeveloper Role = "developer"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleDeveloper:
		return true
	}
	return false
}

// User is a registered account. Secret material never leaves the service:
// every such field is excluded from JSON.
type User struct {
	ID                       string     `json:"id"`
	Name                     string     `json:"name"`
	Email                    string     `json:"email"`
	PasswordHash             string     `json:"-"`
	Role                     Role       `json:"role"`
	IsEmailVerified          bool       `json:"is_email_verified"`
	EmailVerificationToken   string     `json:"-"` // sha256 digest
	EmailVerificationExpires *time.Time `json:"-"`
	PasswordResetToken       string     `json:"-"` // sha256 digest
	PasswordResetExpires     *time.Time `json:"-"`
	LastLoginAt              *time.Time `json:"last_login_at,omitempty"`
	LoginAttempts            int        `json:"-"`
	LockUntil                *time.Time `json:"-"`
	TwoFactorEnabled         bool       `json:"two_factor_enabled"`
	TwoFactorSecret          string     `json:"-"`
	TwoFactorBackupCodes     []string   `json:"-"` // sha256 digests
	IsDeleted                bool       `json:"-"`
	DeletedAt                *time.Time `json:"-"`
	CreatedAt                time.Time  `json:"created_at"`
	UpdatedAt                time.Time  `json:"updated_at"`

	pendingPassword string
	passwordDirty   bool
}

// SetPassword stages a new plaintext password. It is hashed on the next save.
func (u *User) SetPassword(plain string) {
	u.pendingPassword = plain
	u.passwordDirty = true
}

// PendingPassword returns the staged password, if any.
func (u *User) PendingPassword() (string, bool) {
	return u.pendingPassword, u.passwordDirty
}

// ApplyPasswordHash stores hash and clears the staged password.
func (u *User) ApplyPasswordHash(hash string) {
	u.PasswordHash = hash
	u.pendingPassword = ""
	u.passwordDirty = false
}

// IsLocked reports whether a lockout is in force at now.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockUntil != nil && u.LockUntil.After(now)
}

// PublicUser is the outward projection of a User.
type PublicUser struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Email            string     `json:"email"`
	Role             Role       `json:"role"`
	IsEmailVerified  bool       `json:"is_email_verified"`
	TwoFactorEnabled bool       `json:"two_factor_enabled"`
	LastLoginAt      *time.Time `json:"last_login_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Public strips every secret field.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:               u.ID,
		Name:             u.Name,
		Email:            u.Email,
		Role:             u.Role,
		IsEmailVerified:  u.IsEmailVerified,
		TwoFactorEnabled: u.TwoFactorEnabled,
		LastLoginAt:      u.LastLoginAt,
		CreatedAt:        u.CreatedAt,
	}
}
