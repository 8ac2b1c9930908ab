package models

import "time"

// MailKind selects the template the mail sender renders.
type MailKind string

// Mail kinds.
const (
	MailVerifyEmail     MailKind = "verify_email"
	MailResetPassword   MailKind = "reset_password"
	MailPasswordChanged MailKind = "password_changed"
	MailTwoFactorOn     MailKind = "two_factor_enabled"
	MailLicenseIssued   MailKind = "license_issued"
)

// MailJob is the message placed on the mail queue.
type MailJob struct {
	Kind      MailKind  `json:"kind"`
	To        string    `json:"to"`
	Name      string    `json:"name"`
	Link      string    `json:"link,omitempty"`
	Token     string    `json:"token,omitempty"`
	Extra     string    `json:"extra,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
