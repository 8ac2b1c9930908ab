package models

import "time"

// RefreshToken is the persisted record of an issued refresh token. The
// token itself is never stored, only its digest.
type RefreshToken struct {
	ID              string
	UserID          string
	TokenHash       string
	ExpiresAt       time.Time
	IsRevoked       bool
	RevokedAt       *time.Time
	ReplacedByToken string // digest of the successor after rotation
	IP              string
	UserAgent       string
	IsDeleted       bool
	CreatedAt       time.Time
}

// IsValid reports whether the token can still be exchanged at now.
func (t *RefreshToken) IsValid(now time.Time) bool {
	return !t.IsRevoked && !t.IsDeleted && now.Before(t.ExpiresAt)
}

// TokenPair is what a successful login or refresh hands back.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}
