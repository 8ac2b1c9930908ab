// Package jwt signs and verifies the access and refresh tokens handed out
// by the authentication service.
//
// Access and refresh tokens are signed with different secrets, so a refresh
// token can never be presented where an access token is expected and the
// other way round.
package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType distinguishes access from refresh tokens inside the claims.
type TokenType string

// Token types carried in the typ claim.
const (
	AccessToken  TokenType = "access"
	RefreshToken TokenType = "refresh"
)

var (
	// ErrTokenExpired is returned when the signature is good but exp is in the past.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid covers every other verification failure.
	ErrTokenInvalid = errors.New("token invalid")
)

// Payload is the identity embedded into a token.
type Payload struct {
	UserID string
	Email  string
	Role   string
}

// Claims is the full claim set of an issued token.
type Claims struct {
	Email string    `json:"email"`
	Role  string    `json:"role"`
	Type  TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// Payload returns the identity part of the claims.
func (c *Claims) Payload() Payload {
	return Payload{UserID: c.Subject, Email: c.Email, Role: c.Role}
}

// Maker issues and verifies tokens.
type Maker struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string
	now           func() time.Time
}

// NewMaker builds a Maker. accessSecret and refreshSecret must differ.
func NewMaker(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration, issuer string) *Maker {
	return &Maker{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		issuer:        issuer,
		now:           time.Now,
	}
}

// AccessTTL reports the lifetime of access tokens.
func (m *Maker) AccessTTL() time.Duration { return m.accessTTL }

// RefreshTTL reports the lifetime of refresh tokens.
func (m *Maker) RefreshTTL() time.Duration { return m.refreshTTL }

// GenerateAccessToken signs a short lived access token.
func (m *Maker) GenerateAccessToken(p Payload) (string, error) {
	return m.generate(p, AccessToken, m.accessSecret, m.accessTTL)
}

// GenerateRefreshToken signs a long lived refresh token.
func (m *Maker) GenerateRefreshToken(p Payload) (string, error) {
	return m.generate(p, RefreshToken, m.refreshSecret, m.refreshTTL)
}

func (m *Maker) generate(p Payload, typ TokenType, secret []byte, ttl time.Duration) (string, error) {
	const op = "jwt.generate"
	now := m.now()
	claims := Claims{
		Email: p.Email,
		Role:  p.Role,
		Type:  typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   p.UserID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return signed, nil
}

// VerifyAccessToken checks signature, expiry and type of an access token.
func (m *Maker) VerifyAccessToken(token string) (*Claims, error) {
	return m.verify(token, AccessToken, m.accessSecret)
}

// VerifyRefreshToken checks signature, expiry and type of a refresh token.
func (m *Maker) VerifyRefreshToken(token string) (*Claims, error) {
	return m.verify(token, RefreshToken, m.refreshSecret)
}

func (m *Maker) verify(token string, typ TokenType, secret []byte) (*Claims, error) {
	const op = "jwt.verify"
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%s: %w", op, ErrTokenExpired)
		}
		return nil, fmt.Errorf("%s: %w: %v", op, ErrTokenInvalid, err)
	}
	if !parsed.Valid || claims.Type != typ || claims.Subject == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrTokenInvalid)
	}
	return claims, nil
}

// DecodeToken reads the claims without checking the signature. The result
// must never be used for authorization decisions.
func (m *Maker) DecodeToken(token string) (*Claims, error) {
	const op = "jwt.DecodeToken"
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrTokenInvalid, err)
	}
	return claims, nil
}
