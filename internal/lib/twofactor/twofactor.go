// Package twofactor implements RFC 6238 TOTP enrollment and verification
// together with single-use backup codes.
package twofactor

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"image/png"
	"net/url"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// DefaultIssuer is shown by authenticator apps next to the account.
	DefaultIssuer = "Kollabor8 Platform"
	// DefaultBackupCodes is how many backup codes a setup produces.
	DefaultBackupCodes = 8

	period     = 30
	skew       = 1
	qrSize     = 256
	backupSize = 4
)

var validateOpts = totp.ValidateOpts{
	Period:    period,
	Skew:      skew,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// TOTP generates and checks time based one-time passwords.
type TOTP struct {
	issuer string
	now    func() time.Time
}

// New returns a TOTP using issuer as the label in provisioning URIs.
func New(issuer string) *TOTP {
	if issuer == "" {
		issuer = DefaultIssuer
	}
	return &TOTP{issuer: issuer, now: time.Now}
}

// GenerateSecret returns a fresh base32 secret for account.
func (t *TOTP) GenerateSecret(account string) (string, error) {
	const op = "twofactor.GenerateSecret"
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.issuer,
		AccountName: account,
		Period:      period,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return key.Secret(), nil
}

// ProvisioningURI builds the otpauth:// URI an authenticator app imports.
func (t *TOTP) ProvisioningURI(account, secret string) string {
	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", t.issuer)
	v.Set("algorithm", "SHA1")
	v.Set("digits", "6")
	v.Set("period", fmt.Sprint(period))
	u := url.URL{
		Scheme:   "otpauth",
		Host:     "totp",
		Path:     "/" + t.issuer + ":" + account,
		RawQuery: v.Encode(),
	}
	return u.String()
}

// GenerateQRCode renders the provisioning URI as a PNG data URL.
func (t *TOTP) GenerateQRCode(account, secret string) (string, error) {
	const op = "twofactor.GenerateQRCode"
	key, err := otp.NewKeyFromURL(t.ProvisioningURI(account, secret))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	img, err := key.Image(qrSize, qrSize)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// VerifyToken checks a 6 digit code against secret allowing one step of
// clock drift either way.
func (t *TOTP) VerifyToken(code, secret string) bool {
	code = strings.TrimSpace(code)
	if len(code) != 6 || secret == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, t.now().UTC(), validateOpts)
	return err == nil && ok
}

// GenerateCode returns the code valid for secret at the given instant.
func GenerateCode(secret string, at time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, at.UTC(), validateOpts)
}

// GenerateBackupCodes returns count codes of 8 uppercase hex characters.
func GenerateBackupCodes(count int) ([]string, error) {
	const op = "twofactor.GenerateBackupCodes"
	if count <= 0 {
		count = DefaultBackupCodes
	}
	codes := make([]string, 0, count)
	buf := make([]byte, backupSize)
	for range count {
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		codes = append(codes, strings.ToUpper(hex.EncodeToString(buf)))
	}
	return codes, nil
}

// HashBackupCode returns the digest stored for a backup code. Input is
// trimmed and uppercased so codes are accepted in any case.
func HashBackupCode(code string) string {
	sum := sha256.Sum256([]byte(strings.ToUpper(strings.TrimSpace(code))))
	return hex.EncodeToString(sum[:])
}

// HashBackupCodes hashes every code in order.
func HashBackupCodes(codes []string) []string {
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = HashBackupCode(c)
	}
	return out
}

// VerifyBackupCode reports whether code matches one of the stored digests
// and returns that digest.
func VerifyBackupCode(code string, digests []string) (string, bool) {
	if strings.TrimSpace(code) == "" {
		return "", false
	}
	h := HashBackupCode(code)
	for _, d := range digests {
		if d == h {
			return d, true
		}
	}
	return "", false
}
