package twofactor

import (
	"encoding/base64"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTOTP_GenerateSecretAndVerify(t *testing.T) {
	tf := New("")
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tf.now = func() time.Time { return now }

	secret, err := tf.GenerateSecret("user@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, secret)

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{name: "current step", at: now, want: true},
		{name: "previous step", at: now.Add(-30 * time.Second), want: true},
		{name: "next step", at: now.Add(30 * time.Second), want: true},
		{name: "two steps behind", at: now.Add(-90 * time.Second), want: false},
		{name: "two steps ahead", at: now.Add(90 * time.Second), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := GenerateCode(secret, tt.at)
			require.NoError(t, err)
			assert.Equal(t, tt.want, tf.VerifyToken(code, secret))
		})
	}
}

func TestTOTP_VerifyRejectsMalformed(t *testing.T) {
	tf := New("")
	secret, err := tf.GenerateSecret("user@example.com")
	require.NoError(t, err)

	assert.False(t, tf.VerifyToken("", secret))
	assert.False(t, tf.VerifyToken("12345", secret))
	assert.False(t, tf.VerifyToken("abcdef", secret))
	assert.False(t, tf.VerifyToken("123456", ""))
}

func TestTOTP_ProvisioningURI(t *testing.T) {
	tf := New(DefaultIssuer)
	uri := tf.ProvisioningURI("user@example.com", "JBSWY3DPEHPK3PXP")

	u, err := url.Parse(uri)
	require.NoError(t, err)
	assert.Equal(t, "otpauth", u.Scheme)
	assert.Equal(t, "totp", u.Host)
	assert.Equal(t, "/Kollabor8 Platform:user@example.com", u.Path)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", u.Query().Get("secret"))
	assert.Equal(t, DefaultIssuer, u.Query().Get("issuer"))
}

func TestTOTP_GenerateQRCode(t *testing.T) {
	tf := New("")
	secret, err := tf.GenerateSecret("user@example.com")
	require.NoError(t, err)

	qr, err := tf.GenerateQRCode("user@example.com", secret)
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(qr, "data:image/png;base64,"))
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(qr, "data:image/png;base64,"))
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG", string(raw[:4]))
}

func TestGenerateBackupCodes(t *testing.T) {
	codes, err := GenerateBackupCodes(0)
	require.NoError(t, err)
	require.Len(t, codes, DefaultBackupCodes)

	re := regexp.MustCompile(`^[0-9A-F]{8}$`)
	for _, c := range codes {
		assert.Regexp(t, re, c)
	}
}

func TestVerifyBackupCode(t *testing.T) {
	codes := []string{"ABCD1234", "DEADBEEF"}
	digests := HashBackupCodes(codes)

	tests := []struct {
		name   string
		code   string
		wantOK bool
	}{
		{name: "exact", code: "ABCD1234", wantOK: true},
		{name: "lowercase and spaces", code: "  deadbeef ", wantOK: true},
		{name: "unknown", code: "00000000", wantOK: false},
		{name: "empty", code: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			digest, ok := VerifyBackupCode(tt.code, digests)
			assert.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, HashBackupCode(tt.code), digest)
			}
		})
	}
}
