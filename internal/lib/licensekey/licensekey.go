// Package licensekey generates and parses license keys of the form
// XXXX-XXXX-XXXX-XXXX with uppercase hexadecimal segments.
package licensekey

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

const (
	segments    = 4
	segmentSize = 2 // bytes, four hex characters
)

var keyPattern = regexp.MustCompile(`^[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{4}$`)

// Generate returns a random key from crypto/rand.
func Generate() (string, error) {
	const op = "licensekey.Generate"
	buf := make([]byte, segments*segmentSize)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	enc := strings.ToUpper(hex.EncodeToString(buf))
	parts := make([]string, segments)
	for i := range segments {
		parts[i] = enc[i*4 : (i+1)*4]
	}
	return strings.Join(parts, "-"), nil
}

// Normalize trims and uppercases a user supplied key.
func Normalize(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// Valid reports whether key is well formed after normalization.
func Valid(key string) bool {
	return keyPattern.MatchString(Normalize(key))
}
