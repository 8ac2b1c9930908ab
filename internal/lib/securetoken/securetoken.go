// Package securetoken produces random single-use tokens and the digests
// stored in their place.
package securetoken

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DefaultSize is the number of random bytes in a reset or verification token.
const DefaultSize = 32

// Generate returns a hex encoded random token of size bytes and its digest.
// Only the digest should be persisted.
func Generate(size int) (plain, digest string, err error) {
	const op = "securetoken.Generate"
	if size <= 0 {
		size = DefaultSize
	}
	buf := make([]byte, size)
	if _, err = rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("%s: %w", op, err)
	}
	plain = hex.EncodeToString(buf)
	return plain, Hash(plain), nil
}

// Hash returns the lowercase hex SHA-256 digest of s.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
