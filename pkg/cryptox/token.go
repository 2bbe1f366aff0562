package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// Token sizes in bytes before encoding.
const (
	TokenSize128 = 16 // 22 chars base64url
	TokenSize256 = 32 // 43 chars base64url, the bearer secret default
	TokenSize512 = 64 // 86 chars base64url
)

// logFingerprintLength is how much of a fingerprint may appear in logs.
const logFingerprintLength = 8

// GenerateToken returns size random bytes from crypto/rand encoded as
// base64url without padding.
func GenerateToken(size int) (string, error) {
	if size <= 0 {
		return "", fmt.Errorf("token size must be positive, got %d", size)
	}

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// FingerprintToken returns the deterministic SHA-256 fingerprint of a token,
// base64url encoded (43 chars). Use it as a lookup key for values that are
// already high entropy, never for passwords.
func FingerprintToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// LogID returns a short, non-reversible identifier for a stored hash or
// secret that is safe to put in logs.
func LogID(value string) string {
	fp := FingerprintToken(value)
	return fp[:logFingerprintLength]
}
