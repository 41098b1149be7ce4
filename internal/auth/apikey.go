// Package auth provides the credential primitives for the trust core: API key
// generation, keyed hashing, display masking, and bearer-token extraction.
// Request-time resolution of a bearer token to a Principal lives in
// resolver.go; the Gin middleware that invokes it is in internal/middleware.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// APIKeyPrefix is the fixed prefix of every issued key.
	APIKeyPrefix = "clsk_live_"

	// APIKeyRandomBytes is the length of the random part in bytes; hex-encoded
	// it yields 64 characters after the prefix.
	APIKeyRandomBytes = 32
)

// GenerateAPIKey creates a new random API key of the shape
// "clsk_live_" + 64 hex characters. The plaintext exists only at issuance and
// inside a one-time reveal token; it is never persisted.
func GenerateAPIKey() (string, error) {
	randomBytes := make([]byte, APIKeyRandomBytes)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return APIKeyPrefix + hex.EncodeToString(randomBytes), nil
}

// HashAPIKey computes the keyed HMAC-SHA256 hash of a key. All stored hashes
// and all lookups use this function.
func HashAPIKey(value, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

// LegacyHashAPIKey computes the unkeyed SHA-256 hash used before keyed hashing
// was introduced. It exists solely to validate pre-migration keys and must not
// be used for newly issued keys.
func LegacyHashAPIKey(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// MaskAPIKey renders a key for display. Short values (<=10 chars, test keys)
// are returned verbatim; otherwise only the first 6 and last 4 characters
// survive.
func MaskAPIKey(value string) string {
	if len(value) <= 10 {
		return value
	}
	return value[:6] + "..." + value[len(value)-4:]
}

// BuildAPIKeyPrefix builds the longer display prefix stored alongside the
// hash: the first min(10, len) characters, "****", then the last 4. An empty
// input yields "unknown_****".
func BuildAPIKeyPrefix(value string) string {
	if value == "" {
		return "unknown_****"
	}
	head := value
	if len(value) > 10 {
		head = value[:10]
	}
	prefix := head + "****"
	if len(value) >= 4 {
		prefix += value[len(value)-4:]
	}
	return prefix
}

// ExtractBearerToken extracts the token from an Authorization header value.
// The "Bearer" scheme is matched case-insensitively. Returns "" when the
// header is absent, malformed, or carries an empty token.
func ExtractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	const scheme = "bearer "
	if len(header) < len(scheme) || !strings.EqualFold(header[:len(scheme)], scheme) {
		return ""
	}
	return strings.TrimSpace(header[len(scheme):])
}
