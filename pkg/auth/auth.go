package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMissingAPIKey = errors.New("missing API key")
	ErrInvalidAPIKey = errors.New("invalid API key")
)

// KeyVerifier validates presented API keys against a configured bcrypt
// hash. An empty hash disables verification entirely.
type KeyVerifier struct {
	hash string

	mu       sync.RWMutex
	validKey string
}

// NewKeyVerifier creates a verifier for the given bcrypt hash
func NewKeyVerifier(bcryptHash string) *KeyVerifier {
	return &KeyVerifier{hash: bcryptHash}
}

// Enabled reports whether key verification is configured
func (v *KeyVerifier) Enabled() bool {
	return v.hash != ""
}

// Verify checks a presented key. bcrypt verification is expensive, so
// the key that last passed is remembered and re-checked with a
// constant-time compare.
func (v *KeyVerifier) Verify(key string) error {
	if v.hash == "" {
		return nil
	}
	if key == "" {
		return ErrMissingAPIKey
	}

	v.mu.RLock()
	cached := v.validKey
	v.mu.RUnlock()
	if cached != "" && SecureCompare(cached, key) {
		return nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(v.hash), []byte(key)); err != nil {
		return ErrInvalidAPIKey
	}

	v.mu.Lock()
	v.validKey = key
	v.mu.Unlock()
	return nil
}

// GenerateAPIKey generates a random API key and its bcrypt hash for
// server configuration
func GenerateAPIKey() (key, hash string, err error) {
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate API key: %w", err)
	}

	key = base64.URLEncoding.EncodeToString(keyBytes)

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash API key: %w", err)
	}

	return key, string(hashBytes), nil
}

// ExtractKey pulls the API key from a request: X-API-Key header first,
// then an Authorization bearer token
func ExtractKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}

	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimPrefix(authz, "Bearer ")
	}
	return ""
}

// SecureCompare performs constant-time comparison
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
