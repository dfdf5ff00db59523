// Package auth covers API key verification, admin login sessions, and
// CSRF token issuance for the control plane.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"time"

	"github.com/third-eye/thirdeye/pkg/models"
)

// HeaderAPIKey carries the raw key secret on every authenticated request.
const HeaderAPIKey = "X-API-Key"

var (
	ErrMissingKey = errors.New("missing API key")
	ErrInvalidKey = errors.New("invalid API key")
	ErrKeyRevoked = errors.New("API key revoked")
	ErrKeyExpired = errors.New("API key expired")
)

// KeyStore resolves stored keys by secret hash. Implemented by the
// persistence adapter.
type KeyStore interface {
	FetchKeyByHash(ctx context.Context, hashedSecret string) (models.APIKey, error)
	TouchKey(ctx context.Context, keyID string, at time.Time) error
}

// HashAPIKey returns the hex SHA-256 of a raw key secret. Only the hash is
// ever stored or compared.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// GenerateAPIKey mints a new raw key secret.
func GenerateAPIKey() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic("auth: crypto/rand unavailable: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// Authenticator verifies raw key secrets against the key store.
type Authenticator struct {
	keys KeyStore
	now  func() time.Time
}

// NewAuthenticator creates an Authenticator backed by the given key store.
func NewAuthenticator(keys KeyStore) *Authenticator {
	return &Authenticator{keys: keys, now: time.Now}
}

// WithClock injects a time source for tests.
func (a *Authenticator) WithClock(now func() time.Time) *Authenticator {
	a.now = now
	return a
}

// Verify resolves a raw secret to its stored key, rejecting missing,
// unknown, revoked, and expired keys. Successful lookups stamp the key's
// last-used time.
func (a *Authenticator) Verify(ctx context.Context, rawKey string) (models.APIKey, error) {
	if rawKey == "" {
		return models.APIKey{}, ErrMissingKey
	}
	key, err := a.keys.FetchKeyByHash(ctx, HashAPIKey(rawKey))
	if err != nil {
		return models.APIKey{}, ErrInvalidKey
	}
	if key.Revoked() {
		return models.APIKey{}, ErrKeyRevoked
	}
	if key.Expired(a.now()) {
		return models.APIKey{}, ErrKeyExpired
	}
	if err := a.keys.TouchKey(ctx, key.ID, a.now()); err != nil {
		// Last-used bookkeeping must not fail the request.
		return key, nil
	}
	return key, nil
}
