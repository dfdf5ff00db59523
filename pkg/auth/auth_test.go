package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/third-eye/thirdeye/pkg/models"
)

type fakeKeyStore struct {
	keys    map[string]models.APIKey // hashed secret → key
	touched []string
}

func (f *fakeKeyStore) FetchKeyByHash(_ context.Context, hashedSecret string) (models.APIKey, error) {
	key, ok := f.keys[hashedSecret]
	if !ok {
		return models.APIKey{}, errors.New("no such key")
	}
	return key, nil
}

func (f *fakeKeyStore) TouchKey(_ context.Context, keyID string, _ time.Time) error {
	f.touched = append(f.touched, keyID)
	return nil
}

func newKeyFixture(t *testing.T) (*fakeKeyStore, string) {
	t.Helper()
	raw := GenerateAPIKey()
	store := &fakeKeyStore{keys: map[string]models.APIKey{
		HashAPIKey(raw): {ID: "key-1", HashedSecret: HashAPIKey(raw), Role: models.RoleConsumer, TenantID: "acme"},
	}}
	return store, raw
}

func TestAuthenticator_Verify(t *testing.T) {
	ctx := context.Background()

	t.Run("valid key resolves and touches", func(t *testing.T) {
		store, raw := newKeyFixture(t)
		a := NewAuthenticator(store)

		key, err := a.Verify(ctx, raw)
		require.NoError(t, err)
		assert.Equal(t, "key-1", key.ID)
		assert.Equal(t, "acme", key.TenantID)
		assert.Equal(t, []string{"key-1"}, store.touched)
	})

	t.Run("empty key", func(t *testing.T) {
		store, _ := newKeyFixture(t)
		_, err := NewAuthenticator(store).Verify(ctx, "")
		assert.ErrorIs(t, err, ErrMissingKey)
	})

	t.Run("unknown key", func(t *testing.T) {
		store, _ := newKeyFixture(t)
		_, err := NewAuthenticator(store).Verify(ctx, "not-a-key")
		assert.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("revoked key", func(t *testing.T) {
		store, raw := newKeyFixture(t)
		now := time.Now()
		key := store.keys[HashAPIKey(raw)]
		key.RevokedAt = &now
		store.keys[HashAPIKey(raw)] = key

		_, err := NewAuthenticator(store).Verify(ctx, raw)
		assert.ErrorIs(t, err, ErrKeyRevoked)
	})

	t.Run("expired key", func(t *testing.T) {
		store, raw := newKeyFixture(t)
		past := time.Now().Add(-time.Minute)
		key := store.keys[HashAPIKey(raw)]
		key.ExpiresAt = &past
		store.keys[HashAPIKey(raw)] = key

		_, err := NewAuthenticator(store).Verify(ctx, raw)
		assert.ErrorIs(t, err, ErrKeyExpired)
	})
}

func TestHashAPIKey_StableHex(t *testing.T) {
	// Known SHA-256 vector.
	assert.Equal(t,
		"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		HashAPIKey("hello"))
	assert.Len(t, HashAPIKey(GenerateAPIKey()), 64)
}

func TestCSRF_RoundTrip(t *testing.T) {
	c := NewCSRF()

	token := c.Generate()
	assert.True(t, c.Validate(token))

	// Three colon-separated segments.
	assert.Equal(t, 3, len(splitToken(token)))
}

func TestCSRF_RejectsTampering(t *testing.T) {
	c := NewCSRF()
	token := c.Generate()

	t.Run("malformed", func(t *testing.T) {
		assert.False(t, c.Validate(""))
		assert.False(t, c.Validate("just-a-token"))
		assert.False(t, c.Validate("a:b"))
		assert.False(t, c.Validate("a:not-a-number:c"))
	})

	t.Run("altered signature", func(t *testing.T) {
		parts := splitToken(token)
		assert.False(t, c.Validate(parts[0]+":"+parts[1]+":deadbeef"))
	})

	t.Run("foreign secret", func(t *testing.T) {
		other := NewCSRF()
		assert.False(t, other.Validate(token))
	})
}

func TestCSRF_Expiry(t *testing.T) {
	now := time.Now()
	clock := now
	c := NewCSRF().WithClock(func() time.Time { return clock })

	token := c.Generate()

	clock = now.Add(CSRFTokenTTL - time.Minute)
	assert.True(t, c.Validate(token))

	clock = now.Add(CSRFTokenTTL + time.Minute)
	assert.False(t, c.Validate(token))
}

type fakeAccountStore struct {
	accounts map[string]models.AdminAccount
}

func (f *fakeAccountStore) FetchAdminAccount(_ context.Context, email string) (models.AdminAccount, error) {
	account, ok := f.accounts[email]
	if !ok {
		return models.AdminAccount{}, errors.New("no such account")
	}
	return account, nil
}

func newAdminFixture(t *testing.T) *AdminSessions {
	t.Helper()
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	return NewAdminSessions(&fakeAccountStore{accounts: map[string]models.AdminAccount{
		"ops@example.com": {Email: "ops@example.com", PasswordHash: hash},
	}})
}

func TestAdminSessions_LoginAndValidate(t *testing.T) {
	ctx := context.Background()
	s := newAdminFixture(t)

	token, expiresAt, err := s.Login(ctx, "ops@example.com", "s3cret")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))

	email, err := s.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", email)
}

func TestAdminSessions_BadCredentials(t *testing.T) {
	ctx := context.Background()
	s := newAdminFixture(t)

	_, _, err := s.Login(ctx, "ops@example.com", "wrong")
	assert.ErrorIs(t, err, ErrBadCredentials)

	_, _, err = s.Login(ctx, "nobody@example.com", "s3cret")
	assert.ErrorIs(t, err, ErrBadCredentials)
}

func TestAdminSessions_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	clock := now
	s := newAdminFixture(t).WithClock(func() time.Time { return clock })

	token, _, err := s.Login(ctx, "ops@example.com", "s3cret")
	require.NoError(t, err)

	clock = now.Add(AdminSessionTTL + time.Minute)
	_, err = s.Validate(token)
	assert.ErrorIs(t, err, ErrAdminSessionStale)

	// Expired tokens are reclaimed, not resurrected.
	clock = now
	_, err = s.Validate(token)
	assert.ErrorIs(t, err, ErrAdminSessionStale)
}

func TestAdminSessions_Logout(t *testing.T) {
	ctx := context.Background()
	s := newAdminFixture(t)

	token, _, err := s.Login(ctx, "ops@example.com", "s3cret")
	require.NoError(t, err)

	s.Logout(token)
	_, err = s.Validate(token)
	assert.ErrorIs(t, err, ErrAdminSessionStale)
}

func splitToken(token string) []string {
	return strings.Split(token, ":")
}
