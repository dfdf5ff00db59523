package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/third-eye/thirdeye/pkg/models"
)

// AdminSessionTTL is the absolute lifetime of an admin login session.
const AdminSessionTTL = time.Hour

var (
	ErrBadCredentials    = errors.New("invalid email or password")
	ErrAdminSessionStale = errors.New("admin session expired")
)

// AccountStore resolves admin accounts by email. Implemented by the
// persistence adapter.
type AccountStore interface {
	FetchAdminAccount(ctx context.Context, email string) (models.AdminAccount, error)
}

type adminSession struct {
	email   string
	expires time.Time
}

// AdminSessions authenticates control-plane logins and tracks their
// bearer tokens in memory.
type AdminSessions struct {
	mu       sync.Mutex
	sessions map[string]adminSession

	accounts AccountStore
	ttl      time.Duration
	now      func() time.Time
}

// NewAdminSessions creates a session tracker backed by the given accounts.
func NewAdminSessions(accounts AccountStore) *AdminSessions {
	return &AdminSessions{
		sessions: make(map[string]adminSession),
		accounts: accounts,
		ttl:      AdminSessionTTL,
		now:      time.Now,
	}
}

// WithClock injects a time source for tests.
func (s *AdminSessions) WithClock(now func() time.Time) *AdminSessions {
	s.now = now
	return s
}

// HashPassword returns the bcrypt hash for a new admin password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Login checks the credentials and mints a session token valid for the
// session TTL. Unknown emails and wrong passwords fail identically.
func (s *AdminSessions) Login(ctx context.Context, email, password string) (token string, expiresAt time.Time, err error) {
	account, err := s.accounts.FetchAdminAccount(ctx, email)
	if err != nil {
		// Burn comparable time so lookups don't leak which emails exist.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$0000000000000000000000uGZv3cWxyBpVvy7nJzXrS0eS9K1vKGK"), []byte(password))
		return "", time.Time{}, ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return "", time.Time{}, ErrBadCredentials
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", time.Time{}, err
	}
	token = base64.RawURLEncoding.EncodeToString(buf)
	expiresAt = s.now().Add(s.ttl)

	s.mu.Lock()
	s.sessions[token] = adminSession{email: account.Email, expires: expiresAt}
	s.mu.Unlock()
	return token, expiresAt, nil
}

// Validate resolves a session token to the logged-in email. Expired
// sessions are reclaimed on access; live ones get their TTL extended, so
// an active admin is never logged out mid-work.
func (s *AdminSessions) Validate(token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return "", ErrAdminSessionStale
	}
	if s.now().After(sess.expires) {
		delete(s.sessions, token)
		return "", ErrAdminSessionStale
	}
	sess.expires = s.now().Add(s.ttl)
	s.sessions[token] = sess
	return sess.email, nil
}

// Logout discards a session token.
func (s *AdminSessions) Logout(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
}
