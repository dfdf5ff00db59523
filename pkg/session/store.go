// Package session provides the per-connection session store with TTL
// discipline and connection bindings.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/third-eye/thirdeye/pkg/models"
)

// DefaultTTL is the sliding session time-to-live window.
const DefaultTTL = 7 * 24 * time.Hour

// ErrNotFound is returned when a connection has no bound session.
var ErrNotFound = fmt.Errorf("session not found")

// Store owns all session rows and the connection → session bindings.
// Callers always receive value copies; mutation goes through Update under
// the store's lock, giving single-writer semantics per connection.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session // session id → row
	bindings map[string]string          // connection id → session id

	ttl time.Duration
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides the default session TTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithClock injects a time source. Tests use this to drive expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty session store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*models.Session),
		bindings: make(map[string]string),
		ttl:      DefaultTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreate returns the session bound to connID, minting a fresh one on
// first use. Idempotent: repeated calls without intervening writes return
// equal copies and create exactly one row.
func (s *Store) GetOrCreate(connID string) models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.bindings[connID]; ok {
		if sess, ok := s.sessions[id]; ok {
			return *sess
		}
		// Binding points at a reclaimed row; fall through and re-mint.
	}

	now := s.now()
	sess := &models.Session{
		ID:           "sess-" + uuid.New().String(),
		Lang:         models.LangAuto,
		CreatedAt:    now,
		LastActivity: now,
		Deadline:     now.Add(s.ttl),
	}
	s.sessions[sess.ID] = sess
	s.bindings[connID] = sess.ID
	return *sess
}

// Get returns the session bound to connID without creating one.
func (s *Store) Get(connID string) (models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.bindings[connID]
	if !ok {
		return models.Session{}, ErrNotFound
	}
	sess, ok := s.sessions[id]
	if !ok {
		return models.Session{}, ErrNotFound
	}
	return *sess, nil
}

// GetByID returns a session by its session id, regardless of binding.
func (s *Store) GetByID(sessionID string) (models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return models.Session{}, ErrNotFound
	}
	return *sess, nil
}

// Update applies a diff to the session bound to connID and stamps
// last-activity. The write happens under the store lock, so updates
// observed by a connection on its own session are monotonic.
func (s *Store) Update(connID string, diff models.SessionDiff) (models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.bindings[connID]
	if !ok {
		return models.Session{}, ErrNotFound
	}
	sess, ok := s.sessions[id]
	if !ok {
		return models.Session{}, ErrNotFound
	}

	if diff.TenantID != nil {
		sess.TenantID = *diff.TenantID
	}
	if diff.UserID != nil {
		sess.UserID = *diff.UserID
	}
	if diff.Lang != nil {
		sess.Lang = *diff.Lang
	}
	if diff.BudgetTokens != nil {
		sess.BudgetTokens = *diff.BudgetTokens
	}
	sess.LastActivity = s.now()
	return *sess, nil
}

// Touch extends the session's TTL by the default window and stamps
// last-activity. Called on every successful request using the session.
func (s *Store) Touch(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	now := s.now()
	sess.LastActivity = now
	sess.Deadline = now.Add(s.ttl)
}

// Close removes a session and every binding that references it.
func (s *Store) Close(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(sessionID)
}

// CleanupStale removes sessions whose inactivity exceeds the TTL, plus
// their connection bindings. Returns the number of sessions reclaimed.
func (s *Store) CleanupStale() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var stale []string
	for id, sess := range s.sessions {
		if now.Sub(sess.LastActivity) > s.ttl {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		s.removeLocked(id)
	}
	return len(stale)
}

// Count returns the number of live session rows.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) removeLocked(sessionID string) {
	delete(s.sessions, sessionID)
	for conn, id := range s.bindings {
		if id == sessionID {
			delete(s.bindings, conn)
		}
	}
}
