// Package quota enforces per-tenant request quotas over a sliding one
// minute window.
package quota

import (
	"sync"
	"time"
)

const (
	// Window is the quota accounting horizon.
	Window = 60 * time.Second
	// numBuckets subdivides the window. Counts age out one sub-bucket at a
	// time, so the effective window is accurate to Window/numBuckets.
	numBuckets = 12

	bucketWidth = Window / numBuckets

	// DefaultLimit applies to tenants with no explicit limit configured.
	DefaultLimit = 60
)

type tenantWindow struct {
	counts  [numBuckets]int
	lastTik int64 // bucket index of the most recent increment
	limit   int
}

// Manager tracks rolling request counts per tenant and answers
// admit-or-reject atomically.
type Manager struct {
	mu      sync.Mutex
	tenants map[string]*tenantWindow

	defaultLimit int
	now          func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithDefaultLimit overrides the default per-minute limit.
func WithDefaultLimit(limit int) Option {
	return func(m *Manager) { m.defaultLimit = limit }
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates an empty quota manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		tenants:      make(map[string]*tenantWindow),
		defaultLimit: DefaultLimit,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CheckAndIncrement admits the request if the tenant's rolling count is
// below its limit, counting the request in the same critical section.
// Returns whether the request was admitted and the usage after the call.
func (m *Manager) CheckAndIncrement(tenantID string) (bool, int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := m.windowLocked(tenantID)
	m.advanceLocked(w)

	total := sum(w.counts)
	if total >= w.limit {
		return false, total
	}
	w.counts[m.bucketIndex()]++
	return true, total + 1
}

// Usage returns the tenant's rolling count and limit without admitting
// anything.
func (m *Manager) Usage(tenantID string) (used, limit int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := m.windowLocked(tenantID)
	m.advanceLocked(w)
	return sum(w.counts), w.limit
}

// SetLimit sets the tenant's per-minute limit. A non-positive limit
// restores the default.
func (m *Manager) SetLimit(tenantID string, limit int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := m.windowLocked(tenantID)
	if limit <= 0 {
		limit = m.defaultLimit
	}
	w.limit = limit
}

// Reset clears the tenant's rolling count, keeping its configured limit.
func (m *Manager) Reset(tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w, ok := m.tenants[tenantID]; ok {
		w.counts = [numBuckets]int{}
	}
}

// RetryAfter returns the duration after which at least one sub-bucket of
// usage will have aged out. Callers surface it as a Retry-After hint.
func (m *Manager) RetryAfter() time.Duration {
	return bucketWidth
}

func (m *Manager) windowLocked(tenantID string) *tenantWindow {
	w, ok := m.tenants[tenantID]
	if !ok {
		w = &tenantWindow{limit: m.defaultLimit, lastTik: m.tick()}
		m.tenants[tenantID] = w
	}
	return w
}

// advanceLocked zeroes the sub-buckets the window slid past since the
// tenant's last activity.
func (m *Manager) advanceLocked(w *tenantWindow) {
	tick := m.tick()
	elapsed := tick - w.lastTik
	if elapsed <= 0 {
		return
	}
	if elapsed >= numBuckets {
		w.counts = [numBuckets]int{}
	} else {
		for i := w.lastTik + 1; i <= tick; i++ {
			w.counts[i%numBuckets] = 0
		}
	}
	w.lastTik = tick
}

// tick is the absolute sub-bucket counter since the epoch.
func (m *Manager) tick() int64 {
	return m.now().UnixNano() / int64(bucketWidth)
}

func (m *Manager) bucketIndex() int {
	return int(m.tick() % numBuckets)
}

func sum(counts [numBuckets]int) int {
	total := 0
	for _, c := range counts {
		total += c
	}
	return total
}
