// Package cleanup provides the background session reclamation service.
package cleanup

import (
	"context"
	"log/slog"
	"time"
)

// DefaultInterval is how often the reclamation pass runs.
const DefaultInterval = 300 * time.Second

// SessionReclaimer removes in-memory sessions past their TTL.
// Implemented by session.Store.
type SessionReclaimer interface {
	CleanupStale() int
}

// SnapshotReclaimer removes persisted session snapshots past the cutoff.
// Implemented by store.Store.
type SnapshotReclaimer interface {
	DeleteStaleSessions(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service periodically reclaims expired sessions from memory and, when a
// persistence adapter is attached, their snapshots from the database.
// All operations are idempotent.
type Service struct {
	sessions  SessionReclaimer
	snapshots SnapshotReclaimer
	ttl       time.Duration
	interval  time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a cleanup service. snapshots may be nil when no
// database is configured.
func NewService(sessions SessionReclaimer, snapshots SnapshotReclaimer, ttl, interval time.Duration) *Service {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Service{
		sessions:  sessions,
		snapshots: snapshots,
		ttl:       ttl,
		interval:  interval,
	}
}

// Start launches the background reclamation loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"session_ttl", s.ttl,
		"interval", s.interval)
}

// Stop signals the loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// runOnce executes one reclamation pass.
func (s *Service) runOnce(ctx context.Context) {
	if count := s.sessions.CleanupStale(); count > 0 {
		slog.Info("Reclaimed expired sessions", "count", count)
	}

	if s.snapshots == nil {
		return
	}
	cutoff := time.Now().Add(-s.ttl)
	count, err := s.snapshots.DeleteStaleSessions(ctx, cutoff)
	if err != nil {
		slog.Error("Session snapshot cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Reclaimed session snapshots", "count", count)
	}
}
