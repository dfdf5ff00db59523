// Package bus is the in-process pipeline event bus. Each session has a
// bounded replay ring and any number of live subscribers; slow subscribers
// lose oldest events rather than stalling publishers.
package bus

import (
	"sync"
	"time"

	"github.com/third-eye/thirdeye/pkg/models"
)

const (
	// RingSize is the per-session replay ring capacity.
	RingSize = 256
	// SubscriberQueueSize bounds each live subscriber's delivery queue.
	SubscriberQueueSize = 64
)

type subscriber struct {
	ch      chan models.PipelineEvent
	dropped uint64 // discarded events not yet reported downstream
}

type sessionStream struct {
	seq     uint64
	ring    []models.PipelineEvent
	subs    map[int]*subscriber
	nextSub int
}

// Bus fans out pipeline events per session. Publish never blocks: when a
// subscriber's queue is full the oldest queued event is discarded and the
// gap is reported on the next delivered event's Dropped field.
type Bus struct {
	mu       sync.Mutex
	sessions map[string]*sessionStream
	now      func() time.Time
}

// Option configures a Bus.
type Option func(*Bus)

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) { b.now = now }
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		sessions: make(map[string]*sessionStream),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish stamps the event with the session's next sequence number and the
// current time, records it in the replay ring, and fans it out to live
// subscribers.
func (b *Bus) Publish(sessionID string, event models.PipelineEvent) models.PipelineEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.streamLocked(sessionID)
	s.seq++
	event.SessionID = sessionID
	event.Seq = s.seq
	event.TS = b.now()

	s.ring = append(s.ring, event)
	if len(s.ring) > RingSize {
		s.ring = s.ring[len(s.ring)-RingSize:]
	}

	for _, sub := range s.subs {
		deliver(sub, event)
	}
	return event
}

// deliver enqueues the event for one subscriber, discarding the oldest
// queued event when the queue is full.
func deliver(sub *subscriber, event models.PipelineEvent) {
	for {
		event.Dropped = sub.dropped
		select {
		case sub.ch <- event:
			sub.dropped = 0
			return
		default:
		}
		select {
		case <-sub.ch:
			sub.dropped++
		default:
		}
	}
}

// Subscribe attaches a live subscriber to the session's stream and returns
// a snapshot of the replay ring taken atomically with the attachment, so
// no event falls between replay and live delivery. The cancel function
// detaches the subscriber and closes its channel.
func (b *Bus) Subscribe(sessionID string) (replay []models.PipelineEvent, live <-chan models.PipelineEvent, cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.streamLocked(sessionID)
	replay = make([]models.PipelineEvent, len(s.ring))
	copy(replay, s.ring)

	sub := &subscriber{ch: make(chan models.PipelineEvent, SubscriberQueueSize)}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = sub

	cancel = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if cur, ok := b.sessions[sessionID]; ok {
			if _, attached := cur.subs[id]; attached {
				delete(cur.subs, id)
				close(sub.ch)
			}
		}
	}
	return replay, sub.ch, cancel
}

// Close tears down a session's stream, closing all subscriber channels.
func (b *Bus) Close(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.sessions[sessionID]
	if !ok {
		return
	}
	for _, sub := range s.subs {
		close(sub.ch)
	}
	delete(b.sessions, sessionID)
}

// SubscriberCount returns the number of live subscribers for a session.
func (b *Bus) SubscriberCount(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sessions[sessionID]; ok {
		return len(s.subs)
	}
	return 0
}

func (b *Bus) streamLocked(sessionID string) *sessionStream {
	s, ok := b.sessions[sessionID]
	if !ok {
		s = &sessionStream{subs: make(map[int]*subscriber)}
		b.sessions[sessionID] = s
	}
	return s
}
