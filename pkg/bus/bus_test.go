package bus

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/third-eye/thirdeye/pkg/models"
)

func TestBus_SequenceIsMonotonicPerSession(t *testing.T) {
	b := New()

	for i := 1; i <= 5; i++ {
		evt := b.Publish("sess-1", models.PipelineEvent{Type: models.EventTypeEyeUpdate})
		assert.Equal(t, uint64(i), evt.Seq)
	}

	// A second session has its own counter.
	evt := b.Publish("sess-2", models.PipelineEvent{Type: models.EventTypeEyeUpdate})
	assert.Equal(t, uint64(1), evt.Seq)
}

func TestBus_PublishStampsSessionAndTime(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	b := New(WithClock(func() time.Time { return now }))

	evt := b.Publish("sess-1", models.PipelineEvent{Type: models.EventTypeOrchestrationProgress})

	assert.Equal(t, "sess-1", evt.SessionID)
	assert.Equal(t, now, evt.TS)
}

func TestBus_SubscribeReplaysRing(t *testing.T) {
	b := New()

	for i := 0; i < 3; i++ {
		b.Publish("sess-1", models.PipelineEvent{Type: models.EventTypeEyeUpdate, Eye: fmt.Sprintf("eye-%d", i)})
	}

	replay, live, cancel := b.Subscribe("sess-1")
	defer cancel()

	require.Len(t, replay, 3)
	assert.Equal(t, "eye-0", replay[0].Eye)
	assert.Equal(t, uint64(1), replay[0].Seq)
	assert.Equal(t, "eye-2", replay[2].Eye)

	// Live events published after subscribe arrive on the channel.
	b.Publish("sess-1", models.PipelineEvent{Type: models.EventTypeEyeUpdate, Eye: "eye-3"})
	evt := <-live
	assert.Equal(t, "eye-3", evt.Eye)
	assert.Equal(t, uint64(4), evt.Seq)
}

func TestBus_RingKeepsNewestEvents(t *testing.T) {
	b := New()

	for i := 0; i < RingSize+10; i++ {
		b.Publish("sess-1", models.PipelineEvent{Type: models.EventTypeEyeUpdate})
	}

	replay, _, cancel := b.Subscribe("sess-1")
	defer cancel()

	require.Len(t, replay, RingSize)
	assert.Equal(t, uint64(11), replay[0].Seq)
	assert.Equal(t, uint64(RingSize+10), replay[len(replay)-1].Seq)
}

func TestBus_SlowSubscriberDropsOldest(t *testing.T) {
	b := New()

	_, live, cancel := b.Subscribe("sess-1")
	defer cancel()

	// Overfill the queue without draining it.
	for i := 0; i < SubscriberQueueSize+5; i++ {
		b.Publish("sess-1", models.PipelineEvent{Type: models.EventTypeEyeUpdate})
	}

	// The oldest five were discarded and the gap is fully accounted for.
	first := <-live
	assert.Equal(t, uint64(6), first.Seq)

	var last models.PipelineEvent
	dropped := first.Dropped
	for evt := range drained(live) {
		dropped += evt.Dropped
		last = evt
	}
	assert.Equal(t, uint64(5), dropped)

	// The newest event is still delivered.
	assert.Equal(t, uint64(SubscriberQueueSize+5), last.Seq)
}

func TestBus_SubscribersAreIndependent(t *testing.T) {
	b := New()

	_, fast, cancelFast := b.Subscribe("sess-1")
	defer cancelFast()
	_, slow, cancelSlow := b.Subscribe("sess-1")
	defer cancelSlow()

	for i := 0; i < SubscriberQueueSize+1; i++ {
		b.Publish("sess-1", models.PipelineEvent{Type: models.EventTypeEyeUpdate})
		// The fast subscriber keeps up.
		<-fast
	}

	// The slow subscriber lost only its own oldest event.
	evt := <-slow
	assert.Equal(t, uint64(2), evt.Seq)
	dropped := evt.Dropped
	for e := range drained(slow) {
		dropped += e.Dropped
	}
	assert.Equal(t, uint64(1), dropped)
}

func TestBus_CancelDetachesSubscriber(t *testing.T) {
	b := New()

	_, live, cancel := b.Subscribe("sess-1")
	require.Equal(t, 1, b.SubscriberCount("sess-1"))

	cancel()
	assert.Equal(t, 0, b.SubscriberCount("sess-1"))

	_, open := <-live
	assert.False(t, open)

	// Cancel is idempotent.
	cancel()
}

func TestBus_CloseClosesSubscriberChannels(t *testing.T) {
	b := New()

	_, live, cancel := b.Subscribe("sess-1")
	b.Publish("sess-1", models.PipelineEvent{Type: models.EventTypeEyeUpdate})
	b.Close("sess-1")

	// Queued event is still readable, then the channel closes.
	evt, open := <-live
	require.True(t, open)
	assert.Equal(t, uint64(1), evt.Seq)
	_, open = <-live
	assert.False(t, open)

	// Cancel after Close must not double-close.
	cancel()
}

// drained returns a channel view that stops at the first moment the queue
// is empty, so tests can iterate without blocking.
func drained(ch <-chan models.PipelineEvent) <-chan models.PipelineEvent {
	out := make(chan models.PipelineEvent)
	go func() {
		defer close(out)
		for {
			select {
			case evt, ok := <-ch:
				if !ok {
					return
				}
				out <- evt
			default:
				return
			}
		}
	}()
	return out
}
