package progress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenlead/prospector/internal/model"
)

func TestPublishReachesSubscriber(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	ch, cancel := b.Subscribe(context.Background(), "user-1")
	defer cancel()

	b.Publish("user-1", model.ProgressEvent{JobID: "j1", Percent: 50})

	select {
	case ev := <-ch:
		assert.Equal(t, "j1", ev.JobID)
		assert.Equal(t, 50, ev.Percent)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestPublishIsScopedToUser(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	ch1, cancel1 := b.Subscribe(context.Background(), "user-1")
	defer cancel1()
	ch2, cancel2 := b.Subscribe(context.Background(), "user-2")
	defer cancel2()

	b.Publish("user-1", model.ProgressEvent{JobID: "j1"})

	select {
	case <-ch1:
	case <-time.After(time.Second):
		t.Fatal("user-1 did not receive its event")
	}
	select {
	case ev := <-ch2:
		t.Fatalf("user-2 received foreign event %v", ev)
	default:
	}
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	b := NewBroadcaster(WithBufferSize(1))
	defer b.Close()

	ch, cancel := b.Subscribe(context.Background(), "user-1")
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish("user-1", model.ProgressEvent{JobID: "j1", Processed: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber buffer")
	}

	// The buffered event is the first one; the rest were dropped.
	ev := <-ch
	assert.Equal(t, 0, ev.Processed)
}

func TestCancelRemovesSubscriber(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	ch, cancel := b.Subscribe(context.Background(), "user-1")
	require.Equal(t, 1, b.SubscriberCount("user-1"))

	cancel()
	assert.Equal(t, 0, b.SubscriberCount("user-1"))

	_, open := <-ch
	assert.False(t, open, "channel should be closed after cancel")

	// Publishing after cancel is a no-op.
	b.Publish("user-1", model.ProgressEvent{JobID: "j1"})
}

func TestContextCancellationUnsubscribes(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	ctx, cancelCtx := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, "user-1")
	cancelCtx()

	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancellation")
	}
	assert.Equal(t, 0, b.SubscriberCount("user-1"))
}

func TestCloseShutsDownAllSubscribers(t *testing.T) {
	b := NewBroadcaster()

	ch1, _ := b.Subscribe(context.Background(), "user-1")
	ch2, _ := b.Subscribe(context.Background(), "user-2")

	b.Close()

	_, open := <-ch1
	assert.False(t, open)
	_, open = <-ch2
	assert.False(t, open)

	// Subscribing after close returns a closed channel.
	ch3, cancel := b.Subscribe(context.Background(), "user-3")
	defer cancel()
	_, open = <-ch3
	assert.False(t, open)
}
