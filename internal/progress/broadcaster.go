// Package progress fans out ephemeral enrichment progress events to
// per-user subscribers. Events are best-effort: there is no replay, and a
// slow subscriber loses events rather than blocking the publisher.
package progress

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/lumenlead/prospector/internal/model"
)

const defaultBufferSize = 64

// Broadcaster routes progress events to the subscribers of a user.
type Broadcaster struct {
	mu      sync.RWMutex
	subs    map[string]map[*subscriber]struct{}
	bufSize int
	closed  bool
}

type subscriber struct {
	ch chan model.ProgressEvent
}

// Option configures the Broadcaster.
type Option func(*Broadcaster)

// WithBufferSize sets the per-subscriber channel capacity.
func WithBufferSize(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.bufSize = n
		}
	}
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster(opts ...Option) *Broadcaster {
	b := &Broadcaster{
		subs:    make(map[string]map[*subscriber]struct{}),
		bufSize: defaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a listener for the user's events. The channel closes
// when ctx is done, cancel is called, or the broadcaster shuts down.
func (b *Broadcaster) Subscribe(ctx context.Context, userID string) (<-chan model.ProgressEvent, func()) {
	sub := &subscriber{ch: make(chan model.ProgressEvent, b.bufSize)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[*subscriber]struct{})
	}
	b.subs[userID][sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if set, ok := b.subs[userID]; ok {
				delete(set, sub)
				if len(set) == 0 {
					delete(b.subs, userID)
				}
				close(sub.ch)
			}
			b.mu.Unlock()
		})
	}

	go func() {
		<-ctx.Done()
		cancel()
	}()

	return sub.ch, cancel
}

// Publish delivers the event to every subscriber of the user. Never blocks:
// a full subscriber buffer drops the event.
func (b *Broadcaster) Publish(userID string, event model.ProgressEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for sub := range b.subs[userID] {
		select {
		case sub.ch <- event:
		default:
			zap.L().Debug("progress event dropped for slow subscriber",
				zap.String("user_id", userID),
				zap.String("job_id", event.JobID),
			)
		}
	}
}

// SubscriberCount returns the number of active subscribers for the user.
func (b *Broadcaster) SubscriberCount(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[userID])
}

// Close shuts the broadcaster down and closes every subscriber channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, set := range b.subs {
		for sub := range set {
			close(sub.ch)
		}
	}
	b.subs = make(map[string]map[*subscriber]struct{})
}
