// Package reload implements the live-reload side of the preview server: a
// fan-out Bus of reload tokens, the push endpoints that stream those tokens
// to browsers (server-sent events and WebSocket), and the response
// middleware that makes HTML pages connect to them.
package reload

import (
	"sync"
	"sync/atomic"
)

// Token is a content-free "something changed" signal.
type Token string

// ReloadToken is the only token the preview pipeline publishes.
const ReloadToken Token = "reload"

// DefaultBacklog is the number of unread tokens kept per subscription.
const DefaultBacklog = 100

// Bus broadcasts tokens to every live Subscription. Publish never blocks;
// a subscription whose backlog is full loses its oldest unread token.
type Bus struct {
	backlog int

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// NewBus creates a bus whose subscriptions buffer up to backlog tokens.
func NewBus(backlog int) *Bus {
	if backlog < 1 {
		backlog = DefaultBacklog
	}
	return &Bus{
		backlog: backlog,
		subs:    make(map[*Subscription]struct{}),
	}
}

// Subscription receives tokens published after it was created.
type Subscription struct {
	bus     *Bus
	ch      chan Token
	dropped atomic.Uint64
	once    sync.Once
}

// Subscribe registers a new subscription.
func (b *Bus) Subscribe() *Subscription {
	s := &Subscription{
		bus: b,
		ch:  make(chan Token, b.backlog),
	}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	return s
}

// Publish queues tok for every current subscription and returns how many
// received it. Publishing with no subscribers is a no-op.
func (b *Bus) Publish(tok Token) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	for s := range b.subs {
		s.offer(tok)
	}
	return len(b.subs)
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// offer enqueues tok, discarding the oldest queued token when full. Only
// called with the bus lock held, so there is a single sender per channel.
func (s *Subscription) offer(tok Token) {
	for {
		select {
		case s.ch <- tok:
			return
		default:
		}

		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
	}
}

// C returns the channel tokens are delivered on. It is closed by Close.
func (s *Subscription) C() <-chan Token {
	return s.ch
}

// Dropped reports how many tokens were discarded because the backlog was
// full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close detaches the subscription from the bus. It is safe to call more
// than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		close(s.ch)
		s.bus.mu.Unlock()
	})
}
