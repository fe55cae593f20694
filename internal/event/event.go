// Package event provides the message queues that connect the engine's
// tick-driven systems with each other and with outside goroutines.
//
// Producers may send from any goroutine. Consumers drain at well-defined
// phase boundaries of a tick, so a system never sees a half-applied batch.
package event

import "sync"

// Queue is a FIFO of pending messages.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
}

// Send appends v to the queue.
func (q *Queue[T]) Send(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()
}

// Drain removes and returns every pending message in send order.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()
	return items
}

// Len reports the number of pending messages.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Bus fans published values out to every subscription. Each subscription
// sees every value published after it subscribed, exactly once.
type Bus[T any] struct {
	mu   sync.Mutex
	subs []*Subscription[T]
}

// Subscription is one reader of a Bus.
type Subscription[T any] struct {
	q Queue[T]
}

// Subscribe registers a new reader.
func (b *Bus[T]) Subscribe() *Subscription[T] {
	s := &Subscription[T]{}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
	return s
}

// Publish delivers v to all current subscriptions.
func (b *Bus[T]) Publish(v T) {
	b.mu.Lock()
	subs := b.subs
	b.mu.Unlock()
	for _, s := range subs {
		s.q.Send(v)
	}
}

// Read returns the values published since the previous Read.
func (s *Subscription[T]) Read() []T { return s.q.Drain() }
