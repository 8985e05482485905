// Package eventbus implements a minimal typed publish/subscribe primitive,
// generalizing the boolean Ready()/Pause() notification channels the amqp
// package exposes per session into a single broadcast point for arbitrary
// event payloads.
package eventbus

import "sync"

// Bus broadcasts values of type T to every currently registered subscriber.
// Publish never blocks on a slow subscriber: deliveries are fanned out on
// per-subscriber goroutines.
type Bus[T any] struct {
	mu   sync.Mutex
	subs map[int]func(T)
	next int
}

// New returns a ready to use event bus.
func New[T any]() *Bus[T] {
	return &Bus[T]{subs: make(map[int]func(T))}
}

// Subscribe registers "fn" to be called for every value published after this
// call returns. The returned function removes the subscription; it is safe
// to call more than once and from any goroutine.
func (b *Bus[T]) Subscribe(fn func(T)) (cancel func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers "event" to every subscriber registered at the time of the
// call. Each subscriber is invoked on its own goroutine so a slow or blocking
// handler cannot delay delivery to the others, or to future Publish calls.
func (b *Bus[T]) Publish(event T) {
	b.mu.Lock()
	handlers := make([]func(T), 0, len(b.subs))
	for _, fn := range b.subs {
		handlers = append(handlers, fn)
	}
	b.mu.Unlock()

	for _, fn := range handlers {
		go fn(event)
	}
}

// Len reports the number of active subscriptions. Mostly useful for tests.
func (b *Bus[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
