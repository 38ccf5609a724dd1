// Package events fans round lifecycle notifications out to in-process
// subscribers, the websocket hub and the NATS stream.
package events

import (
	"sync"
	"sync/atomic"
)

// Topic is a typed broadcast channel. Publish never blocks: a subscriber
// whose buffer is full misses that value.
type Topic[T any] struct {
	mu      sync.RWMutex
	subs    map[int]chan T
	next    int
	dropped atomic.Int64
}

// Subscribe returns a receive channel and a cancel func that closes it.
func (t *Topic[T]) Subscribe(buf int) (<-chan T, func()) {
	ch := make(chan T, buf)

	t.mu.Lock()
	if t.subs == nil {
		t.subs = make(map[int]chan T)
	}
	id := t.next
	t.next++
	t.subs[id] = ch
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers v to every subscriber with room and returns how many
// received it.
func (t *Topic[T]) Publish(v T) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	delivered := 0
	for _, ch := range t.subs {
		select {
		case ch <- v:
			delivered++
		default:
			t.dropped.Add(1)
		}
	}
	return delivered
}

func (t *Topic[T]) Subscribers() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// Dropped counts deliveries skipped because a subscriber was full.
func (t *Topic[T]) Dropped() int64 {
	return t.dropped.Load()
}
