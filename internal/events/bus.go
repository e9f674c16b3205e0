package events

import "sync"

// Bus is a lightweight pub/sub broker using channels. Publishing never
// blocks: a subscriber that falls behind loses events rather than stalling
// the engine, so subscribers must treat the bus as lossy (the journal
// re-reads exchange state on startup for exactly this reason).
type Bus struct {
	mu     sync.RWMutex
	subs   map[Topic][]chan any
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[Topic][]chan any)}
}

// Subscribe registers a listener and returns the channel plus an
// unsubscribe function.
func (b *Bus) Subscribe(t Topic, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan any, buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[t] = append(b.subs[t], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[t]
		for i, c := range subs {
			if c == ch {
				close(c)
				b.subs[t] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	return ch, unsub
}

// Publish fans the payload out to subscribers without blocking.
func (b *Bus) Publish(t Topic, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs[t] {
		select {
		case ch <- payload:
		default:
			// slow subscriber; drop
		}
	}
}

// Close shuts the bus and all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for t, subs := range b.subs {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subs, t)
	}
}
