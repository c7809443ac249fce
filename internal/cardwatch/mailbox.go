package cardwatch

import (
	"context"
	"sync"
)

// Mailbox is a single-slot handoff. Publish replaces any unread value;
// Wait returns the latest value and empties the slot.
type Mailbox[T any] struct {
	mu     sync.Mutex
	value  T
	full   bool
	notify chan struct{}
}

// NewMailbox returns an empty mailbox.
func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{notify: make(chan struct{}, 1)}
}

// Publish stores v, superseding any value not yet consumed. It never
// blocks.
func (m *Mailbox[T]) Publish(v T) {
	m.mu.Lock()
	m.value = v
	m.full = true
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Wait blocks until a value is available or ctx is done.
func (m *Mailbox[T]) Wait(ctx context.Context) (T, error) {
	for {
		if v, ok := m.take(); ok {
			return v, nil
		}

		select {
		case <-m.notify:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Clear discards any unread value.
func (m *Mailbox[T]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero T
	m.value = zero
	m.full = false
}

func (m *Mailbox[T]) take() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero T
	if !m.full {
		return zero, false
	}
	v := m.value
	m.value = zero
	m.full = false
	return v, true
}
