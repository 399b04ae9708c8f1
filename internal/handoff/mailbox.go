// Package handoff carries ephemeral call setup data from the setup screen to the chat screen of
// the same browser session. Every slot delivers its value at most once.
package handoff

import "sync"

// Mailbox is a single-slot channel. Send replaces whatever is waiting, TryReceive empties the
// slot. The zero value is an empty mailbox ready for use.
type Mailbox[T any] struct {
	mu   sync.Mutex
	v    T
	full bool
}

// Send stores v, overwriting an unreceived value.
func (m *Mailbox[T]) Send(v T) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.v = v
	m.full = true
}

// TryReceive returns the waiting value and empties the slot. The second result is false when
// nothing was waiting.
func (m *Mailbox[T]) TryReceive() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.v, m.full
	var zero T
	m.v = zero
	m.full = false
	return v, ok
}

// Peek returns the waiting value without receiving it.
func (m *Mailbox[T]) Peek() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.v, m.full
}
