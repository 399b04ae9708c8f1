package handoff

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Backend. Nothing survives a restart.
type Memory struct {
	mu    sync.Mutex
	slots map[string]*Mailbox[entry]
	ttl   time.Duration
	now   func() time.Time
}

type entry struct {
	value   string
	expires time.Time
}

// NewMemory creates a Memory backend. Values older than ttl are treated as absent; a zero ttl
// keeps them until consumed.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		slots: make(map[string]*Mailbox[entry]),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (m *Memory) expired(e entry) bool {
	return !e.expires.IsZero() && m.now().After(e.expires)
}

// Put implements Backend.
func (m *Memory) Put(_ context.Context, key, value string) error {
	e := entry{value: value}
	if m.ttl > 0 {
		e.expires = m.now().Add(m.ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	mb, ok := m.slots[key]
	if !ok {
		mb = &Mailbox[entry]{}
		m.slots[key] = mb
	}
	mb.Send(e)
	return nil
}

// Get implements Backend. An expired slot is reclaimed.
func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mb, ok := m.slots[key]
	if !ok {
		return "", ErrAbsent
	}
	e, ok := mb.Peek()
	if !ok || m.expired(e) {
		delete(m.slots, key)
		return "", ErrAbsent
	}
	return e.value, nil
}

// Take implements Backend. The slot is reclaimed whether or not it held a value.
func (m *Memory) Take(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mb, ok := m.slots[key]
	if !ok {
		return "", ErrAbsent
	}
	delete(m.slots, key)

	e, ok := mb.TryReceive()
	if !ok || m.expired(e) {
		return "", ErrAbsent
	}
	return e.value, nil
}

func (m *Memory) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.slots)
}

// Forget drops every slot under scope, a session or the chat of one relation in it.
func (m *Memory) Forget(scope string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := scope + ":"
	for k := range m.slots {
		if strings.HasPrefix(k, prefix) {
			delete(m.slots, k)
		}
	}
}
