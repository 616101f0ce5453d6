// Package resumption persists session resumption tokens so a restarted
// process can pick up a live session where it left off.
package resumption

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	token   string
	expires time.Time
}

// Memory is an in-process token store. A zero ttl keeps tokens until they
// are overwritten or deleted.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry
	now     func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:     ttl,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Load returns "" when no live token is stored for sessionID.
func (m *Memory) Load(_ context.Context, sessionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[sessionID]
	if !ok {
		return "", nil
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.entries, sessionID)
		return "", nil
	}
	return e.token, nil
}

func (m *Memory) Save(_ context.Context, sessionID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := entry{token: token}
	if m.ttl > 0 {
		e.expires = m.now().Add(m.ttl)
	}
	m.entries[sessionID] = e
	return nil
}

func (m *Memory) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, sessionID)
	return nil
}

// Len is the number of stored tokens, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
