package voicestore

import (
	"context"
	"sync"
	"time"
)

var _ Store = (*Memory)(nil)

// Memory is a process-local Store. Records are deep-copied on the way in and
// out so callers never share sample buffers with the store.
type Memory struct {
	mu         sync.RWMutex
	voices     map[string]Voice
	ttl        time.Duration
	now        func() time.Time
	maxEntries int
}

// NewMemory returns an empty Memory store.
func NewMemory(opts ...Option) *Memory {
	o := buildOptions(opts)
	return &Memory{
		voices:     make(map[string]Voice),
		ttl:        o.ttl,
		now:        o.now,
		maxEntries: o.maxEntries,
	}
}

// Put implements Store.
func (m *Memory) Put(_ context.Context, v Voice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v = stamp(cloneVoice(v), m.now(), m.ttl)
	if _, exists := m.voices[v.UserID]; !exists && m.maxEntries > 0 {
		for len(m.voices) >= m.maxEntries {
			m.evictOldestLocked()
		}
	}
	m.voices[v.UserID] = v
	return nil
}

// evictOldestLocked removes the record with the earliest CreatedAt.
func (m *Memory) evictOldestLocked() {
	var (
		oldest string
		at     time.Time
	)
	for id, v := range m.voices {
		if oldest == "" || v.CreatedAt.Before(at) {
			oldest, at = id, v.CreatedAt
		}
	}
	delete(m.voices, oldest)
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, userID string) (Voice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.voices[userID]
	if !ok || v.Expired(m.now()) {
		return Voice{}, ErrNotFound
	}
	return cloneVoice(v), nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.voices, userID)
	return nil
}

// List implements Store.
func (m *Memory) List(_ context.Context) ([]Voice, error) {
	m.mu.RLock()
	now := m.now()
	out := make([]Voice, 0, len(m.voices))
	for _, v := range m.voices {
		if !v.Expired(now) {
			out = append(out, cloneVoice(v))
		}
	}
	m.mu.RUnlock()
	sortByCreated(out)
	return out, nil
}

// Nearest implements Store.
func (m *Memory) Nearest(_ context.Context, embedding []float32, k int) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.now()
	live := make([]Voice, 0, len(m.voices))
	for _, v := range m.voices {
		if !v.Expired(now) {
			live = append(live, v)
		}
	}
	return rank(live, embedding, k), nil
}

// Sweep implements Store.
func (m *Memory) Sweep(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for id, v := range m.voices {
		if v.Expired(now) {
			delete(m.voices, id)
			n++
		}
	}
	return n, nil
}

// SetTTL implements Store.
func (m *Memory) SetTTL(ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ttl = ttl
}

// Len returns the number of records held, including expired ones not yet
// swept.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.voices)
}

// Close implements Store. It is a no-op.
func (m *Memory) Close() error { return nil }
