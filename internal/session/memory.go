package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/etna-educacion/etna-chat/internal/domain"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryStore keeps sessions in a bounded LRU whose entries expire after
// the session TTL. Sessions the cache drops on its own (expiry or capacity)
// are remembered until the next CleanupExpired reports them.
type MemoryStore struct {
	cache *expirable.LRU[string, *domain.Session]

	mu      sync.Mutex
	evicted map[string]struct{}
	deleted map[string]struct{} // explicit deletes, not reported as expired
}

// NewMemoryStore creates an in-memory store holding at most maxEntries
// sessions, each evicted ttl after its last write.
func NewMemoryStore(maxEntries int, ttl time.Duration) (*MemoryStore, error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("max entries must be > 0, got %d", maxEntries)
	}
	m := &MemoryStore{
		evicted: make(map[string]struct{}),
		deleted: make(map[string]struct{}),
	}
	m.cache = expirable.NewLRU[string, *domain.Session](maxEntries, m.onEvict, ttl)
	return m, nil
}

// onEvict runs with the cache lock held and must not call back into it.
func (m *MemoryStore) onEvict(id string, _ *domain.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deleted[id]; ok {
		delete(m.deleted, id)
		return
	}
	m.evicted[id] = struct{}{}
}

// Get returns a copy of the stored session.
func (m *MemoryStore) Get(_ context.Context, id string) (*domain.Session, error) {
	s, ok := m.cache.Get(id)
	if !ok {
		return nil, nil
	}
	return s.Clone(), nil
}

// Put stores a copy of the session.
func (m *MemoryStore) Put(_ context.Context, s *domain.Session) error {
	m.cache.Add(s.ID, s.Clone())
	return nil
}

// Delete removes a session.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	m.deleted[id] = struct{}{}
	m.mu.Unlock()

	if !m.cache.Remove(id) {
		m.mu.Lock()
		delete(m.deleted, id)
		m.mu.Unlock()
	}
	return nil
}

// CleanupExpired removes sessions idle for longer than ttl and returns them
// together with every session the cache expired or evicted since the last
// call.
func (m *MemoryStore) CleanupExpired(_ context.Context, ttl time.Duration) ([]string, error) {
	threshold := time.Now().Add(-ttl)
	for _, id := range m.cache.Keys() {
		s, ok := m.cache.Peek(id)
		if ok && s.UpdatedAt.Before(threshold) {
			m.cache.Remove(id)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.evicted) == 0 {
		return nil, nil
	}
	removed := make([]string, 0, len(m.evicted))
	for id := range m.evicted {
		removed = append(removed, id)
	}
	clear(m.evicted)
	sort.Strings(removed)
	return removed, nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close drops all sessions.
func (m *MemoryStore) Close() error {
	m.cache.Purge()
	return nil
}
