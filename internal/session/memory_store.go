package session

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	values    map[string]string
	expiresAt time.Time
}

// MemoryStore keeps sessions in process memory. Used for local development
// and tests; sessions do not survive a restart.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*memoryEntry
	ttl      time.Duration
	nowF     func() time.Time
}

// NewMemoryStore creates a MemoryStore whose sessions idle out after ttl.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memoryEntry),
		ttl:      ttl,
		nowF:     time.Now,
	}
}

// live returns the entry for id, dropping it if it has idled out. Caller holds mu.
func (s *MemoryStore) live(id string) *memoryEntry {
	entry, ok := s.sessions[id]
	if !ok {
		return nil
	}
	if s.nowF().After(entry.expiresAt) {
		delete(s.sessions, id)
		return nil
	}
	return entry
}

func (s *MemoryStore) Get(_ context.Context, id, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.live(id)
	if entry == nil {
		return "", false, nil
	}
	value, ok := entry.values[key]
	return value, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, id, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.live(id)
	if entry == nil {
		entry = &memoryEntry{values: make(map[string]string)}
		s.sessions[id] = entry
	}
	entry.values[key] = value
	entry.expiresAt = s.nowF().Add(s.ttl)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.live(id)
	if entry == nil {
		return nil
	}
	for _, key := range keys {
		delete(entry.values, key)
	}
	return nil
}

func (s *MemoryStore) Keys(_ context.Context, id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.live(id)
	if entry == nil {
		return []string{}, nil
	}
	keys := make([]string, 0, len(entry.values))
	for key := range entry.values {
		keys = append(keys, key)
	}
	return keys, nil
}

func (s *MemoryStore) Destroy(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

// Sweep drops every idled-out session and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowF()
	removed := 0
	for id, entry := range s.sessions {
		if now.After(entry.expiresAt) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}
