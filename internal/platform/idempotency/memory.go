package idempotency

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	reservedAt time.Time
	responded  bool
	status     int
	body       []byte
}

// MemoryStore is an in-process Store for tests and single-instance runs.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry)}
}

// Reserve implements Store.
func (s *MemoryStore) Reserve(_ context.Context, key string, now time.Time) (Reservation, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Reservation{}, errors.New("idempotency: key is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[key]
	if !exists {
		s.entries[key] = &memoryEntry{reservedAt: now}
		return Reservation{Fresh: true}, nil
	}
	if !entry.responded {
		return Reservation{}, ErrKeyInFlight
	}
	return Reservation{
		ReplayStatus: entry.status,
		ReplayBody:   append([]byte(nil), entry.body...),
	}, nil
}

// SaveResponse implements Store.
func (s *MemoryStore) SaveResponse(_ context.Context, key string, status int, body []byte, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[strings.TrimSpace(key)]
	if !exists {
		return errors.New("idempotency: key was not reserved")
	}
	entry.responded = true
	entry.status = status
	entry.body = append([]byte(nil), body...)
	return nil
}

// Release implements Store.
func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, strings.TrimSpace(key))
	return nil
}

// CleanupExpired implements Store.
func (s *MemoryStore) CleanupExpired(_ context.Context, cutoff time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.entries {
		if limit > 0 && removed >= limit {
			break
		}
		if entry.reservedAt.Before(cutoff) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}
