package kvstore

import (
	"context"
	"strings"
	"sync"

	"finvault/internal/sentinel"
)

// InMemoryStore implements Store with a map. It is the default substrate for
// tests and ephemeral sessions.
type InMemoryStore struct {
	mu        sync.RWMutex
	values    map[string]string
	quota     int // total value bytes, 0 = unlimited
	usedBytes int
}

// InMemoryOption configures an InMemoryStore.
type InMemoryOption func(*InMemoryStore)

// WithQuota caps the total stored value bytes. Writes beyond the cap fail
// with sentinel.ErrQuotaExceeded, mimicking browser-style storage limits.
func WithQuota(bytes int) InMemoryOption {
	return func(s *InMemoryStore) {
		s.quota = bytes
	}
}

func NewInMemoryStore(opts ...InMemoryOption) *InMemoryStore {
	s := &InMemoryStore{values: make(map[string]string)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return "", sentinel.ErrNotFound
	}
	return v, nil
}

func (s *InMemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delta := len(value) - len(s.values[key])
	if s.quota > 0 && s.usedBytes+delta > s.quota {
		return sentinel.ErrQuotaExceeded
	}
	s.values[key] = value
	s.usedBytes += delta
	return nil
}

func (s *InMemoryStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.values[key]; ok {
		s.usedBytes -= len(v)
		delete(s.values, key)
	}
	return nil
}

func (s *InMemoryStore) ListKeys(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}
