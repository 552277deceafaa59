package storage

import (
	"context"
	"sync"
)

// MemoryStore 是进程内的 Store 实现，并记录写入顺序，便于观察。
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]string
	writes []string
	closed bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (s *MemoryStore) Put(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.data[key] = value
	s.writes = append(s.writes, key)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", ErrClosed
	}
	v, ok := s.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Writes 返回按时间顺序写入过的键。
func (s *MemoryStore) Writes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.writes))
	copy(out, s.writes)
	return out
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
