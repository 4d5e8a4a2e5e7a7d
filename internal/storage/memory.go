package storage

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	value []byte
	until int64 // unix milli, 0 = no expiry
}

// Memory is a process-local Store. Expired entries are dropped lazily.
type Memory struct {
	mu     sync.Mutex
	m      map[string]memEntry
	closed bool
	now    func() time.Time
}

func NewMemory() *Memory {
	return &Memory{m: map[string]memEntry{}, now: time.Now}
}

func (s *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	e, ok := s.m[key]
	if !ok {
		return nil, false, nil
	}
	if expired(e.until, s.now()) {
		delete(s.m, key)
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (s *Memory) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.m[key] = memEntry{value: append([]byte(nil), value...), until: expiry(s.now(), ttl)}
	return nil
}

func (s *Memory) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.m, key)
	return nil
}

func (s *Memory) Close() error {
	s.mu.Lock()
	s.closed = true
	s.m = nil
	s.mu.Unlock()
	return nil
}
