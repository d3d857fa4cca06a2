package otp

import (
	"sync"
	"time"
)

// Store holds pending one-time codes. Keeping it behind an interface lets a
// multi-instance deployment swap the in-process map for a shared backend.
type Store interface {
	Put(key, code string, ttl time.Duration)
	Consume(key, code string) bool
}

type entry struct {
	code      string
	expiresAt time.Time
}

type MemoryStore struct {
	mu  sync.Mutex
	m   map[string]entry
	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string]entry), now: time.Now}
}

func (s *MemoryStore) Put(key, code string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	s.m[key] = entry{code: code, expiresAt: s.now().Add(ttl)}
}

// Consume validates and removes the code in one step: a code works at most
// once, and an expired code never works.
func (s *MemoryStore) Consume(key, code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[key]
	if !ok {
		return false
	}
	if s.now().After(e.expiresAt) {
		delete(s.m, key)
		return false
	}
	if e.code != code {
		return false
	}
	delete(s.m, key)
	return true
}

// caller holds the lock
func (s *MemoryStore) sweep() {
	now := s.now()
	for k, e := range s.m {
		if now.After(e.expiresAt) {
			delete(s.m, k)
		}
	}
}
