package wallet

import "sync"

// Store associates conversations with their wallet adapter.
type Store struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewStore() *Store {
	return &Store{adapters: make(map[string]Adapter)}
}

func (s *Store) Add(conversation string, a Adapter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adapters[conversation] = a
}

func (s *Store) Get(conversation string) (Adapter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.adapters[conversation]
	return a, ok
}

func (s *Store) Remove(conversation string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.adapters, conversation)
}

// RemoveIf evicts the association only while it still points at a, so a late
// disconnect of an old adapter cannot evict its replacement.
func (s *Store) RemoveIf(conversation string, a Adapter) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.adapters[conversation]; ok && cur == a {
		delete(s.adapters, conversation)
		return true
	}
	return false
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.adapters)
}
