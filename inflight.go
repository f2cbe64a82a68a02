package svchost

import "sync"

// inflightSet enforces at-most-one-in-flight-operation-per-service. It is a
// try-lock, not a queue: the losing caller gets a conflict immediately.
type inflightSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newInflightSet() *inflightSet {
	return &inflightSet{ids: make(map[string]struct{})}
}

// acquire reports whether the caller now owns the id
func (s *inflightSet) acquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.ids[id]; busy {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

func (s *inflightSet) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
}
