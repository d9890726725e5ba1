package stats

import (
	"context"
	"sync"
)

// MemoryStore keeps counters in process memory. It never expires anything and
// only sees decisions of the local instance.
type MemoryStore struct {
	mu      sync.Mutex
	total   Counters
	byRoute map[string]Counters
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byRoute: make(map[string]Counters)}
}

func bump(c Counters, allowed bool) Counters {
	if allowed {
		c.Allowed++
	} else {
		c.Denied++
	}
	return c
}

func (s *MemoryStore) Record(_ context.Context, ev Event) error {
	route := ev.Method + " " + ev.Path

	s.mu.Lock()
	defer s.mu.Unlock()

	s.total = bump(s.total, ev.Allowed)
	s.byRoute[route] = bump(s.byRoute[route], ev.Allowed)
	return nil
}

func (s *MemoryStore) Snapshot(_ context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	routes := make(map[string]Counters, len(s.byRoute))
	for k, v := range s.byRoute {
		routes[k] = v
	}
	return Snapshot{Total: s.total, Routes: routes}, nil
}
