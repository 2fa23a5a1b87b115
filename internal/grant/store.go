package grant

import (
	"fmt"
	"sync"
	"time"
)

// Store is the authoritative registry of pending grant requests.
// Every method is atomic with respect to the others; callers only ever
// see fully constructed copies.
type Store struct {
	mu       sync.RWMutex
	requests map[string]Request
	order    []string
	now      func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		requests: make(map[string]Request),
		now:      time.Now,
	}
}

// Add inserts req. CreatedAt defaults to now when unset.
func (s *Store) Add(req Request) error {
	id := NormalizeID(req.ID)
	if id == "" {
		return fmt.Errorf("grant request id is required")
	}
	req.ID = id
	req = req.clone()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	s.requests[id] = req
	s.order = append(s.order, id)
	return nil
}

// Exists reports whether id is pending.
func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.requests[NormalizeID(id)]
	return ok
}

// Get returns a copy of the pending request.
func (s *Store) Get(id string) (Request, error) {
	id = NormalizeID(id)

	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[id]
	if !ok {
		return Request{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return req.clone(), nil
}

// Remove deletes id. Removing an absent id is a no-op.
func (s *Store) Remove(id string) {
	_, _ = s.Take(id)
}

// Take removes id and returns what was stored. Exactly one concurrent
// caller gets the request; the rest get ErrNotFound.
func (s *Store) Take(id string) (Request, error) {
	id = NormalizeID(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return Request{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.requests, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return req, nil
}

// ListIDs returns pending ids in insertion order.
func (s *Store) ListIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, len(s.order))
	copy(ids, s.order)
	return ids
}

// List returns copies of all pending requests in insertion order.
func (s *Store) List() []Request {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Request, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.requests[id].clone())
	}
	return out
}

// Count returns the number of pending requests.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.requests)
}
