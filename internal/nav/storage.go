package nav

import "sync"

// IntendedRouteKey is the session storage key of the route a user tried to
// reach before being sent to the login page.
const IntendedRouteKey = "intendedRoute"

// Storage is a session-scoped string map.
type Storage struct {
	mu sync.Mutex
	m  map[string]string
}

// NewStorage returns an empty Storage.
func NewStorage() *Storage {
	return &Storage{m: make(map[string]string)}
}

// Get returns the value under key.
func (s *Storage) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	return v, ok
}

// Set stores value under key.
func (s *Storage) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
}

// Take returns the value under key and deletes it.
func (s *Storage) Take(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	delete(s.m, key)
	return v, ok
}

// Clear drops every key.
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.m)
}
