package session

import (
	"fmt"
	"sync"

	"github.com/mosaictheory-jt/panel-chat/internal/core"
)

// Repository is the keyed store of every session seen in this process,
// active and completed. Sessions are never removed, only hidden from view.
// Callers always receive copies.
type Repository struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session
	order    []string
}

// NewRepository creates an empty repository.
func NewRepository() *Repository {
	return &Repository{
		sessions: make(map[string]*core.Session),
	}
}

// Put inserts or replaces a session.
func (r *Repository) Put(s *core.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[s.ID]; !exists {
		r.order = append(r.order, s.ID)
	}
	r.sessions[s.ID] = s.Clone()
}

// Get returns a copy of the session.
func (r *Repository) Get(id string) (*core.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// Has reports whether the session is stored.
func (r *Repository) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[id]
	return ok
}

// Update replaces the stored session with the result of fn. fn receives a
// copy; returning an error leaves the stored session untouched.
func (r *Repository) Update(id string, fn func(s *core.Session) (*core.Session, error)) (*core.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	next, err := fn(current.Clone())
	if err != nil {
		return nil, err
	}
	r.sessions[id] = next
	return next.Clone(), nil
}

// List returns copies of all sessions in insertion order.
func (r *Repository) List() []*core.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*core.Session, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sessions[id].Clone())
	}
	return out
}

// Len returns the number of stored sessions.
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
