// Package presence tracks which users hold a live connection.
package presence

import "sync"

// Handle is a live connection that events can be pushed to.
type Handle interface {
	ID() string
	Push(event string, data any) error
}

// Registry maps a user id to that user's single reachable connection.
// A newer registration replaces the older one.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]Handle
}

func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]Handle)}
}

// Register stores h for userID and returns the handle it replaced, if any.
func (r *Registry) Register(userID string, h Handle) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	previous, ok := r.handles[userID]
	r.handles[userID] = h
	return previous, ok
}

func (r *Registry) Unregister(userID string) {
	r.mu.Lock()
	delete(r.handles, userID)
	r.mu.Unlock()
}

// Release removes userID only while h is still the registered handle, so a
// replaced connection closing late cannot evict its successor.
func (r *Registry) Release(userID string, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.handles[userID]
	if !ok || current.ID() != h.ID() {
		return false
	}
	delete(r.handles, userID)
	return true
}

func (r *Registry) Lookup(userID string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[userID]
	return h, ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}
