package tag

import "sync"

// Registry maps outstanding correlation tags to their pending handlers.
//
// There is no capacity bound and no TTL: an entry whose reply never arrives
// stays until the registry is dropped. Callers guard against that with their
// own timeouts.
type Registry[T any] struct {
	mu      sync.Mutex
	pending map[string]T
}

// NewRegistry returns an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{pending: make(map[string]T)}
}

// Set registers v under tag, replacing any previous entry.
func (r *Registry[T]) Set(tag string, v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[tag] = v
}

// Add registers v under tag unless tag is already taken. It reports whether
// v was registered.
func (r *Registry[T]) Add(tag string, v T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[tag]; ok {
		return false
	}
	r.pending[tag] = v
	return true
}

// Get returns the entry for tag.
func (r *Registry[T]) Get(tag string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.pending[tag]
	return v, ok
}

// Delete removes the entry for tag, if any.
func (r *Registry[T]) Delete(tag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, tag)
}

// Take removes and returns the entry for tag in one step.
func (r *Registry[T]) Take(tag string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.pending[tag]
	if ok {
		delete(r.pending, tag)
	}
	return v, ok
}

// Len reports the number of outstanding entries.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
