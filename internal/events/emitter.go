package events

import "sync"

// Emitter fans events out to registered handlers in registration order.
type Emitter struct {
	mu       sync.RWMutex
	nextID   uint32
	handlers []wrapped
}

type wrapped struct {
	id uint32
	fn Handler
}

// Add registers fn and returns an id for Remove.
func (e *Emitter) Add(fn Handler) uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	e.handlers = append(e.handlers, wrapped{id: e.nextID, fn: fn})
	return e.nextID
}

// Remove unregisters the handler with id. It reports whether one was found.
func (e *Emitter) Remove(id uint32) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, h := range e.handlers {
		if h.id == id {
			e.handlers = append(e.handlers[:i], e.handlers[i+1:]...)
			return true
		}
	}
	return false
}

// Emit delivers evt synchronously to every handler.
func (e *Emitter) Emit(evt any) {
	e.mu.RLock()
	hs := make([]Handler, len(e.handlers))
	for i, h := range e.handlers {
		hs[i] = h.fn
	}
	e.mu.RUnlock()
	for _, fn := range hs {
		fn(evt)
	}
}
