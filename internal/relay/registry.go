package relay

import (
	"sync"

	"github.com/danmuck/lanrelay/internal/protocol/frame"
)

// Handler consumes one reassembled envelope on the tick goroutine.
type Handler func(frame.Envelope)

// Registry maps frame types to at most one handler each. Registering a type
// twice replaces the earlier handler.
type Registry struct {
	mu       sync.RWMutex
	handlers map[byte]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[byte]Handler)}
}

func (r *Registry) Register(typ byte, h Handler) {
	if h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[typ] = h
}

func (r *Registry) Unregister(typ byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, typ)
}

func (r *Registry) Lookup(typ byte) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[typ]
	return h, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Dispatch runs the handler registered for env.Type and reports whether one
// existed. The handler executes outside the registry lock, so handlers may
// register or unregister types themselves.
func (r *Registry) Dispatch(env frame.Envelope) bool {
	h, ok := r.Lookup(env.Type)
	if !ok {
		return false
	}
	h(env)
	return true
}
