package listener

import (
	"fmt"
	"sort"
	"sync"
)

// Handler is one invocable entry of the worker's command surface.
type Handler func(args []any, kwargs map[string]any) (any, error)

// Registry is the worker-side mapping from command name to handler. The
// host-adapter layer populates it at worker start-up; dispatch-time lookup is
// a plain map access, so there is no way to invoke anything that was not
// explicitly registered.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a command name to its handler. Empty names, nil handlers,
// and duplicate names are rejected.
func (r *Registry) Register(name string, h Handler) error {
	if name == "" {
		return fmt.Errorf("listener: command name must not be empty")
	}
	if h == nil {
		return fmt.Errorf("listener: handler for %q must not be nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[name]; ok {
		return fmt.Errorf("listener: command %q already registered", name)
	}
	r.handlers[name] = h
	return nil
}

// Resolve looks up the handler for a command name.
func (r *Registry) Resolve(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered command names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
