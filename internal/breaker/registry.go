package breaker

import "sync"

// Registry hands out one breaker per named remote subsystem, creating them
// on first use with shared options.
type Registry struct {
	opts Options

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates a registry whose breakers share opts.
func NewRegistry(opts Options) *Registry {
	return &Registry{
		opts:     opts.withDefaults(),
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for name, creating it if needed.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[name]
	if !ok {
		b = New(name, r.opts)
		r.breakers[name] = b
	}
	return b
}

// Snapshot reports the current state of every known circuit.
func (r *Registry) Snapshot() map[string]State {
	r.mu.Lock()
	names := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		names = append(names, b)
	}
	r.mu.Unlock()

	out := make(map[string]State, len(names))
	for _, b := range names {
		out[b.Name()] = b.State()
	}
	return out
}
