package engine

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps engine identifiers to configured engines so callers
// can resolve the backend a request names.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]Batch
}

func NewRegistry() *Registry {
	return &Registry{engines: make(map[string]Batch)}
}

// Register adds an engine under its identifier. Registering the same
// identifier twice is a programming error.
func (r *Registry) Register(name string, b Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.engines[name]; ok {
		return fmt.Errorf("engine %q already registered", name)
	}
	r.engines[name] = b
	return nil
}

// Get resolves an engine by identifier.
func (r *Registry) Get(name string) (Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.engines[name]
	if !ok {
		return nil, fmt.Errorf("unknown engine %q", name)
	}
	return b, nil
}

// Has reports whether an identifier is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.engines[name]
	return ok
}

// Names lists registered identifiers, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
