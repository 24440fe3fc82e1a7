// Package provider maps provider identifiers to construction functions so that
// misconfigured identifiers fail at startup instead of on the first call.
package provider

import (
	"fmt"
	"slices"
	"sync"

	"github.com/foxseedlab/disciplinecall/internal/call"
)

type Constructor[T any] func() (T, error)

type Registry[T any] struct {
	name string

	mu           sync.RWMutex
	constructors map[string]Constructor[T]
}

func NewRegistry[T any](name string) *Registry[T] {
	return &Registry[T]{
		name:         name,
		constructors: make(map[string]Constructor[T]),
	}
}

func (r *Registry[T]) Register(id string, fn Constructor[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[id] = fn
}

func (r *Registry[T]) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.constructors))
	for id := range r.constructors {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (r *Registry[T]) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.constructors[id]
	return ok
}

// Build constructs the provider registered under id. Unknown identifiers and
// constructor failures are both reported as configuration errors.
func (r *Registry[T]) Build(id string) (T, error) {
	r.mu.RLock()
	fn, ok := r.constructors[id]
	r.mu.RUnlock()
	var zero T
	if !ok {
		return zero, call.NewConfigurationError("build "+r.name, fmt.Errorf("unknown %s provider %q (known: %v)", r.name, id, r.IDs()))
	}
	v, err := fn()
	if err != nil {
		return zero, call.NewConfigurationError("build "+r.name, fmt.Errorf("%s provider %q: %w", r.name, id, err))
	}
	return v, nil
}

// BuildAll constructs every listed provider, failing on the first error.
func (r *Registry[T]) BuildAll(ids []string) (map[string]T, error) {
	out := make(map[string]T, len(ids))
	for _, id := range ids {
		v, err := r.Build(id)
		if err != nil {
			return nil, err
		}
		out[id] = v
	}
	return out, nil
}
