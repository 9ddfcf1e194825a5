package jobs

import (
	"context"
	"fmt"
	"sync"
)

// Callable is an invocable function a job points at. Positional arguments
// arrive in declaration order, keyword arguments by key.
type Callable func(ctx context.Context, args []interface{}, kwargs map[string]interface{}) (interface{}, error)

// CallableResolver maps a dotted reference string to a Callable.
type CallableResolver interface {
	// Resolve returns the callable registered under ref, or an error
	// wrapping ErrUnresolvedReference.
	Resolve(ref string) (Callable, error)
}

// CallableRegistry is an explicit lookup table from reference strings to
// functions. References are registered at program start; there is no
// reflection over package paths.
type CallableRegistry struct {
	mu    sync.RWMutex
	funcs map[string]Callable
}

// NewCallableRegistry creates an empty registry.
func NewCallableRegistry() *CallableRegistry {
	return &CallableRegistry{funcs: make(map[string]Callable)}
}

// Register binds a reference string to a callable, replacing any previous
// binding for the same reference.
func (r *CallableRegistry) Register(ref string, fn Callable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[ref] = fn
}

// Resolve implements CallableResolver.
func (r *CallableRegistry) Resolve(ref string) (Callable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.funcs[ref]
	if !ok || fn == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnresolvedReference, ref)
	}
	return fn, nil
}

// Refs returns the registered reference strings, for diagnostics.
func (r *CallableRegistry) Refs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	refs := make([]string, 0, len(r.funcs))
	for ref := range r.funcs {
		refs = append(refs, ref)
	}
	return refs
}
