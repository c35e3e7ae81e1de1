// Package registry provides name-keyed gadget discovery with deferred
// resolution. Consumers may look up a dependency before its producer has
// spawned it: the lookup stays pending and resolves the moment a matching
// registration occurs, which makes wiring independent of startup order.
package registry

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/c360/gadgetmesh/errors"
	"github.com/c360/gadgetmesh/gadget"
)

// State tags the outcome of a lookup.
type State int

const (
	// StateResolved means the name is currently registered.
	StateResolved State = iota
	// StateNotFound means the name is not registered in this scope or any
	// parent scope. Reported, never thrown.
	StateNotFound
)

// Result is the explicit tagged outcome of a synchronous lookup.
type Result struct {
	State  State
	Gadget gadget.Gadget
	Meta   map[string]string
}

// Entry pairs a registered gadget with its metadata.
type Entry struct {
	Gadget gadget.Gadget
	Meta   map[string]string
}

// Registry is a single authoritative naming scope. Registration is last
// writer wins; the registry is deliberately not merge-consistent. A registry
// may chain to a parent scope for nested lookup.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	waiters map[string][]chan gadget.Gadget
	parent  *Registry
}

// New creates an empty root scope.
func New() *Registry {
	return &Registry{
		entries: make(map[string]Entry),
		waiters: make(map[string][]chan gadget.Gadget),
	}
}

// NewChild creates a scope that delegates unresolved lookups to r.
func (r *Registry) NewChild() *Registry {
	child := New()
	child.parent = r
	return child
}

// Register inserts a gadget under the given name, replacing any prior entry,
// and resolves every lookup pending on that name.
func (r *Registry) Register(name string, g gadget.Gadget, meta map[string]string) error {
	if name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register", "name validation")
	}
	if g == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register", "gadget validation")
	}

	r.mu.Lock()
	r.entries[name] = Entry{Gadget: g, Meta: meta}
	pending := r.waiters[name]
	delete(r.waiters, name)
	r.mu.Unlock()

	// All waiters pending at registration time observe the same gadget. A
	// waiter may be parked in several scopes of a chain; whichever scope
	// registers first fills its buffer and later sends are no-ops.
	for _, ch := range pending {
		select {
		case ch <- g:
		default:
		}
	}
	return nil
}

// Unregister removes a name from this scope. Pending lookups stay pending.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	delete(r.entries, name)
	r.mu.Unlock()
}

// Resolve returns the gadget registered under name in this scope or, if
// absent, in the parent chain.
func (r *Registry) Resolve(name string) (gadget.Gadget, bool) {
	r.mu.RLock()
	entry, ok := r.entries[name]
	r.mu.RUnlock()
	if ok {
		return entry.Gadget, true
	}
	if r.parent != nil {
		return r.parent.Resolve(name)
	}
	return nil, false
}

// Lookup reports the current registration state for a name as an explicit
// tagged result: resolved or not found.
func (r *Registry) Lookup(name string) Result {
	r.mu.RLock()
	entry, ok := r.entries[name]
	r.mu.RUnlock()
	if ok {
		return Result{State: StateResolved, Gadget: entry.Gadget, Meta: entry.Meta}
	}
	if r.parent != nil {
		return r.parent.Lookup(name)
	}
	return Result{State: StateNotFound}
}

// Await resolves immediately when the name is registered in this scope or a
// parent, otherwise blocks until a matching Register call anywhere in the
// scope chain or context cancellation. The waiter is parked in every scope
// of the chain, so a later registration in a parent resolves a child's
// pending lookup; when several scopes register concurrently, the first
// registration wins.
func (r *Registry) Await(ctx context.Context, name string) (gadget.Gadget, error) {
	ch := make(chan gadget.Gadget, 1)
	parked := make([]*Registry, 0, 2)
	unpark := func() {
		for _, scope := range parked {
			scope.dropWaiter(name, ch)
		}
	}

	for scope := r; scope != nil; scope = scope.parent {
		scope.mu.Lock()
		if entry, ok := scope.entries[name]; ok {
			scope.mu.Unlock()
			unpark()
			return entry.Gadget, nil
		}
		scope.waiters[name] = append(scope.waiters[name], ch)
		scope.mu.Unlock()
		parked = append(parked, scope)
	}

	select {
	case g := <-ch:
		unpark()
		return g, nil
	case <-ctx.Done():
		unpark()
		return nil, errors.WrapTransient(
			fmt.Errorf("awaiting %q: %w", name, ctx.Err()),
			"Registry", "Await", "pending lookup")
	}
}

func (r *Registry) dropWaiter(name string, ch chan gadget.Gadget) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pending := r.waiters[name]
	for i, w := range pending {
		if w == ch {
			r.waiters[name] = append(pending[:i], pending[i+1:]...)
			break
		}
	}
	if len(r.waiters[name]) == 0 {
		delete(r.waiters, name)
	}
}

// Names lists the names registered in this scope only.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}

// Entries returns a copy of this scope's entries.
func (r *Registry) Entries() map[string]Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Entry, len(r.entries))
	maps.Copy(out, r.entries)
	return out
}

// Dispose disposes the named gadget and removes it from this scope.
// Reported as not found when the name is unknown.
func (r *Registry) Dispose(name string) error {
	r.mu.Lock()
	entry, ok := r.entries[name]
	if ok {
		delete(r.entries, name)
	}
	r.mu.Unlock()

	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("dispose %q: %w", name, errors.ErrNotFound),
			"Registry", "Dispose", "name lookup")
	}
	entry.Gadget.Dispose()
	return nil
}
