// Package query defines the boundary to an external pattern-matching
// engine. The mesh consumes the engine purely as an observer source: a
// watch delivers variable bindings, and an adapter turns those bindings
// into gadget receive calls. Nothing here implements matching.
package query

import (
	"github.com/c360/gadgetmesh/errors"
	"github.com/c360/gadgetmesh/gadget"
	"github.com/c360/gadgetmesh/lattice"
)

// Pattern is one triple pattern. Fields starting with '?' are variables;
// anything else matches literally.
type Pattern struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
}

// Spec is a watch specification: every pattern in Patterns must match, and
// no pattern in NAC may match, for a binding to fire.
type Spec struct {
	Patterns []Pattern `json:"patterns"`
	NAC      []Pattern `json:"nac,omitempty"`
}

// Bindings maps variable names to the values they bound to.
type Bindings map[string]lattice.Value

// Callback receives each new binding set produced by a watch.
type Callback func(Bindings)

// Engine is the external pattern engine. Watch installs a standing query
// and returns a function that removes it.
type Engine interface {
	Watch(spec Spec, cb Callback) (unwatch func(), err error)
}

// Transform converts a binding set into the value delivered to a gadget.
// Returning false skips delivery for that binding set.
type Transform func(Bindings) (lattice.Value, bool)

// DictTransform delivers the whole binding set as a dict keyed by variable
// name. Empty binding sets are skipped.
func DictTransform(b Bindings) (lattice.Value, bool) {
	if len(b) == 0 {
		return lattice.Nothing(), false
	}
	fields := make(map[string]lattice.Value, len(b))
	for name, v := range b {
		fields[name] = v
	}
	return lattice.DictOf(fields), true
}

// VarTransform delivers a single bound variable, skipping binding sets
// where it is absent.
func VarTransform(name string) Transform {
	return func(b Bindings) (lattice.Value, bool) {
		v, ok := b[name]
		return v, ok
	}
}

// Feed installs a watch whose bindings are transformed and delivered to the
// target gadget. A nil transform uses DictTransform. The returned unwatch
// removes the standing query.
func Feed(engine Engine, spec Spec, target gadget.Gadget, transform Transform) (func(), error) {
	if engine == nil || target == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Query", "Feed", "argument validation")
	}
	if transform == nil {
		transform = DictTransform
	}

	handle := target.Handle()
	return engine.Watch(spec, func(b Bindings) {
		g := handle.Resolve()
		if g == nil {
			return
		}
		v, ok := transform(b)
		if !ok {
			return
		}
		g.Receive(v)
	})
}
