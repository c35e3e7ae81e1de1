// Package wiring assembles gadget topologies. Composition is declarative: a
// document of spawn/wire actions describes the topology as data, so it can
// be validated, diffed, and replayed. Builder helpers cover the common
// shapes (pipeline, fork, combine) without hand-writing actions.
package wiring

import (
	"fmt"
	"sync"

	"github.com/c360/gadgetmesh/errors"
	"github.com/c360/gadgetmesh/gadget"
	"github.com/c360/gadgetmesh/lattice"
	"github.com/c360/gadgetmesh/registry"
)

// Action ops.
const (
	OpSpawn = "spawn"
	OpWire  = "wire"
)

// Action is one step of a topology document.
type Action struct {
	Op string `json:"op"`

	// Spawn fields.
	Name  string `json:"name,omitempty"`
	Kind  string `json:"kind,omitempty"`
	Merge string `json:"merge,omitempty"`

	// Wire fields.
	Source     string   `json:"source,omitempty"`
	Target     string   `json:"target,omitempty"`
	SourcePort string   `json:"source_port,omitempty"`
	TargetPort string   `json:"target_port,omitempty"`
	Keys       []string `json:"keys,omitempty"`
}

// Factory builds a gadget for a spawn action.
type Factory func(a Action) (gadget.Gadget, error)

// Interpreter applies action documents against a registry scope.
type Interpreter struct {
	scope *registry.Registry

	mu         sync.RWMutex
	factories  map[string]Factory
	gadgetOpts []gadget.Option
}

// NewInterpreter creates an interpreter with the built-in gadget kinds
// (cell, ordinal-cell) pre-registered. Any gadget options are applied to
// every gadget the built-in factories spawn.
func NewInterpreter(scope *registry.Registry, gadgetOpts ...gadget.Option) (*Interpreter, error) {
	if scope == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Interpreter", "NewInterpreter", "scope validation")
	}
	in := &Interpreter{
		scope:      scope,
		factories:  make(map[string]Factory),
		gadgetOpts: gadgetOpts,
	}
	in.factories[gadget.KindCell] = func(a Action) (gadget.Gadget, error) {
		op, ok := lattice.LookupOp(a.Merge)
		if !ok {
			return nil, fmt.Errorf("unknown merge operator %q: %w", a.Merge, errors.ErrUnknownMergeOp)
		}
		return gadget.NewCell(a.Name, op, in.gadgetOpts...), nil
	}
	in.factories[gadget.KindOrdinalCell] = func(a Action) (gadget.Gadget, error) {
		return gadget.NewOrdinalCell(a.Name, in.gadgetOpts...), nil
	}
	return in, nil
}

// RegisterFactory adds or replaces the factory for a gadget kind.
func (in *Interpreter) RegisterFactory(kind string, f Factory) {
	in.mu.Lock()
	in.factories[kind] = f
	in.mu.Unlock()
}

// Apply executes the actions in order. Spawned gadgets are registered in the
// interpreter's scope; wires connect gadgets already present in it.
func (in *Interpreter) Apply(actions []Action) error {
	for i, a := range actions {
		var err error
		switch a.Op {
		case OpSpawn:
			err = in.spawn(a)
		case OpWire:
			err = in.wire(a)
		default:
			err = errors.WrapInvalid(
				fmt.Errorf("unknown action op %q", a.Op),
				"Interpreter", "Apply", "action dispatch")
		}
		if err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
	}
	return nil
}

func (in *Interpreter) spawn(a Action) error {
	if a.Name == "" {
		return errors.WrapInvalid(
			fmt.Errorf("spawn requires a name"),
			"Interpreter", "spawn", "action validation")
	}
	in.mu.RLock()
	factory, ok := in.factories[a.Kind]
	in.mu.RUnlock()
	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("unknown gadget kind %q", a.Kind),
			"Interpreter", "spawn", "factory lookup")
	}
	g, err := factory(a)
	if err != nil {
		return errors.WrapInvalid(err, "Interpreter", "spawn", "gadget construction")
	}
	meta := map[string]string{"kind": a.Kind}
	if a.Merge != "" {
		meta["merge"] = a.Merge
	}
	return in.scope.Register(a.Name, g, meta)
}

func (in *Interpreter) wire(a Action) error {
	if a.Source == "" || a.Target == "" {
		return errors.WrapInvalid(
			fmt.Errorf("wire requires source and target"),
			"Interpreter", "wire", "action validation")
	}
	source, ok := in.scope.Resolve(a.Source)
	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("source %q: %w", a.Source, errors.ErrNotFound),
			"Interpreter", "wire", "source lookup")
	}
	target, ok := in.scope.Resolve(a.Target)
	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("target %q: %w", a.Target, errors.ErrNotFound),
			"Interpreter", "wire", "target lookup")
	}
	Wire(source, target, a.SourcePort, a.TargetPort, a.Keys...)
	return nil
}

// Wire connects a source output port to a target input port with optional
// key extraction. Empty ports default to the single value port.
func Wire(source, target gadget.Gadget, sourcePort, targetPort string, keys ...string) {
	if sourcePort == "" {
		sourcePort = gadget.DefaultPort
	}
	if targetPort == "" {
		targetPort = gadget.DefaultPort
	}
	source.Connect(gadget.NewConnection(target, sourcePort, targetPort, keys...))
}

// Stage pairs a pipeline or fork member with the keys extracted from the
// value flowing into it.
type Stage struct {
	Gadget gadget.Gadget
	Keys   []string
}

// Pipeline chains stages so each stage's emitted value, optionally narrowed
// by the next stage's key list, becomes the next stage's input.
func Pipeline(stages ...Stage) error {
	if len(stages) < 2 {
		return errors.WrapInvalid(
			fmt.Errorf("pipeline needs at least two stages, got %d", len(stages)),
			"Wiring", "Pipeline", "stage validation")
	}
	for i := 0; i < len(stages)-1; i++ {
		next := stages[i+1]
		Wire(stages[i].Gadget, next.Gadget, gadget.DefaultPort, gadget.DefaultPort, next.Keys...)
	}
	return nil
}

// Fork feeds one input gadget into N independent branches; each branch may
// extract a different subset of fields.
func Fork(input gadget.Gadget, branches ...Stage) error {
	if len(branches) == 0 {
		return errors.WrapInvalid(
			fmt.Errorf("fork needs at least one branch"),
			"Wiring", "Fork", "branch validation")
	}
	for _, branch := range branches {
		Wire(input, branch.Gadget, gadget.DefaultPort, gadget.DefaultPort, branch.Keys...)
	}
	return nil
}

// Combine wires N sources into a single merger gadget; the merger's own
// merge operator decides how concurrent inputs reconcile.
func Combine(merger gadget.Gadget, sources ...gadget.Gadget) error {
	if len(sources) == 0 {
		return errors.WrapInvalid(
			fmt.Errorf("combine needs at least one source"),
			"Wiring", "Combine", "source validation")
	}
	for _, source := range sources {
		Wire(source, merger, gadget.DefaultPort, gadget.DefaultPort)
	}
	return nil
}
