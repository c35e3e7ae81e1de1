// Package gadget implements the gadget/cell protocol: small autonomous units
// that hold state, accept inputs via Receive, and notify observers via
// synchronous Emit fan-out. Gadget logic never references a transport; the
// same gadget runs unchanged over in-process calls, pipes, sockets, or a
// message bus.
package gadget

import (
	"sync"

	"github.com/c360/gadgetmesh/lattice"
)

// Effect type names emitted by the core gadget kinds.
const (
	EffectChanged = "changed"
	EffectStatus  = "status"
)

// DefaultPort is the output port used by single-valued gadgets.
const DefaultPort = "value"

// Effect is the notification a gadget fans out to its observers when an
// output port changes.
type Effect struct {
	Source string        `json:"source"`
	Port   string        `json:"port"`
	Type   string        `json:"type"`
	Value  lattice.Value `json:"value"`
}

// TapFunc observes emitted effects. Taps are fire-and-forget: the emitting
// gadget never blocks on, retries, or inspects observer behavior.
type TapFunc func(Effect)

// Ordering describes how a gadget reconciles concurrent writes, reported by
// the INFO capability flags.
type Ordering string

// Ordering values.
const (
	OrderingNone     Ordering = "none"
	OrderingOrdinal  Ordering = "ordinal"
	OrderingSequence Ordering = "sequence"
)

// Info describes a gadget's identity and capabilities.
type Info struct {
	Name     string   `json:"name"`
	Kind     string   `json:"kind"`
	Merge    string   `json:"merge,omitempty"`
	Readable bool     `json:"readable"`
	Writable bool     `json:"writable"`
	Ordering Ordering `json:"ordering"`
}

// Gadget is the core protocol. Receive applies new data, Current reads the
// present output snapshot without side effects, Tap attaches an observer.
// A gadget's own state transition (receive, merge, possible emit) is
// serialized; different gadgets process independently.
type Gadget interface {
	Name() string
	Info() Info

	Receive(in lattice.Value)
	Current() lattice.Value

	Tap(fn TapFunc) (cancel func())
	Connect(conn *Connection)

	Handle() *Handle
	Dispose()
	Disposed() bool
}

// Handle is the weak back-reference connections hold to their target. It
// stops resolving once the gadget is disposed, so stale edges never keep a
// disposed gadget reachable; dead connections are pruned lazily on the next
// emit traversal.
type Handle struct {
	mu sync.RWMutex
	g  Gadget
}

func newHandle(g Gadget) *Handle {
	return &Handle{g: g}
}

// Resolve returns the referenced gadget, or nil after disposal.
func (h *Handle) Resolve() Gadget {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.g
}

func (h *Handle) clear() {
	h.mu.Lock()
	h.g = nil
	h.mu.Unlock()
}

// Connection is a directed edge from a source output port to a target input.
// It is pure data and carries no transport semantics. An optional extraction
// key list narrows which fields of an emitted dict value are forwarded; an
// absent key skips that particular forwarding entirely.
type Connection struct {
	SourcePort string   `json:"source_port"`
	TargetPort string   `json:"target_port"`
	Keys       []string `json:"keys,omitempty"`

	target *Handle
}

// NewConnection builds an edge toward the given target gadget.
func NewConnection(target Gadget, sourcePort, targetPort string, keys ...string) *Connection {
	return &Connection{
		SourcePort: sourcePort,
		TargetPort: targetPort,
		Keys:       keys,
		target:     target.Handle(),
	}
}

// Target resolves the connection's target, or nil if it was disposed.
func (c *Connection) Target() Gadget {
	if c.target == nil {
		return nil
	}
	return c.target.Resolve()
}

// extract narrows an emitted value through the connection's key list.
// The second result is false when the forwarding must be skipped.
func (c *Connection) extract(v lattice.Value) (lattice.Value, bool) {
	if len(c.Keys) == 0 {
		return v, true
	}
	if len(c.Keys) == 1 {
		field, ok := v.Field(c.Keys[0])
		return field, ok
	}
	narrowed := make(map[string]lattice.Value, len(c.Keys))
	for _, key := range c.Keys {
		field, ok := v.Field(key)
		if !ok {
			return lattice.Nothing(), false
		}
		narrowed[key] = field
	}
	return lattice.DictOf(narrowed), true
}
