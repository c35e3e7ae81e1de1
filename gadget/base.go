package gadget

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/c360/gadgetmesh/lattice"
)

// Observer receives instrumentation callbacks from gadget transitions.
// *metric.Metrics satisfies it; gadgets run fine without one.
type Observer interface {
	RecordEffect(gadget, port string)
	RecordMerge(gadget string, changed bool)
	RecordContradiction(gadget string)
}

// Base provides the shared gadget mechanics: named output ports, taps,
// outbound connections, the weak self-handle, and disposal. Concrete gadget
// kinds embed Base and drive it through setPort/fanOut.
type Base struct {
	name string
	kind string

	metrics Observer

	mu    sync.Mutex
	ports map[string]lattice.Value
	taps  map[uint64]TapFunc
	conns []*Connection

	nextTap  uint64
	handle   *Handle
	disposed atomic.Bool
	logger   *slog.Logger
}

// NewBase creates the shared mechanics for a gadget. The logger may be nil.
func NewBase(name, kind string, logger *slog.Logger) *Base {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Base{
		name:   name,
		kind:   kind,
		ports:  map[string]lattice.Value{DefaultPort: lattice.Nothing()},
		taps:   make(map[uint64]TapFunc),
		logger: logger.With("gadget", name),
	}
	return b
}

// Name returns the gadget's identity.
func (b *Base) Name() string { return b.name }

// Kind returns the gadget kind string.
func (b *Base) Kind() string { return b.kind }

// Logger returns the gadget-scoped logger.
func (b *Base) Logger() *slog.Logger { return b.logger }

// Current returns the snapshot of the default output port.
func (b *Base) Current() lattice.Value {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ports[DefaultPort]
}

// Port returns the snapshot of a named output port.
func (b *Base) Port(name string) (lattice.Value, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.ports[name]
	return v, ok
}

// Tap attaches an observer and returns its cancel function. After disposal
// taps are no-ops and cancel functions remain safe to call.
func (b *Base) Tap(fn TapFunc) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextTap
	b.nextTap++
	b.taps[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.taps, id)
	}
}

// Connect attaches an outbound connection. Edges to disposed targets are
// pruned lazily on the next emit traversal, never eagerly scanned.
func (b *Base) Connect(conn *Connection) {
	if b.disposed.Load() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conns = append(b.conns, conn)
}

// Handle returns the weak reference other gadgets' connections hold.
func (b *Base) Handle() *Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handle == nil {
		b.handle = &Handle{}
	}
	return b.handle
}

// bind points the weak handle at the concrete gadget. Called once by each
// concrete constructor.
func (b *Base) bind(g Gadget) {
	h := b.Handle()
	h.mu.Lock()
	h.g = g
	h.mu.Unlock()
}

// Dispose severs the gadget from all wiring. Peers simply stop receiving
// further emits; no error is raised anywhere.
func (b *Base) Dispose() {
	if !b.disposed.CompareAndSwap(false, true) {
		return
	}
	b.mu.Lock()
	b.taps = make(map[uint64]TapFunc)
	b.conns = nil
	handle := b.handle
	b.mu.Unlock()
	if handle != nil {
		handle.clear()
	}
}

// Disposed reports whether the gadget has been disposed.
func (b *Base) Disposed() bool {
	return b.disposed.Load()
}

// setPort updates an output port under the gadget's transition lock and
// reports whether the externally visible value changed.
func (b *Base) setPort(port string, v lattice.Value) bool {
	if lattice.Equal(b.ports[port], v) {
		return false
	}
	b.ports[port] = v
	return true
}

// fanOut delivers an effect to every attached observer. It must be called
// without holding the transition lock: downstream Receive calls take their
// own locks, and cyclic topologies terminate because idempotent merges stop
// re-emission.
func (b *Base) fanOut(effect Effect) {
	if b.disposed.Load() {
		return
	}
	if b.metrics != nil {
		b.metrics.RecordEffect(b.name, effect.Port)
	}

	b.mu.Lock()
	taps := make([]TapFunc, 0, len(b.taps))
	for _, fn := range b.taps {
		taps = append(taps, fn)
	}
	conns := b.conns
	b.mu.Unlock()

	pruned := false
	for _, conn := range conns {
		target := conn.Target()
		if target == nil || target.Disposed() {
			pruned = true
			continue
		}
		if conn.SourcePort != "" && conn.SourcePort != effect.Port {
			continue
		}
		forwarded, ok := conn.extract(effect.Value)
		if !ok {
			continue
		}
		target.Receive(forwarded)
	}

	if pruned {
		b.mu.Lock()
		// Compact into a fresh slice: the snapshot above aliases the old
		// backing array and may still be iterated by a concurrent fanOut.
		kept := make([]*Connection, 0, len(b.conns))
		for _, conn := range b.conns {
			if target := conn.Target(); target != nil && !target.Disposed() {
				kept = append(kept, conn)
			}
		}
		b.conns = kept
		b.mu.Unlock()
	}

	for _, fn := range taps {
		fn(effect)
	}
}
