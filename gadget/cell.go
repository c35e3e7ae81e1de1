package gadget

import (
	"log/slog"
	"sync/atomic"

	"github.com/c360/gadgetmesh/lattice"
)

// Gadget kind names.
const (
	KindCell        = "cell"
	KindOrdinalCell = "ordinal-cell"
	KindSink        = "sink"
)

// processSeq is the process-local arrival counter used by latest-by-sequence
// cells. Monotonic per process, never wall clock, so clock skew cannot
// reorder writes.
var processSeq atomic.Uint64

func nextSeq() uint64 {
	return processSeq.Add(1)
}

// Option configures gadget construction.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	initial lattice.Value
	metrics Observer
}

// WithLogger attaches a structured logger to the gadget.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics attaches an instrumentation observer. Transitions record
// merge outcomes, contradictions and emitted effects against it.
func WithMetrics(m Observer) Option {
	return func(o *options) { o.metrics = m }
}

// WithInitial seeds the gadget's output port. The default is nothing.
func WithInitial(v lattice.Value) Option {
	return func(o *options) { o.initial = v }
}

func applyOptions(opts []Option) options {
	o := options{initial: lattice.Nothing()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Cell is a stateful gadget whose output equals its merge operator folded
// over every value ever delivered to it. Order of delivery does not matter;
// duplicates are silent no-ops.
type Cell struct {
	*Base
	op    lattice.Op
	stamp bool // assign a process-local arrival ordinal on acceptance
}

// NewCell spawns a cell with the given ACI merge operator.
func NewCell(name string, op lattice.Op, opts ...Option) *Cell {
	o := applyOptions(opts)
	c := &Cell{
		Base:  NewBase(name, KindCell, o.logger),
		op:    op,
		stamp: op.Name == lattice.LatestBySeq.Name,
	}
	c.metrics = o.metrics
	c.mu.Lock()
	c.ports[DefaultPort] = o.initial
	c.mu.Unlock()
	c.bind(c)
	return c
}

// Op returns the cell's merge operator.
func (c *Cell) Op() lattice.Op { return c.op }

// Info reports capability flags derived from the cell's merge operator.
func (c *Cell) Info() Info {
	ordering := OrderingNone
	if c.stamp {
		ordering = OrderingSequence
	}
	return Info{
		Name:     c.Name(),
		Kind:     c.Kind(),
		Merge:    c.op.Name,
		Readable: true,
		Writable: true,
		Ordering: ordering,
	}
}

// Receive merges new data into the cell. Inputs of a kind the operator does
// not accept are ignored: no state change, no emission. A merge that yields
// a contradiction is emitted like any other changed value.
func (c *Cell) Receive(in lattice.Value) {
	if c.Disposed() {
		return
	}
	if !c.op.Accepts(in) {
		c.Logger().Debug("ignoring input of unsupported kind", "kind", in.Kind.String(), "merge", c.op.Name)
		return
	}
	if c.stamp {
		in = in.WithOrdinal(nextSeq())
	}

	c.mu.Lock()
	prev := c.ports[DefaultPort]
	merged := c.op.Merge(prev, in)
	c.ports[DefaultPort] = merged
	// A fresh arrival stamp alone is not an externally visible change.
	changed := !lattice.Equal(merged.WithOrdinal(0), prev.WithOrdinal(0))
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordMerge(c.Name(), changed)
		if changed && merged.IsContradiction() {
			c.metrics.RecordContradiction(c.Name())
		}
	}
	if changed {
		c.fanOut(Effect{Source: c.Name(), Port: DefaultPort, Type: EffectChanged, Value: merged})
	}
}

// OrdinalCell is a cell for last-writer-style state. Each locally accepted
// write is stamped with the next ordinal; only a strictly greater ordinal
// changes the visible output, so out-of-order redeliveries are ignored
// rather than clobbering newer state.
type OrdinalCell struct {
	*Base
	lastOrd uint64 // guarded by mu
}

// NewOrdinalCell spawns an ordinal last-writer-wins cell.
func NewOrdinalCell(name string, opts ...Option) *OrdinalCell {
	o := applyOptions(opts)
	c := &OrdinalCell{Base: NewBase(name, KindOrdinalCell, o.logger)}
	c.metrics = o.metrics
	c.mu.Lock()
	c.ports[DefaultPort] = o.initial
	c.lastOrd = o.initial.Ord
	c.mu.Unlock()
	c.bind(c)
	return c
}

// Info reports capability flags for the ordinal cell.
func (c *OrdinalCell) Info() Info {
	return Info{
		Name:     c.Name(),
		Kind:     c.Kind(),
		Merge:    lattice.OrdinalLWW.Name,
		Readable: true,
		Writable: true,
		Ordering: OrderingOrdinal,
	}
}

// Set applies a local explicit write. The value is stamped with the next
// ordinal at the point of acceptance.
func (c *OrdinalCell) Set(v lattice.Value) {
	c.Receive(v.WithOrdinal(0))
}

// Receive merges stamped data. An unstamped value is treated as a local
// write and assigned the next ordinal.
func (c *OrdinalCell) Receive(in lattice.Value) {
	if c.Disposed() {
		return
	}

	c.mu.Lock()
	if in.Ord == 0 {
		in = in.WithOrdinal(c.lastOrd + 1)
	}
	if in.Ord > c.lastOrd {
		c.lastOrd = in.Ord
	}
	prev := c.ports[DefaultPort]
	merged := lattice.OrdinalLWW.Merge(prev, in)
	c.ports[DefaultPort] = merged
	changed := !lattice.Equal(merged.WithOrdinal(0), prev.WithOrdinal(0))
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordMerge(c.Name(), changed)
		if changed && merged.IsContradiction() {
			c.metrics.RecordContradiction(c.Name())
		}
	}
	if changed {
		c.fanOut(Effect{Source: c.Name(), Port: DefaultPort, Type: EffectChanged, Value: merged})
	}
}

// Ordinal returns the greatest ordinal the cell has accepted.
func (c *OrdinalCell) Ordinal() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastOrd
}

// Sink is a write-only endpoint that hands every received value to a
// callback. Used as a plumber destination and in tests.
type Sink struct {
	*Base
	fn func(lattice.Value)
}

// NewSink spawns a sink gadget around the given callback.
func NewSink(name string, fn func(lattice.Value), opts ...Option) *Sink {
	o := applyOptions(opts)
	s := &Sink{Base: NewBase(name, KindSink, o.logger), fn: fn}
	s.bind(s)
	return s
}

// Info reports sink capabilities.
func (s *Sink) Info() Info {
	return Info{Name: s.Name(), Kind: s.Kind(), Readable: true, Writable: true, Ordering: OrderingNone}
}

// Receive records the value and invokes the callback.
func (s *Sink) Receive(in lattice.Value) {
	if s.Disposed() {
		return
	}
	s.mu.Lock()
	s.setPort(DefaultPort, in)
	s.mu.Unlock()
	if s.fn != nil {
		s.fn(in)
	}
}
