package transport

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/gadgetmesh/errors"
	"github.com/c360/gadgetmesh/gadget"
	"github.com/c360/gadgetmesh/metric"
)

// StatusFunc is invoked when the bridge's channel health changes. A nil
// error means the channel is up; a non-nil error reports why delivery
// stopped. Failures never propagate into gadget logic.
type StatusFunc func(err error)

// Bridge connects one gadget to one frame channel. Every emission is
// written exactly once, in emission order; every inbound frame is delivered
// via Receive. The bridge never mutates gadget state on transport failure.
type Bridge struct {
	adapter string
	g       gadget.Gadget
	conn    Conn

	logger   *slog.Logger
	metrics  *metric.Metrics
	onStatus StatusFunc

	writeMu   sync.Mutex
	cancelTap func()
	started   atomic.Bool
	stopped   atomic.Bool
	done      chan struct{}
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) BridgeOption {
	return func(b *Bridge) { b.logger = l }
}

// WithMetrics wires frame counters into the platform metrics.
func WithMetrics(m *metric.Metrics) BridgeOption {
	return func(b *Bridge) { b.metrics = m }
}

// WithStatusFunc registers the owner's channel-status callback.
func WithStatusFunc(fn StatusFunc) BridgeOption {
	return func(b *Bridge) { b.onStatus = fn }
}

// NewBridge wires a gadget to a frame channel. The adapter label names the
// channel kind for logs and metrics.
func NewBridge(adapter string, g gadget.Gadget, conn Conn, opts ...BridgeOption) (*Bridge, error) {
	if g == nil || conn == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Bridge", "NewBridge", "argument validation")
	}
	b := &Bridge{
		adapter: adapter,
		g:       g,
		conn:    conn,
		logger:  slog.Default(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "transport", "adapter", adapter, "gadget", g.Name())
	return b, nil
}

// Start attaches the outbound tap and begins the inbound read loop. The
// bridge shuts down when ctx is canceled or Stop is called.
func (b *Bridge) Start(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Bridge", "Start", "lifecycle check")
	}

	b.cancelTap = b.g.Tap(func(e gadget.Effect) {
		b.writeEffect(e)
	})

	go func() {
		<-ctx.Done()
		_ = b.conn.Close()
	}()
	go b.readLoop()

	b.status(nil)
	return nil
}

// Stop detaches the tap, closes the channel, and waits for the read loop to
// drain, up to the given timeout.
func (b *Bridge) Stop(timeout time.Duration) error {
	if !b.started.Load() {
		return errors.WrapInvalid(errors.ErrNotStarted, "Bridge", "Stop", "lifecycle check")
	}
	if !b.stopped.CompareAndSwap(false, true) {
		return nil
	}

	b.cancelTap()
	_ = b.conn.Close()

	select {
	case <-b.done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("read loop did not drain within %v", timeout),
			"Bridge", "Stop", "shutdown wait")
	}
}

// writeEffect serializes one emission onto the channel. The write mutex
// preserves per-channel emission order.
func (b *Bridge) writeEffect(e gadget.Effect) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if err := b.conn.Send(FrameFromEffect(e)); err != nil {
		b.logger.Warn("outbound frame write failed", "error", err)
		if b.metrics != nil {
			b.metrics.RecordBridgeFailure(b.adapter, "write")
		}
		b.status(err)
		return
	}
	if b.metrics != nil {
		b.metrics.RecordFrameSent(b.adapter)
	}
}

// readLoop delivers inbound frames until the channel closes. A malformed
// frame is skipped; the loop resynchronizes on the next frame.
func (b *Bridge) readLoop() {
	defer close(b.done)
	for {
		frame, err := b.conn.Receive()
		if err != nil {
			if stderrors.Is(err, errors.ErrMalformedFrame) {
				b.logger.Warn("skipping malformed inbound frame", "error", err)
				if b.metrics != nil {
					b.metrics.RecordBridgeFailure(b.adapter, "read")
				}
				continue
			}
			if !b.stopped.Load() {
				b.logger.Info("inbound channel closed", "error", err)
				b.status(err)
			}
			return
		}
		if b.metrics != nil {
			b.metrics.RecordFrameReceived(b.adapter)
		}
		b.g.Receive(frame.Value)
	}
}

func (b *Bridge) status(err error) {
	if b.onStatus != nil {
		b.onStatus(err)
	}
}

// Done is closed once the inbound read loop has exited.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}
