package transport

import (
	"math/rand"
	"sync"
	"time"

	"github.com/c360/gadgetmesh/errors"
)

// inprocConn is one end of an in-process frame channel pair.
type inprocConn struct {
	out chan<- Frame
	in  <-chan Frame

	mu       sync.Mutex
	closed   bool
	done     chan struct{}
	doneOnce *sync.Once
}

// Pair creates two connected in-process channel ends. Frames sent on one end
// are received on the other. Closing either end unblocks both.
func Pair() (Conn, Conn) {
	ab := make(chan Frame, 128)
	ba := make(chan Frame, 128)
	done := make(chan struct{})
	once := &sync.Once{}
	a := &inprocConn{out: ab, in: ba, done: done, doneOnce: once}
	b := &inprocConn{out: ba, in: ab, done: done, doneOnce: once}
	return a, b
}

func (c *inprocConn) Send(f Frame) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return errors.WrapTransient(errors.ErrTransportClosed, "InprocConn", "Send", "channel write")
	}
	select {
	case c.out <- f:
		return nil
	case <-c.done:
		return errors.WrapTransient(errors.ErrTransportClosed, "InprocConn", "Send", "channel write")
	}
}

func (c *inprocConn) Receive() (Frame, error) {
	select {
	case f := <-c.in:
		return f, nil
	case <-c.done:
		// Drain anything already buffered before reporting closure.
		select {
		case f := <-c.in:
			return f, nil
		default:
			return Frame{}, errors.WrapTransient(errors.ErrTransportClosed, "InprocConn", "Receive", "channel read")
		}
	}
}

func (c *inprocConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.doneOnce.Do(func() { close(c.done) })
	return nil
}

// ChaosConfig shapes the misbehavior a chaos channel injects.
type ChaosConfig struct {
	// MaxDelay is the upper bound of the random per-frame delivery delay.
	// Random delays reorder concurrent frames as a side effect.
	MaxDelay time.Duration
	// DuplicateRate is the probability in [0,1] that a frame is delivered
	// twice.
	DuplicateRate float64
	// Seed makes a run reproducible.
	Seed int64
}

// chaosConn delays, reorders, and duplicates outbound frames. Convergence
// must survive all three; only its latency may suffer.
type chaosConn struct {
	Conn
	cfg ChaosConfig

	mu  sync.Mutex
	rng *rand.Rand
	wg  sync.WaitGroup
}

// WithChaos wraps a channel end so frames sent through it are randomly
// delayed, reordered, and duplicated in flight.
func WithChaos(conn Conn, cfg ChaosConfig) Conn {
	return &chaosConn{
		Conn: conn,
		cfg:  cfg,
		rng:  rand.New(rand.NewSource(cfg.Seed)),
	}
}

func (c *chaosConn) Send(f Frame) error {
	c.mu.Lock()
	copies := 1
	if c.rng.Float64() < c.cfg.DuplicateRate {
		copies = 2
	}
	delays := make([]time.Duration, copies)
	for i := range delays {
		if c.cfg.MaxDelay > 0 {
			delays[i] = time.Duration(c.rng.Int63n(int64(c.cfg.MaxDelay)))
		}
	}
	c.mu.Unlock()

	for _, delay := range delays {
		c.wg.Add(1)
		go func(d time.Duration) {
			defer c.wg.Done()
			time.Sleep(d)
			_ = c.Conn.Send(f)
		}(delay)
	}
	return nil
}

func (c *chaosConn) Close() error {
	c.wg.Wait()
	return c.Conn.Close()
}
