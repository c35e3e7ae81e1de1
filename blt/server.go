package blt

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/gadgetmesh/errors"
	"github.com/c360/gadgetmesh/metric"
	"github.com/c360/gadgetmesh/plumber"
	"github.com/c360/gadgetmesh/registry"
)

// Version is the protocol revision served by this package.
const Version = "BL/1.0"

// Config holds the protocol server settings.
type Config struct {
	// Addr is the TCP listen address, e.g. ":9000".
	Addr string `yaml:"addr"`
	// DefaultMerge is the operator given to cells auto-spawned by writes
	// to names that do not exist yet.
	DefaultMerge string `yaml:"default_merge"`
	// RateLimit throttles each connection to this many commands per
	// second; zero disables throttling.
	RateLimit float64 `yaml:"rate_limit"`
	// RateBurst is the per-connection burst allowance.
	RateBurst int `yaml:"rate_burst"`
}

// Validate applies defaults and rejects nonsense settings.
func (c *Config) Validate() error {
	if c.Addr == "" {
		c.Addr = ":9000"
	}
	if c.DefaultMerge == "" {
		c.DefaultMerge = "latest"
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("rate settings must be non-negative"),
			"BLT", "Validate", "config validation")
	}
	if c.RateLimit > 0 && c.RateBurst == 0 {
		c.RateBurst = 16
	}
	return nil
}

// Server is the BL/T protocol endpoint. It exposes the registry's gadgets
// and the plumber's rules to line-oriented TCP clients.
type Server struct {
	cfg     Config
	scope   *registry.Registry
	bus     *plumber.Plumber
	logger  *slog.Logger
	metrics *metric.Metrics

	mu sync.Mutex
	ln net.Listener

	group    *errgroup.Group
	groupCtx context.Context
	cancel   context.CancelFunc
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics wires session and command counters into the platform metrics.
func WithMetrics(m *metric.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithPlumber exposes routing rules as bl:///rule resources.
func WithPlumber(p *plumber.Plumber) Option {
	return func(s *Server) { s.bus = p }
}

// NewServer creates a protocol server over the given naming scope.
func NewServer(cfg Config, scope *registry.Registry, opts ...Option) (*Server, error) {
	if scope == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "BLT", "NewServer", "scope validation")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		cfg:    cfg,
		scope:  scope,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "blt")
	return s, nil
}

// Start binds the listener and serves connections until ctx is canceled or
// Stop is called. It does not block.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "BLT", "Start", "lifecycle check")
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return errors.WrapFatal(err, "BLT", "Start", "listener bind")
	}
	s.ln = ln

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.group, s.groupCtx = errgroup.WithContext(runCtx)

	s.group.Go(func() error {
		<-s.groupCtx.Done()
		return ln.Close()
	})
	s.group.Go(func() error {
		return s.acceptLoop(ln)
	})

	s.logger.Info("protocol server listening", "addr", ln.Addr().String())
	return nil
}

func (s *Server) acceptLoop(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.groupCtx.Err() != nil {
				return nil
			}
			return errors.WrapTransient(err, "BLT", "acceptLoop", "connection accept")
		}
		sess := newSession(s, conn)
		s.group.Go(func() error {
			sess.run(s.groupCtx)
			return nil
		})
	}
}

// Addr returns the bound listener address, or empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop closes the listener, disconnects sessions, and waits up to timeout
// for them to drain.
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	ln := s.ln
	cancel := s.cancel
	group := s.group
	s.ln = nil
	s.mu.Unlock()

	if ln == nil {
		return errors.WrapInvalid(errors.ErrNotStarted, "BLT", "Stop", "lifecycle check")
	}
	cancel()

	done := make(chan error, 1)
	go func() { done <- group.Wait() }()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("sessions did not drain within %v", timeout),
			"BLT", "Stop", "shutdown wait")
	}
}
