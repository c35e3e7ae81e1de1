package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/c360/gadgetmesh/errors"
	"github.com/c360/gadgetmesh/pkg/retry"
)

// DialTCP connects to a remote frame endpoint, retrying with backoff until
// the context is canceled or the reconnect budget is exhausted.
func DialTCP(ctx context.Context, addr string) (Conn, error) {
	var conn net.Conn
	err := retry.Do(ctx, retry.Reconnect(), func() error {
		var dialErr error
		dialer := net.Dialer{}
		conn, dialErr = dialer.DialContext(ctx, "tcp", addr)
		return dialErr
	})
	if err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("dial %s: %w", addr, err),
			"TCP", "DialTCP", "connection establishment")
	}
	return NewStreamConn(conn), nil
}

// TCPServer accepts frame connections on a listening socket and hands each
// one to the owner's handler. The handler owns the connection's lifecycle.
type TCPServer struct {
	addr    string
	handler func(Conn)
	logger  *slog.Logger

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

// NewTCPServer creates a server that calls handler for every accepted
// connection.
func NewTCPServer(addr string, handler func(Conn), logger *slog.Logger) (*TCPServer, error) {
	if handler == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "TCPServer", "NewTCPServer", "handler validation")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TCPServer{
		addr:    addr,
		handler: handler,
		logger:  logger.With("component", "transport", "adapter", "tcp"),
	}, nil
}

// Start begins accepting connections. Blocks until the listener closes.
func (s *TCPServer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.ln != nil {
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "TCPServer", "Start", "lifecycle check")
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.mu.Unlock()
		return errors.WrapFatal(err, "TCPServer", "Start", "listener bind")
	}
	s.ln = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	s.logger.Info("listening", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.WrapTransient(err, "TCPServer", "Start", "connection accept")
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handler(NewStreamConn(conn))
		}()
	}
}

// Addr returns the bound listener address, or empty before Start.
func (s *TCPServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop closes the listener and waits for connection handlers to return.
func (s *TCPServer) Stop() error {
	s.mu.Lock()
	ln := s.ln
	s.ln = nil
	s.mu.Unlock()

	if ln == nil {
		return errors.WrapInvalid(errors.ErrNotStarted, "TCPServer", "Stop", "lifecycle check")
	}
	err := ln.Close()
	s.wg.Wait()
	if err != nil {
		return errors.WrapTransient(err, "TCPServer", "Stop", "listener close")
	}
	return nil
}
