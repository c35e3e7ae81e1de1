package blt

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/c360/gadgetmesh/errors"
	"github.com/c360/gadgetmesh/gadget"
	"github.com/c360/gadgetmesh/lattice"
	"github.com/c360/gadgetmesh/plumber"
)

// Stable code tokens sent ahead of the human-readable message on ERROR
// lines. Clients branch on the token, not the message text.
const (
	CodeNotFound   = "not-found"
	CodeBadRequest = "bad-request"
	CodeInternal   = "internal"
)

// errorCode maps a handler error onto its wire token using the shared error
// taxonomy. Anything unrecognised is treated as a caller mistake.
func errorCode(err error) string {
	switch {
	case errors.IsNotFound(err):
		return CodeNotFound
	case errors.IsFatal(err):
		return CodeInternal
	default:
		return CodeBadRequest
	}
}

// session serves one client connection. Writes are mutex-guarded because
// subscription events arrive from gadget fan-out goroutines while command
// replies come from the read loop.
type session struct {
	srv  *Server
	conn net.Conn

	writeMu sync.Mutex

	subsMu sync.Mutex
	subs   map[string]func()
}

func newSession(srv *Server, conn net.Conn) *session {
	return &session{
		srv:  srv,
		conn: conn,
		subs: make(map[string]func()),
	}
}

func (s *session) run(ctx context.Context) {
	if s.srv.metrics != nil {
		s.srv.metrics.SessionsActive.Inc()
		defer s.srv.metrics.SessionsActive.Dec()
	}
	defer s.teardown()

	go func() {
		<-ctx.Done()
		_ = s.conn.Close()
	}()

	var limiter *rate.Limiter
	if s.srv.cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.srv.cfg.RateLimit), s.srv.cfg.RateBurst)
	}

	scanner := bufio.NewScanner(s.conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s.handle(line)
	}
}

func (s *session) teardown() {
	s.subsMu.Lock()
	for _, cancel := range s.subs {
		cancel()
	}
	s.subs = make(map[string]func())
	s.subsMu.Unlock()
	_ = s.conn.Close()
}

func (s *session) handle(line string) {
	verb, rest, _ := strings.Cut(line, " ")
	verb = strings.ToUpper(verb)
	start := time.Now()

	var err error
	switch verb {
	case "VERSION":
		err = s.version(rest)
	case "READ":
		err = s.read(rest)
	case "WRITE":
		err = s.write(rest)
	case "INFO":
		err = s.info(rest)
	case "SUBSCRIBE":
		err = s.subscribe(rest)
	case "UNSUBSCRIBE":
		err = s.unsubscribe(rest)
	default:
		err = fmt.Errorf("unknown command %q", verb)
	}

	status := "ok"
	if err != nil {
		status = "error"
		s.writeLine("ERROR " + errorCode(err) + " " + err.Error())
	}
	if s.srv.metrics != nil {
		s.srv.metrics.RecordCommand(verb, status, time.Since(start))
	}
}

func (s *session) version(rest string) error {
	if rest != "" && !strings.HasPrefix(rest, "BL/") {
		return fmt.Errorf("unsupported protocol %q", rest)
	}
	s.writeLine("OK " + Version)
	return nil
}

func (s *session) read(rest string) error {
	ref, err := ParseRef(rest)
	if err != nil {
		return err
	}
	if ref.Delete {
		return s.deleteResource(ref)
	}

	switch ref.Kind {
	case RefCell:
		g, ok := s.srv.scope.Resolve(ref.Name)
		if !ok {
			return fmt.Errorf("cell %q: %w", ref.Name, errors.ErrNotFound)
		}
		s.writeLine("OK " + g.Current().Format())
	case RefFold:
		v, err := s.fold(ref)
		if err != nil {
			return err
		}
		s.writeLine("OK " + v.Format())
	case RefRule:
		if s.srv.bus == nil {
			return fmt.Errorf("routing rules not enabled")
		}
		rule, ok := s.srv.bus.Rule(ref.Name)
		if !ok {
			return fmt.Errorf("rule %q: %w", ref.Name, errors.ErrNotFound)
		}
		encoded, err := json.Marshal(rule)
		if err != nil {
			return err
		}
		s.writeLine("OK " + string(encoded))
	}
	return nil
}

func (s *session) fold(ref Ref) (lattice.Value, error) {
	op, ok := lattice.LookupOp(ref.Name)
	if !ok {
		return lattice.Nothing(), fmt.Errorf("fold operator %q: %w", ref.Name, errors.ErrUnknownMergeOp)
	}
	values := make([]lattice.Value, 0, len(ref.Sources))
	for _, name := range ref.Sources {
		g, ok := s.srv.scope.Resolve(name)
		if !ok {
			return lattice.Nothing(), fmt.Errorf("fold source %q: %w", name, errors.ErrNotFound)
		}
		values = append(values, g.Current())
	}
	return op.Merge(values...), nil
}

func (s *session) write(rest string) error {
	refRaw, valueRaw, _ := strings.Cut(rest, " ")
	ref, err := ParseRef(refRaw)
	if err != nil {
		return err
	}
	if ref.Delete {
		return s.deleteResource(ref)
	}

	switch ref.Kind {
	case RefCell:
		v, err := ParseValue(valueRaw)
		if err != nil {
			return err
		}
		g, ok := s.srv.scope.Resolve(ref.Name)
		if !ok {
			g, err = s.spawnCell(ref.Name)
			if err != nil {
				return err
			}
		}
		g.Receive(v)
		s.writeLine("OK")
	case RefFold:
		return fmt.Errorf("folds are read-only")
	case RefRule:
		if s.srv.bus == nil {
			return fmt.Errorf("routing rules not enabled")
		}
		var rule plumber.Rule
		if err := json.Unmarshal([]byte(valueRaw), &rule); err != nil {
			return fmt.Errorf("rule document: %w", err)
		}
		if rule.Name == "" {
			rule.Name = ref.Name
		}
		if err := s.srv.bus.AddRule(rule); err != nil {
			return err
		}
		s.writeLine("OK")
	}
	return nil
}

// spawnCell creates a cell on first write, so clients need no separate
// provisioning step.
func (s *session) spawnCell(name string) (gadget.Gadget, error) {
	op, ok := lattice.LookupOp(s.srv.cfg.DefaultMerge)
	if !ok {
		return nil, fmt.Errorf("default merge operator %q: %w", s.srv.cfg.DefaultMerge, errors.ErrInvalidConfig)
	}
	opts := []gadget.Option{gadget.WithLogger(s.srv.logger)}
	if s.srv.metrics != nil {
		opts = append(opts, gadget.WithMetrics(s.srv.metrics))
	}
	cell := gadget.NewCell(name, op, opts...)
	if err := s.srv.scope.Register(name, cell, map[string]string{
		"kind":  gadget.KindCell,
		"merge": op.Name,
	}); err != nil {
		return nil, err
	}
	if s.srv.bus != nil {
		s.srv.bus.Attach(cell)
	}
	return cell, nil
}

func (s *session) deleteResource(ref Ref) error {
	switch ref.Kind {
	case RefCell:
		if err := s.srv.scope.Dispose(ref.Name); err != nil {
			return fmt.Errorf("cell %q: %w", ref.Name, errors.ErrNotFound)
		}
	case RefRule:
		if s.srv.bus == nil || !s.srv.bus.RemoveRule(ref.Name) {
			return fmt.Errorf("rule %q: %w", ref.Name, errors.ErrNotFound)
		}
	default:
		return fmt.Errorf("cannot delete %s references", ref.Kind)
	}
	s.writeLine("OK")
	return nil
}

func (s *session) info(rest string) error {
	ref, err := ParseRef(rest)
	if err != nil {
		return err
	}
	if ref.Kind != RefCell {
		return fmt.Errorf("info supports cell references only")
	}
	g, ok := s.srv.scope.Resolve(ref.Name)
	if !ok {
		return fmt.Errorf("cell %q: %w", ref.Name, errors.ErrNotFound)
	}
	encoded, err := json.Marshal(g.Info())
	if err != nil {
		return err
	}
	s.writeLine("OK " + string(encoded))
	return nil
}

func (s *session) subscribe(rest string) error {
	ref, err := ParseRef(rest)
	if err != nil {
		return err
	}
	if ref.Kind != RefCell {
		return fmt.Errorf("subscribe supports cell references only")
	}
	g, ok := s.srv.scope.Resolve(ref.Name)
	if !ok {
		return fmt.Errorf("cell %q: %w", ref.Name, errors.ErrNotFound)
	}

	id := uuid.NewString()
	cancel := g.Tap(func(e gadget.Effect) {
		s.writeLine("EVENT " + id + " " + e.Value.Format())
	})

	s.subsMu.Lock()
	s.subs[id] = cancel
	s.subsMu.Unlock()

	s.writeLine("STREAM " + id)
	return nil
}

func (s *session) unsubscribe(rest string) error {
	id := strings.TrimSpace(rest)
	s.subsMu.Lock()
	cancel, ok := s.subs[id]
	delete(s.subs, id)
	s.subsMu.Unlock()
	if !ok {
		return fmt.Errorf("stream %q: %w", id, errors.ErrNotFound)
	}
	cancel()
	s.writeLine("OK")
	return nil
}

func (s *session) writeLine(line string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.conn.Write([]byte(line + "\n")); err != nil {
		s.srv.logger.Debug("session write failed", "error", err)
	}
}
