// Package plumber implements the pattern-routed message bus. Published
// effects are tested against every registered rule; each matching rule
// forwards the payload to a named destination resolved through the registry.
// Every publication is recorded in a bounded history buffer, oldest entries
// evicted first, so routing behavior stays introspectable at runtime.
package plumber

import (
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360/gadgetmesh/errors"
	"github.com/c360/gadgetmesh/gadget"
	"github.com/c360/gadgetmesh/metric"
	"github.com/c360/gadgetmesh/pkg/ring"
	"github.com/c360/gadgetmesh/registry"
)

// DefaultHistoryCapacity bounds the publication history buffer.
const DefaultHistoryCapacity = 64

// MatchSpec is a partial pattern over an effect's source, port, and type.
// Each non-empty field is a regular expression; an empty field is a wildcard.
type MatchSpec struct {
	Source string `json:"source,omitempty"`
	Port   string `json:"port,omitempty"`
	Type   string `json:"type,omitempty"`
}

// Rule routes matching effects to a named destination. Rules are addressable
// resources: creatable, listable, and deletable by name at runtime.
type Rule struct {
	Name        string    `json:"name"`
	Match       MatchSpec `json:"match"`
	Destination string    `json:"to"`
	TargetPort  string    `json:"target_port,omitempty"`
}

type compiledRule struct {
	Rule
	source *regexp.Regexp
	port   *regexp.Regexp
	typ    *regexp.Regexp
}

func (r *compiledRule) matches(e gadget.Effect) bool {
	if r.source != nil && !r.source.MatchString(e.Source) {
		return false
	}
	if r.port != nil && !r.port.MatchString(e.Port) {
		return false
	}
	if r.typ != nil && !r.typ.MatchString(e.Type) {
		return false
	}
	return true
}

// HistoryEntry records one publication: which rules matched and where the
// payload went.
type HistoryEntry struct {
	ID           string    `json:"id"`
	Seq          uint64    `json:"seq"`
	Timestamp    time.Time `json:"timestamp"`
	Source       string    `json:"source"`
	Port         string    `json:"port"`
	MatchedRules []string  `json:"matched_rules"`
	Destinations []string  `json:"destinations"`
}

// Plumber is the process-wide router. Rule mutation is single-writer with
// concurrent readers; dispatch is independent per destination, so one failing
// destination never blocks delivery to the others.
type Plumber struct {
	mu      sync.RWMutex
	rules   []*compiledRule
	scope   *registry.Registry
	history *ring.Ring[HistoryEntry]
	seq     atomic.Uint64
	logger  *slog.Logger
	metrics *metric.Metrics
}

// Option configures a Plumber.
type Option func(*options)

type options struct {
	capacity int
	logger   *slog.Logger
	metrics  *metric.Metrics
}

// WithHistoryCapacity overrides the bounded history size.
func WithHistoryCapacity(n int) Option {
	return func(o *options) { o.capacity = n }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics wires dispatch counters into the platform metrics.
func WithMetrics(m *metric.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// New creates a plumber that resolves rule destinations through scope.
func New(scope *registry.Registry, opts ...Option) (*Plumber, error) {
	if scope == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Plumber", "New", "scope validation")
	}
	o := options{capacity: DefaultHistoryCapacity, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	history, err := ring.New[HistoryEntry](o.capacity)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Plumber", "New", "history allocation")
	}
	return &Plumber{
		scope:   scope,
		history: history,
		logger:  o.logger.With("component", "plumber"),
		metrics: o.metrics,
	}, nil
}

// AddRule validates, compiles, and appends a routing rule. Rules dispatch in
// registration order. A malformed pattern is rejected at registration time,
// never at dispatch time.
func (p *Plumber) AddRule(r Rule) error {
	if r.Name == "" {
		return errors.WrapInvalid(
			fmt.Errorf("rule name required: %w", errors.ErrRuleRejected),
			"Plumber", "AddRule", "rule validation")
	}
	if r.Destination == "" {
		return errors.WrapInvalid(
			fmt.Errorf("rule %q: destination required: %w", r.Name, errors.ErrRuleRejected),
			"Plumber", "AddRule", "rule validation")
	}

	compiled := &compiledRule{Rule: r}
	var err error
	if compiled.source, err = compilePattern(r.Match.Source); err != nil {
		return errors.WrapInvalid(
			fmt.Errorf("rule %q: source pattern: %v: %w", r.Name, err, errors.ErrRuleRejected),
			"Plumber", "AddRule", "pattern compilation")
	}
	if compiled.port, err = compilePattern(r.Match.Port); err != nil {
		return errors.WrapInvalid(
			fmt.Errorf("rule %q: port pattern: %v: %w", r.Name, err, errors.ErrRuleRejected),
			"Plumber", "AddRule", "pattern compilation")
	}
	if compiled.typ, err = compilePattern(r.Match.Type); err != nil {
		return errors.WrapInvalid(
			fmt.Errorf("rule %q: type pattern: %v: %w", r.Name, err, errors.ErrRuleRejected),
			"Plumber", "AddRule", "pattern compilation")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.rules {
		if existing.Name == r.Name {
			return errors.WrapInvalid(
				fmt.Errorf("rule %q already exists: %w", r.Name, errors.ErrRuleRejected),
				"Plumber", "AddRule", "duplicate rule")
		}
	}
	p.rules = append(p.rules, compiled)
	return nil
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	return regexp.Compile(pattern)
}

// RemoveRule deletes a rule by name, reporting whether it existed.
func (p *Plumber) RemoveRule(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, r := range p.rules {
		if r.Name == name {
			p.rules = append(p.rules[:i], p.rules[i+1:]...)
			return true
		}
	}
	return false
}

// Rule returns a rule by name.
func (p *Plumber) Rule(name string) (Rule, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, r := range p.rules {
		if r.Name == name {
			return r.Rule, true
		}
	}
	return Rule{}, false
}

// Rules lists the registered rules in dispatch order.
func (p *Plumber) Rules() []Rule {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Rule, len(p.rules))
	for i, r := range p.rules {
		out[i] = r.Rule
	}
	return out
}

// Publish tests the effect against every rule and forwards the payload,
// unmodified, to each matched rule's destination in registration order. Every
// publication appends exactly one history entry whether or not it matched.
func (p *Plumber) Publish(e gadget.Effect) HistoryEntry {
	p.mu.RLock()
	matched := make([]*compiledRule, 0, len(p.rules))
	for _, r := range p.rules {
		if r.matches(e) {
			matched = append(matched, r)
		}
	}
	p.mu.RUnlock()

	entry := HistoryEntry{
		ID:        uuid.NewString(),
		Seq:       p.seq.Add(1),
		Timestamp: time.Now().UTC(),
		Source:    e.Source,
		Port:      e.Port,
	}
	for _, r := range matched {
		entry.MatchedRules = append(entry.MatchedRules, r.Name)
		entry.Destinations = append(entry.Destinations, r.Destination)
	}

	for _, r := range matched {
		p.dispatch(r, e)
	}
	if len(matched) == 0 && p.metrics != nil {
		p.metrics.UnroutedEffects.Inc()
	}

	p.history.Push(entry)
	return entry
}

// dispatch delivers to a single destination, isolating panics so one failing
// destination never prevents delivery to the rest.
func (p *Plumber) dispatch(r *compiledRule, e gadget.Effect) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("destination panicked during dispatch",
				"rule", r.Name, "destination", r.Destination, "panic", rec)
		}
	}()

	target, ok := p.scope.Resolve(r.Destination)
	if !ok {
		p.logger.Warn("rule destination not registered",
			"rule", r.Name, "destination", r.Destination)
		return
	}
	if target.Disposed() {
		return
	}
	target.Receive(e.Value)
	if p.metrics != nil {
		p.metrics.RecordDispatch(r.Name)
	}
}

// Attach taps a gadget so every effect it emits is published on this bus.
// The returned cancel detaches it.
func (p *Plumber) Attach(g gadget.Gadget) (cancel func()) {
	return g.Tap(func(e gadget.Effect) {
		p.Publish(e)
	})
}

// History returns the recorded publications, oldest first.
func (p *Plumber) History() []HistoryEntry {
	return p.history.Snapshot()
}

// HistoryStats reports lifetime publication and eviction counts.
func (p *Plumber) HistoryStats() (writes, evictions uint64) {
	return p.history.Stats()
}
