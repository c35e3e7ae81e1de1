package plumber

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/gadgetmesh/errors"
	"github.com/c360/gadgetmesh/gadget"
	"github.com/c360/gadgetmesh/lattice"
	"github.com/c360/gadgetmesh/registry"
)

func newBus(t *testing.T, opts ...Option) (*Plumber, *registry.Registry) {
	t.Helper()
	scope := registry.New()
	p, err := New(scope, opts...)
	require.NoError(t, err)
	return p, scope
}

func TestPublishDispatchesOnPortMatch(t *testing.T) {
	p, scope := newBus(t)

	dest := gadget.NewCell("X", lattice.Max)
	require.NoError(t, scope.Register("X", dest, nil))
	require.NoError(t, p.AddRule(Rule{
		Name:        "updates",
		Match:       MatchSpec{Port: "cell-updated"},
		Destination: "X",
	}))

	// Non-matching port: no dispatch, but the publication is still recorded.
	p.Publish(gadget.Effect{Source: "a", Port: "other", Value: lattice.Number(5)})
	assert.True(t, dest.Current().IsNothing())

	history := p.History()
	require.Len(t, history, 1)
	assert.Empty(t, history[0].MatchedRules)

	// Matching port: dispatched to X and recorded with rule and destination.
	p.Publish(gadget.Effect{Source: "a", Port: "cell-updated", Value: lattice.Number(5)})
	assert.Equal(t, 5.0, dest.Current().Num)

	history = p.History()
	require.Len(t, history, 2)
	assert.Equal(t, []string{"updates"}, history[1].MatchedRules)
	assert.Equal(t, []string{"X"}, history[1].Destinations)
	assert.Equal(t, "a", history[1].Source)
	assert.Equal(t, "cell-updated", history[1].Port)
	assert.NotEmpty(t, history[1].ID)
}

func TestAbsentMatchFieldsAreWildcards(t *testing.T) {
	p, scope := newBus(t)

	dest := gadget.NewCell("all", lattice.SetUnion)
	require.NoError(t, scope.Register("all", dest, nil))
	require.NoError(t, p.AddRule(Rule{Name: "everything", Destination: "all"}))

	p.Publish(gadget.Effect{Source: "x", Port: "p1", Type: "changed", Value: lattice.String("a")})
	p.Publish(gadget.Effect{Source: "y", Port: "p2", Type: "status", Value: lattice.String("b")})

	assert.Len(t, dest.Current().Set, 2)
}

func TestDispatchInRegistrationOrder(t *testing.T) {
	p, scope := newBus(t)

	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		sink := gadget.NewSink(name, func(lattice.Value) { order = append(order, name) })
		require.NoError(t, scope.Register(name, sink, nil))
		require.NoError(t, p.AddRule(Rule{Name: "to-" + name, Destination: name}))
	}

	p.Publish(gadget.Effect{Source: "s", Port: "p", Value: lattice.Number(1)})
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestPanickingDestinationDoesNotBlockOthers(t *testing.T) {
	p, scope := newBus(t)

	bomb := gadget.NewSink("bomb", func(lattice.Value) { panic("boom") })
	calm := gadget.NewCell("calm", lattice.Max)
	require.NoError(t, scope.Register("bomb", bomb, nil))
	require.NoError(t, scope.Register("calm", calm, nil))

	require.NoError(t, p.AddRule(Rule{Name: "r1", Destination: "bomb"}))
	require.NoError(t, p.AddRule(Rule{Name: "r2", Destination: "calm"}))

	assert.NotPanics(t, func() {
		p.Publish(gadget.Effect{Source: "s", Port: "p", Value: lattice.Number(7)})
	})
	assert.Equal(t, 7.0, calm.Current().Num)
}

func TestHistoryEviction(t *testing.T) {
	p, _ := newBus(t, WithHistoryCapacity(2))

	p.Publish(gadget.Effect{Source: "a", Port: "p1"})
	p.Publish(gadget.Effect{Source: "a", Port: "p2"})
	p.Publish(gadget.Effect{Source: "a", Port: "p3"})

	history := p.History()
	require.Len(t, history, 2)
	assert.Equal(t, "p2", history[0].Port)
	assert.Equal(t, "p3", history[1].Port)

	writes, evictions := p.HistoryStats()
	assert.Equal(t, uint64(3), writes)
	assert.Equal(t, uint64(1), evictions)
}

func TestAddRuleRejectsMalformedPattern(t *testing.T) {
	p, _ := newBus(t)

	err := p.AddRule(Rule{
		Name:        "bad",
		Match:       MatchSpec{Source: "("},
		Destination: "X",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrRuleRejected)
	assert.Empty(t, p.Rules())
}

func TestAddRuleValidation(t *testing.T) {
	p, _ := newBus(t)

	assert.ErrorIs(t, p.AddRule(Rule{Destination: "X"}), errors.ErrRuleRejected)
	assert.ErrorIs(t, p.AddRule(Rule{Name: "r"}), errors.ErrRuleRejected)

	require.NoError(t, p.AddRule(Rule{Name: "r", Destination: "X"}))
	assert.ErrorIs(t, p.AddRule(Rule{Name: "r", Destination: "Y"}), errors.ErrRuleRejected)
}

func TestRuleCRUD(t *testing.T) {
	p, _ := newBus(t)

	require.NoError(t, p.AddRule(Rule{Name: "a", Match: MatchSpec{Type: "changed"}, Destination: "X"}))
	require.NoError(t, p.AddRule(Rule{Name: "b", Destination: "Y"}))

	got, ok := p.Rule("a")
	require.True(t, ok)
	assert.Equal(t, "X", got.Destination)
	assert.Equal(t, "changed", got.Match.Type)

	rules := p.Rules()
	require.Len(t, rules, 2)
	assert.Equal(t, "a", rules[0].Name)
	assert.Equal(t, "b", rules[1].Name)

	assert.True(t, p.RemoveRule("a"))
	assert.False(t, p.RemoveRule("a"))
	_, ok = p.Rule("a")
	assert.False(t, ok)
}

func TestUnresolvedDestinationIsSkipped(t *testing.T) {
	p, _ := newBus(t)
	require.NoError(t, p.AddRule(Rule{Name: "ghost", Destination: "nobody"}))

	assert.NotPanics(t, func() {
		p.Publish(gadget.Effect{Source: "s", Port: "p", Value: lattice.Number(1)})
	})
	history := p.History()
	require.Len(t, history, 1)
	assert.Equal(t, []string{"ghost"}, history[0].MatchedRules)
}

func TestAttachPublishesEmittedEffects(t *testing.T) {
	p, scope := newBus(t)

	source := gadget.NewCell("sensor", lattice.Max)
	mirror := gadget.NewCell("mirror", lattice.Max)
	require.NoError(t, scope.Register("mirror", mirror, nil))
	require.NoError(t, p.AddRule(Rule{
		Name:        "mirror-sensor",
		Match:       MatchSpec{Source: "^sensor$"},
		Destination: "mirror",
	}))

	cancel := p.Attach(source)
	source.Receive(lattice.Number(42))
	assert.Equal(t, 42.0, mirror.Current().Num)

	cancel()
	source.Receive(lattice.Number(99))
	assert.Equal(t, 42.0, mirror.Current().Num)
}
