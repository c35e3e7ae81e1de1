// Package lattice defines the value domain and the library of
// associative/commutative/idempotent merge operators that give gadget state
// its convergence guarantee. Every concrete value kind has a total merge
// defined for it; "nothing" is the identity of every operator and
// "contradiction" is terminal once produced.
package lattice

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Kind tags the concrete type held by a Value.
type Kind int

// Value kinds. KindNothing means "no information yet"; KindContradiction
// means a merge could not reconcile its inputs.
const (
	KindNothing Kind = iota
	KindNumber
	KindBool
	KindString
	KindSet
	KindDict
	KindContradiction
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNothing:
		return "nothing"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindSet:
		return "set"
	case KindDict:
		return "dict"
	case KindContradiction:
		return "contradiction"
	default:
		return "unknown"
	}
}

func kindFromString(s string) (Kind, error) {
	switch s {
	case "nothing":
		return KindNothing, nil
	case "number":
		return KindNumber, nil
	case "bool":
		return KindBool, nil
	case "string":
		return KindString, nil
	case "set":
		return KindSet, nil
	case "dict":
		return KindDict, nil
	case "contradiction":
		return KindContradiction, nil
	default:
		return KindNothing, fmt.Errorf("unknown value kind %q", s)
	}
}

// Conflict carries both sides of an irreconcilable merge plus a
// human-readable reason. Contradictions are data, not failures.
type Conflict struct {
	Reason string `json:"reason"`
	Left   *Value `json:"left,omitempty"`
	Right  *Value `json:"right,omitempty"`
}

// Value is a tagged lattice value. The Ord field carries the ordinal stamp
// used by last-writer-wins operators; zero means unstamped.
type Value struct {
	Kind     Kind
	Num      float64
	Flag     bool
	Str      string
	Set      []Value
	Dict     map[string]Value
	Conflict *Conflict
	Ord      uint64
}

// Nothing returns the bottom value ("no information yet").
func Nothing() Value {
	return Value{Kind: KindNothing}
}

// Number returns a numeric value.
func Number(n float64) Value {
	return Value{Kind: KindNumber, Num: n}
}

// Bool returns a boolean value.
func Bool(b bool) Value {
	return Value{Kind: KindBool, Flag: b}
}

// String returns a string value.
func String(s string) Value {
	return Value{Kind: KindString, Str: s}
}

// SetOf returns a set value with duplicate members removed.
func SetOf(members ...Value) Value {
	out := make([]Value, 0, len(members))
	for _, m := range members {
		if !containsValue(out, m) {
			out = append(out, m)
		}
	}
	return Value{Kind: KindSet, Set: out}
}

// DictOf returns a dictionary value.
func DictOf(entries map[string]Value) Value {
	d := make(map[string]Value, len(entries))
	for k, v := range entries {
		d[k] = v
	}
	return Value{Kind: KindDict, Dict: d}
}

// Contradiction returns a terminal value carrying both conflicting inputs
// and a non-empty reason.
func Contradiction(reason string, left, right Value) Value {
	l, r := left, right
	return Value{Kind: KindContradiction, Conflict: &Conflict{
		Reason: reason,
		Left:   &l,
		Right:  &r,
	}}
}

// WithOrdinal returns a copy of v stamped with the given ordinal.
func (v Value) WithOrdinal(ord uint64) Value {
	v.Ord = ord
	return v
}

// IsNothing reports whether v carries no information.
func (v Value) IsNothing() bool {
	return v.Kind == KindNothing
}

// IsContradiction reports whether v is a terminal contradiction.
func (v Value) IsContradiction() bool {
	return v.Kind == KindContradiction
}

// Field returns the named entry of a dict value. The second result is false
// when v is not a dict or the key is absent.
func (v Value) Field(key string) (Value, bool) {
	if v.Kind != KindDict {
		return Nothing(), false
	}
	f, ok := v.Dict[key]
	return f, ok
}

// Equal reports deep equality of two values. Set members are compared
// without regard to order; ordinal stamps are part of equality so that
// stamped redeliveries remain idempotent.
func Equal(a, b Value) bool {
	if a.Kind != b.Kind || a.Ord != b.Ord {
		return false
	}
	switch a.Kind {
	case KindNothing:
		return true
	case KindNumber:
		return a.Num == b.Num
	case KindBool:
		return a.Flag == b.Flag
	case KindString:
		return a.Str == b.Str
	case KindSet:
		if len(a.Set) != len(b.Set) {
			return false
		}
		for _, m := range a.Set {
			if !containsValue(b.Set, m) {
				return false
			}
		}
		return true
	case KindDict:
		if len(a.Dict) != len(b.Dict) {
			return false
		}
		for k, av := range a.Dict {
			bv, ok := b.Dict[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	case KindContradiction:
		ac, bc := a.Conflict, b.Conflict
		if ac == nil || bc == nil {
			return ac == bc
		}
		if ac.Reason != bc.Reason {
			return false
		}
		return conflictSideEqual(ac.Left, bc.Left) && conflictSideEqual(ac.Right, bc.Right)
	default:
		return false
	}
}

func conflictSideEqual(a, b *Value) bool {
	if a == nil || b == nil {
		return a == b
	}
	return Equal(*a, *b)
}

func containsValue(set []Value, v Value) bool {
	for _, m := range set {
		if Equal(m, v) {
			return true
		}
	}
	return false
}

// Format renders a compact human-readable form, used by logs and the wire
// protocol's OK responses.
func (v Value) Format() string {
	switch v.Kind {
	case KindNothing:
		return "null"
	case KindNumber:
		if v.Num == math.Trunc(v.Num) && math.Abs(v.Num) < 1e15 {
			return fmt.Sprintf("%d", int64(v.Num))
		}
		return fmt.Sprintf("%g", v.Num)
	case KindBool:
		if v.Flag {
			return "true"
		}
		return "false"
	case KindString:
		if needsQuoting(v.Str) {
			data, _ := json.Marshal(v.Str)
			return string(data)
		}
		return v.Str
	case KindSet, KindDict:
		// Composites render as strict JSON so clients can parse them back.
		data, err := json.Marshal(v.plain())
		if err != nil {
			return "unknown"
		}
		return string(data)
	case KindContradiction:
		if v.Conflict != nil {
			return fmt.Sprintf("contradiction(%s)", v.Conflict.Reason)
		}
		return "contradiction"
	default:
		return "unknown"
	}
}

// plain converts to the bare JSON shape (no kind envelope) used inside
// composite Format output.
func (v Value) plain() any {
	switch v.Kind {
	case KindNumber:
		return v.Num
	case KindBool:
		return v.Flag
	case KindString:
		return v.Str
	case KindSet:
		out := make([]any, len(v.Set))
		for i, m := range v.Set {
			out[i] = m.plain()
		}
		return out
	case KindDict:
		out := make(map[string]any, len(v.Dict))
		for k, m := range v.Dict {
			out[k] = m.plain()
		}
		return out
	case KindContradiction:
		return v.Format()
	default:
		return nil
	}
}

func needsQuoting(s string) bool {
	if s == "" || s == "null" || s == "true" || s == "false" {
		return true
	}
	return strings.ContainsAny(s, " \t\"{}[],")
}
