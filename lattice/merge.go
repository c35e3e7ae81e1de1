package lattice

// Op is a named ACI merge operator. The combine function is only invoked on
// two concrete values the operator accepts; identity and contradiction
// handling is shared by all operators.
type Op struct {
	Name    string
	Ordered bool // last-writer style, tie-broken by ordinal stamp

	accepts func(Value) bool
	combine func(a, b Value) Value
}

// Accepts reports whether the operator can merge a value of v's kind.
// Nothing and contradiction are part of every operator's domain.
func (o Op) Accepts(v Value) bool {
	if v.Kind == KindNothing || v.Kind == KindContradiction {
		return true
	}
	if o.accepts == nil {
		return true
	}
	return o.accepts(v)
}

// Merge folds the operator over the given values. Merging zero values yields
// nothing; nothing is the identity; a contradiction is terminal and is
// returned unchanged.
func (o Op) Merge(values ...Value) Value {
	acc := Nothing()
	for _, v := range values {
		acc = o.merge2(acc, v)
	}
	return acc
}

func (o Op) merge2(a, b Value) Value {
	if a.Kind == KindNothing {
		return b
	}
	if b.Kind == KindNothing {
		return a
	}
	if a.Kind == KindContradiction {
		return a
	}
	if b.Kind == KindContradiction {
		return b
	}
	return o.combine(a, b)
}

func isNumber(v Value) bool { return v.Kind == KindNumber }
func isBool(v Value) bool   { return v.Kind == KindBool }

// Max keeps the greatest number seen.
var Max = Op{
	Name:    "max",
	accepts: isNumber,
	combine: func(a, b Value) Value {
		if b.Num > a.Num {
			return b
		}
		return a
	},
}

// Min keeps the least number seen.
var Min = Op{
	Name:    "min",
	accepts: isNumber,
	combine: func(a, b Value) Value {
		if b.Num < a.Num {
			return b
		}
		return a
	},
}

// Or is logical disjunction; once true, always true.
var Or = Op{
	Name:    "or",
	accepts: isBool,
	combine: func(a, b Value) Value {
		return Bool(a.Flag || b.Flag)
	},
}

// And is logical conjunction; once false, always false.
var And = Op{
	Name:    "and",
	accepts: isBool,
	combine: func(a, b Value) Value {
		return Bool(a.Flag && b.Flag)
	},
}

// SetUnion accumulates the union of everything seen, deduplicated by deep
// equality. Scalar inputs are promoted to singleton sets.
var SetUnion = Op{
	Name: "union",
	combine: func(a, b Value) Value {
		members := toSetMembers(a)
		for _, m := range toSetMembers(b) {
			if !containsValue(members, m) {
				members = append(members, m)
			}
		}
		return Value{Kind: KindSet, Set: members}
	},
}

func toSetMembers(v Value) []Value {
	if v.Kind == KindSet {
		out := make([]Value, len(v.Set))
		copy(out, v.Set)
		return out
	}
	return []Value{v}
}

// OrdinalLWW keeps the value with the greatest ordinal stamp. Two distinct
// values carrying the same ordinal cannot be reconciled and produce a
// contradiction; an exact redelivery is a no-op.
var OrdinalLWW = Op{
	Name:    "lww",
	Ordered: true,
	combine: lwwCombine,
}

// LatestBySeq is last-writer-wins tie-broken by a process-local arrival
// counter assigned at acceptance, never by wall-clock time. The stamping is
// done by the accepting cell; the merge mechanics are ordinal comparison.
var LatestBySeq = Op{
	Name:    "latest",
	Ordered: true,
	combine: lwwCombine,
}

func lwwCombine(a, b Value) Value {
	if b.Ord > a.Ord {
		return b
	}
	if a.Ord > b.Ord {
		return a
	}
	if Equal(a, b) {
		return a
	}
	// Deterministic side ordering keeps the operator commutative.
	left, right := a, b
	if right.Format() < left.Format() {
		left, right = right, left
	}
	return Contradiction("conflicting writes at equal ordinal", left, right)
}

// operators indexes the shipped operator library by wire name.
var operators = map[string]Op{
	Max.Name:         Max,
	Min.Name:         Min,
	Or.Name:          Or,
	And.Name:         And,
	SetUnion.Name:    SetUnion,
	OrdinalLWW.Name:  OrdinalLWW,
	LatestBySeq.Name: LatestBySeq,
}

// LookupOp resolves a merge operator by name.
func LookupOp(name string) (Op, bool) {
	op, ok := operators[name]
	return op, ok
}

// OpNames lists the names of all shipped operators.
func OpNames() []string {
	names := make([]string, 0, len(operators))
	for name := range operators {
		names = append(names, name)
	}
	return names
}
