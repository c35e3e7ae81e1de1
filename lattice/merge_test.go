package lattice

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// aciSamples holds, per operator, values over which the ACI laws must hold.
// Ordered operators are sampled with distinct ordinals; the equal-ordinal
// conflict policy is covered separately below.
var aciSamples = map[string][]Value{
	"max":    {Number(-3), Number(0), Number(10), Number(10), Number(99.5)},
	"min":    {Number(-3), Number(0), Number(10), Number(10), Number(99.5)},
	"or":     {Bool(false), Bool(true), Bool(false)},
	"and":    {Bool(true), Bool(false), Bool(true)},
	"union":  {SetOf(String("a")), SetOf(String("b"), String("c")), SetOf(Number(1), Number(2)), SetOf()},
	"lww":    {String("x").WithOrdinal(1), String("y").WithOrdinal(2), String("z").WithOrdinal(5)},
	"latest": {Number(7).WithOrdinal(3), Number(8).WithOrdinal(4), Number(9).WithOrdinal(9)},
}

func TestOperatorsSatisfyACILaws(t *testing.T) {
	for name, samples := range aciSamples {
		op, ok := LookupOp(name)
		require.True(t, ok, "operator %s must be registered", name)

		t.Run(name, func(t *testing.T) {
			for i, a := range samples {
				for j, b := range samples {
					ab := op.Merge(a, b)
					ba := op.Merge(b, a)
					assert.True(t, Equal(ab, ba),
						"commutativity: merge(%d,%d) %s != %s", i, j, ab.Format(), ba.Format())

					for k, c := range samples {
						left := op.Merge(op.Merge(a, b), c)
						right := op.Merge(a, op.Merge(b, c))
						assert.True(t, Equal(left, right),
							"associativity: samples %d,%d,%d: %s != %s", i, j, k, left.Format(), right.Format())
					}
				}
				assert.True(t, Equal(op.Merge(a, a), a),
					"idempotence: merge(a,a) != a for sample %d", i)
			}
		})
	}
}

func TestMergeZeroValuesYieldsNothing(t *testing.T) {
	for name := range aciSamples {
		op, _ := LookupOp(name)
		assert.True(t, op.Merge().IsNothing(), "operator %s", name)
	}
}

func TestNothingIsIdentity(t *testing.T) {
	for name, samples := range aciSamples {
		op, _ := LookupOp(name)
		for _, v := range samples {
			assert.True(t, Equal(op.Merge(Nothing(), v), v), "operator %s", name)
			assert.True(t, Equal(op.Merge(v, Nothing()), v), "operator %s", name)
		}
	}
}

func TestContradictionIsTerminal(t *testing.T) {
	contra := Contradiction("split brain", Number(1), Number(2))
	merged := Max.Merge(contra, Number(100))
	assert.True(t, merged.IsContradiction())
	merged = Max.Merge(Number(100), contra)
	assert.True(t, merged.IsContradiction())
}

func TestOrdinalLWWPicksGreatestOrdinal(t *testing.T) {
	v5 := String("newer").WithOrdinal(5)
	v3 := String("older").WithOrdinal(3)

	got := OrdinalLWW.Merge(v5, v3)
	assert.True(t, Equal(got, v5), "later delivery with lower ordinal must lose")

	got = OrdinalLWW.Merge(v3, v5)
	assert.True(t, Equal(got, v5))
}

func TestEqualOrdinalDistinctValuesContradict(t *testing.T) {
	a := String("alpha").WithOrdinal(4)
	b := String("beta").WithOrdinal(4)

	got := OrdinalLWW.Merge(a, b)
	require.True(t, got.IsContradiction())
	require.NotNil(t, got.Conflict)
	assert.NotEmpty(t, got.Conflict.Reason)
	require.NotNil(t, got.Conflict.Left)
	require.NotNil(t, got.Conflict.Right)

	// Both originals must be present, regardless of merge order.
	sides := []Value{*got.Conflict.Left, *got.Conflict.Right}
	assert.True(t, containsValue(sides, a))
	assert.True(t, containsValue(sides, b))

	// Commutative: both orders produce the same contradiction.
	other := OrdinalLWW.Merge(b, a)
	assert.True(t, Equal(got, other))
}

func TestEqualOrdinalSameValueIsNoop(t *testing.T) {
	a := String("alpha").WithOrdinal(4)
	got := OrdinalLWW.Merge(a, a)
	assert.True(t, Equal(got, a))
}

func TestSetUnionDeduplicatesByDeepEquality(t *testing.T) {
	nested := DictOf(map[string]Value{"k": Number(1)})
	got := SetUnion.Merge(SetOf(nested), SetOf(DictOf(map[string]Value{"k": Number(1)})))
	require.Equal(t, KindSet, got.Kind)
	assert.Len(t, got.Set, 1)
}

func TestSetUnionPromotesScalars(t *testing.T) {
	got := SetUnion.Merge(String("a"), String("b"), String("a"))
	require.Equal(t, KindSet, got.Kind)
	assert.Len(t, got.Set, 2)
}

func TestAcceptsRejectsForeignKinds(t *testing.T) {
	assert.False(t, Max.Accepts(String("nope")))
	assert.False(t, Or.Accepts(Number(1)))
	assert.True(t, Max.Accepts(Nothing()))
	assert.True(t, Max.Accepts(Contradiction("r", Number(1), Number(2))))
	assert.True(t, SetUnion.Accepts(String("anything")))
}

func TestLookupOpUnknown(t *testing.T) {
	_, ok := LookupOp("median")
	assert.False(t, ok)
}

func TestOpNamesCoverLibrary(t *testing.T) {
	names := OpNames()
	assert.Len(t, names, 7)
	for _, want := range []string{"max", "min", "or", "and", "union", "lww", "latest"} {
		assert.Contains(t, names, want)
	}
}

func ExampleOp_Merge() {
	result := Max.Merge(Number(10), Number(15), Number(7))
	fmt.Println(result.Format())
	// Output: 15
}
