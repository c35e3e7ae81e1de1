package lattice

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEqualComparesSetsWithoutOrder(t *testing.T) {
	a := SetOf(Number(1), Number(2), Number(3))
	b := SetOf(Number(3), Number(1), Number(2))
	assert.True(t, Equal(a, b))

	c := SetOf(Number(1), Number(2))
	assert.False(t, Equal(a, c))
}

func TestEqualDistinguishesKinds(t *testing.T) {
	assert.False(t, Equal(Number(1), String("1")))
	assert.False(t, Equal(Bool(false), Nothing()))
	assert.True(t, Equal(Nothing(), Nothing()))
}

func TestEqualIncludesOrdinalStamp(t *testing.T) {
	assert.False(t, Equal(String("x").WithOrdinal(1), String("x").WithOrdinal(2)))
	assert.True(t, Equal(String("x").WithOrdinal(1), String("x").WithOrdinal(1)))
}

func TestSetOfDeduplicates(t *testing.T) {
	s := SetOf(String("a"), String("a"), String("b"))
	assert.Len(t, s.Set, 2)
}

func TestFieldAccess(t *testing.T) {
	d := DictOf(map[string]Value{"lat": Number(51.5), "lon": Number(-0.1)})

	lat, ok := d.Field("lat")
	require.True(t, ok)
	assert.True(t, Equal(lat, Number(51.5)))

	_, ok = d.Field("alt")
	assert.False(t, ok)

	_, ok = Number(1).Field("anything")
	assert.False(t, ok)
}

func TestJSONRoundTrip(t *testing.T) {
	contra := Contradiction("two writers", String("a"), String("b"))
	values := []Value{
		Nothing(),
		Number(0),
		Number(-12.75),
		Bool(false),
		Bool(true),
		String(""),
		String("hello world"),
		SetOf(Number(1), String("x")),
		DictOf(map[string]Value{"nested": SetOf(Bool(true))}),
		contra,
		Number(42).WithOrdinal(7),
	}

	for _, v := range values {
		data, err := json.Marshal(v)
		require.NoError(t, err, v.Format())

		var got Value
		require.NoError(t, json.Unmarshal(data, &got), v.Format())
		assert.True(t, Equal(v, got), "round trip changed %s into %s", v.Format(), got.Format())
	}
}

func TestUnmarshalRejectsMalformedValues(t *testing.T) {
	cases := []string{
		`{"kind":"launch-codes"}`,
		`{"kind":"number"}`,
		`{"kind":"bool"}`,
		`{"kind":"string"}`,
		`{"kind":"contradiction"}`,
		`{"kind":"contradiction","conflict":{"reason":""}}`,
	}
	for _, raw := range cases {
		var v Value
		assert.Error(t, json.Unmarshal([]byte(raw), &v), raw)
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "null", Nothing().Format())
	assert.Equal(t, "42", Number(42).Format())
	assert.Equal(t, "2.5", Number(2.5).Format())
	assert.Equal(t, "true", Bool(true).Format())
	assert.Equal(t, "plain", String("plain").Format())
	assert.Equal(t, `"two words"`, String("two words").Format())
	assert.Equal(t, `"false"`, String("false").Format())
	assert.Equal(t, "[1,2]", SetOf(Number(1), Number(2)).Format())
	assert.Equal(t, `{"a":1}`, DictOf(map[string]Value{"a": Number(1)}).Format())
	assert.Equal(t, "contradiction(why)", Contradiction("why", Number(1), Number(2)).Format())
}
