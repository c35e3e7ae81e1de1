package blt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRefBareNameIsCellShorthand(t *testing.T) {
	ref, err := ParseRef("temperature")
	require.NoError(t, err)
	assert.Equal(t, RefCell, ref.Kind)
	assert.Equal(t, "temperature", ref.Name)
	assert.False(t, ref.Delete)
}

func TestParseRefCellURI(t *testing.T) {
	ref, err := ParseRef("bl:///cell/sensor-a")
	require.NoError(t, err)
	assert.Equal(t, RefCell, ref.Kind)
	assert.Equal(t, "sensor-a", ref.Name)
}

func TestParseRefDeleteSuffix(t *testing.T) {
	ref, err := ParseRef("bl:///cell/sensor-a/delete")
	require.NoError(t, err)
	assert.Equal(t, "sensor-a", ref.Name)
	assert.True(t, ref.Delete)
}

func TestParseRefFoldWithSources(t *testing.T) {
	ref, err := ParseRef("bl:///fold/max?sources=bl:///cell/a,bl:///cell/b,c")
	require.NoError(t, err)
	assert.Equal(t, RefFold, ref.Kind)
	assert.Equal(t, "max", ref.Name)
	assert.Equal(t, []string{"a", "b", "c"}, ref.Sources)
}

func TestParseRefFoldWithoutSources(t *testing.T) {
	_, err := ParseRef("bl:///fold/max")
	assert.Error(t, err)
}

func TestParseRefRule(t *testing.T) {
	ref, err := ParseRef("bl:///rule/fan-out")
	require.NoError(t, err)
	assert.Equal(t, RefRule, ref.Kind)
	assert.Equal(t, "fan-out", ref.Name)
}

func TestParseRefRejectsForeignScheme(t *testing.T) {
	_, err := ParseRef("http://example.com/cell/a")
	assert.Error(t, err)
}

func TestParseRefRejectsUnknownKind(t *testing.T) {
	_, err := ParseRef("bl:///teapot/a")
	assert.Error(t, err)
}

func TestParseRefRejectsEmpty(t *testing.T) {
	_, err := ParseRef("   ")
	assert.Error(t, err)
}

func TestRefStringRoundTrip(t *testing.T) {
	for _, raw := range []string{
		"bl:///cell/a",
		"bl:///rule/fan-out",
		"bl:///fold/max?sources=a,b",
	} {
		ref, err := ParseRef(raw)
		require.NoError(t, err)
		again, err := ParseRef(ref.String())
		require.NoError(t, err)
		assert.Equal(t, ref, again, "round trip of %s", raw)
	}
}
