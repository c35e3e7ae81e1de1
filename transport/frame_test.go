package transport

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/gadgetmesh/errors"
	"github.com/c360/gadgetmesh/gadget"
	"github.com/c360/gadgetmesh/lattice"
)

func TestFrameEffectRoundTrip(t *testing.T) {
	e := gadget.Effect{
		Source: "sensor",
		Port:   gadget.DefaultPort,
		Type:   gadget.EffectChanged,
		Value:  lattice.Number(42).WithOrdinal(7),
	}

	data, err := EncodeFrame(FrameFromEffect(e))
	require.NoError(t, err)
	assert.Equal(t, byte('\n'), data[len(data)-1])

	decoded, err := DecodeFrame(data)
	require.NoError(t, err)
	assert.Equal(t, e, decoded.Effect())
	assert.Equal(t, uint64(7), decoded.Value.Ord)
}

func TestDecodeMalformedFrame(t *testing.T) {
	_, err := DecodeFrame([]byte("{not json\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMalformedFrame)
}

func TestStreamConnSendReceive(t *testing.T) {
	client, server := net.Pipe()
	a := NewStreamConn(client)
	b := NewStreamConn(server)
	defer a.Close()
	defer b.Close()

	want := Frame{Source: "s", Port: "value", Type: "changed", Value: lattice.String("hi")}
	go func() {
		_ = a.Send(want)
	}()

	got, err := b.Receive()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStreamConnReceiveAfterClose(t *testing.T) {
	client, server := net.Pipe()
	a := NewStreamConn(client)
	b := NewStreamConn(server)

	require.NoError(t, a.Close())
	_, err := b.Receive()
	require.Error(t, err)
}
