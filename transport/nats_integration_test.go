//go:build integration

package transport

import (
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/gadgetmesh/errors"
	"github.com/c360/gadgetmesh/gadget"
	"github.com/c360/gadgetmesh/lattice"
)

func natsURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}
	return url
}

func TestNATSConnRoundTrip(t *testing.T) {
	nc, err := nats.Connect(natsURL(t))
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	// Two meshes bridge by crossing their subject pairs.
	a, err := NewNATSConn(nc, "mesh.a-to-b", "mesh.b-to-a")
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	b, err := NewNATSConn(nc, "mesh.b-to-a", "mesh.a-to-b")
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	out := Frame{Source: "peak", Port: gadget.DefaultPort, Type: gadget.EffectChanged, Value: lattice.Number(42)}
	require.NoError(t, a.Send(out))

	got, err := b.Receive()
	require.NoError(t, err)
	assert.Equal(t, "peak", got.Source)
	assert.True(t, lattice.Equal(lattice.Number(42), got.Value))
}

func TestNATSConnCloseStopsSendAndReceive(t *testing.T) {
	nc, err := nats.Connect(natsURL(t))
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	conn, err := NewNATSConn(nc, "mesh.out", "mesh.in")
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	err = conn.Send(Frame{Source: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTransportClosed)

	done := make(chan error, 1)
	go func() {
		_, err := conn.Receive()
		done <- err
	}()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, errors.ErrTransportClosed)
	case <-time.After(time.Second):
		t.Fatal("receive did not return after close")
	}
}
