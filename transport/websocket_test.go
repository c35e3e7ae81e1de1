package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/gadgetmesh/errors"
	"github.com/c360/gadgetmesh/gadget"
	"github.com/c360/gadgetmesh/lattice"
)

// wsPair upgrades one connection through a real HTTP server and returns both
// ends of the resulting frame channel.
func wsPair(t *testing.T) (client, server Conn) {
	t.Helper()
	accepted := make(chan Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := UpgradeWebSocket(w, r)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		accepted <- conn
	}))
	t.Cleanup(srv.Close)

	client, err := DialWebSocket("ws" + strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	select {
	case server = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("server side never accepted the connection")
	}
	t.Cleanup(func() { _ = server.Close() })
	return client, server
}

func TestWebSocketFrameRoundTrip(t *testing.T) {
	client, server := wsPair(t)

	out := Frame{Source: "counter", Port: gadget.DefaultPort, Type: gadget.EffectChanged, Value: lattice.Number(7)}
	require.NoError(t, client.Send(out))
	got, err := server.Receive()
	require.NoError(t, err)
	assert.Equal(t, "counter", got.Source)
	assert.True(t, lattice.Equal(lattice.Number(7), got.Value))

	back := Frame{Source: "peak", Port: gadget.DefaultPort, Type: gadget.EffectChanged, Value: lattice.Number(9)}
	require.NoError(t, server.Send(back))
	got, err = client.Receive()
	require.NoError(t, err)
	assert.Equal(t, "peak", got.Source)
	assert.True(t, lattice.Equal(lattice.Number(9), got.Value))
}

func TestWebSocketReceiveReportsPeerClose(t *testing.T) {
	client, server := wsPair(t)

	require.NoError(t, client.Close())

	_, err := server.Receive()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTransportClosed)
}

func TestWebSocketDialFailure(t *testing.T) {
	_, err := DialWebSocket("ws://127.0.0.1:1/nothing-listens-here")
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestWebSocketBridgeEndToEnd(t *testing.T) {
	serverCell := gadget.NewCell("server", lattice.Max)

	ready := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := UpgradeWebSocket(w, r)
		if err != nil {
			return
		}
		b, err := NewBridge("websocket", serverCell, conn)
		if err != nil {
			return
		}
		if err := b.Start(context.Background()); err != nil {
			return
		}
		close(ready)
		<-b.Done()
	}))
	t.Cleanup(srv.Close)

	conn, err := DialWebSocket("ws" + strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, err)

	clientCell := gadget.NewCell("client", lattice.Max)
	startBridge(t, "websocket", clientCell, conn)
	<-ready

	clientCell.Receive(lattice.Number(33))
	assert.Eventually(t, func() bool {
		return serverCell.Current().Num == 33
	}, 2*time.Second, 5*time.Millisecond)

	serverCell.Receive(lattice.Number(50))
	assert.Eventually(t, func() bool {
		return clientCell.Current().Num == 50
	}, 2*time.Second, 5*time.Millisecond)
}
