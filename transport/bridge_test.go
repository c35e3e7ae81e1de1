package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/gadgetmesh/gadget"
	"github.com/c360/gadgetmesh/lattice"
)

func startBridge(t *testing.T, adapter string, g gadget.Gadget, conn Conn, opts ...BridgeOption) *Bridge {
	t.Helper()
	b, err := NewBridge(adapter, g, conn, opts...)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, b.Start(ctx))
	t.Cleanup(func() { _ = b.Stop(time.Second) })
	return b
}

func TestBridgeWritesEachEmissionOnceInOrder(t *testing.T) {
	local, remote := Pair()
	cell := gadget.NewCell("counter", lattice.Max)
	startBridge(t, "inproc", cell, local)

	cell.Receive(lattice.Number(1))
	cell.Receive(lattice.Number(2))
	cell.Receive(lattice.Number(2)) // no-op, must not produce a frame
	cell.Receive(lattice.Number(3))

	var got []float64
	for len(got) < 3 {
		f, err := remote.Receive()
		require.NoError(t, err)
		got = append(got, f.Value.Num)
	}
	assert.Equal(t, []float64{1, 2, 3}, got)
}

func TestBridgeDeliversInboundFrames(t *testing.T) {
	local, remote := Pair()
	cell := gadget.NewCell("mirror", lattice.Max)
	startBridge(t, "inproc", cell, local)

	require.NoError(t, remote.Send(Frame{
		Source: "peer", Port: "value", Type: "changed", Value: lattice.Number(9),
	}))

	assert.Eventually(t, func() bool {
		return cell.Current().Num == 9
	}, time.Second, time.Millisecond)
}

func TestConvergenceUnderDisorderedDelivery(t *testing.T) {
	endA, endB := Pair()
	chaos := ChaosConfig{MaxDelay: 5 * time.Millisecond, DuplicateRate: 0.3, Seed: 1}

	cellA := gadget.NewCell("a", lattice.Max)
	cellB := gadget.NewCell("b", lattice.Max)
	cellA.Receive(lattice.Number(0))
	cellB.Receive(lattice.Number(0))

	startBridge(t, "chaos", cellA, WithChaos(endA, chaos))
	startBridge(t, "chaos", cellB, WithChaos(endB, ChaosConfig{
		MaxDelay: 5 * time.Millisecond, DuplicateRate: 0.3, Seed: 2,
	}))

	cellA.Receive(lattice.Number(10))
	cellA.Receive(lattice.Number(15))
	cellB.Receive(lattice.Number(20))

	assert.Eventually(t, func() bool {
		return cellA.Current().Num == 20 && cellB.Current().Num == 20
	}, 5*time.Second, 5*time.Millisecond)
}

func TestBridgeSkipsMalformedFrames(t *testing.T) {
	client, server := net.Pipe()
	cell := gadget.NewCell("robust", lattice.Max)

	startBridge(t, "pipe", cell, NewStreamConn(server))

	_, err := client.Write([]byte("garbage line\n"))
	require.NoError(t, err)

	good, err := EncodeFrame(Frame{Source: "s", Port: "value", Type: "changed", Value: lattice.Number(4)})
	require.NoError(t, err)
	_, err = client.Write(good)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return cell.Current().Num == 4
	}, time.Second, time.Millisecond)
}

func TestBridgeReportsChannelLoss(t *testing.T) {
	client, server := net.Pipe()
	cell := gadget.NewCell("watched", lattice.Max)

	status := make(chan error, 4)
	b := startBridge(t, "pipe", cell, NewStreamConn(server), WithStatusFunc(func(err error) {
		status <- err
	}))

	// Start reports the channel as up.
	require.NoError(t, <-status)

	require.NoError(t, client.Close())
	select {
	case err := <-status:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("expected a status callback after channel loss")
	}

	select {
	case <-b.Done():
	case <-time.After(time.Second):
		t.Fatal("read loop did not exit after channel loss")
	}
}

func TestBridgeStopLifecycle(t *testing.T) {
	local, _ := Pair()
	cell := gadget.NewCell("c", lattice.Max)
	b, err := NewBridge("inproc", cell, local)
	require.NoError(t, err)

	require.Error(t, b.Stop(time.Second))

	require.NoError(t, b.Start(context.Background()))
	require.Error(t, b.Start(context.Background()))
	require.NoError(t, b.Stop(time.Second))
	require.NoError(t, b.Stop(time.Second))
}

func TestTCPBridgeEndToEnd(t *testing.T) {
	serverCell := gadget.NewCell("server", lattice.Max)

	ready := make(chan struct{})
	srv, err := NewTCPServer("127.0.0.1:0", func(conn Conn) {
		b, err := NewBridge("tcp", serverCell, conn)
		if err != nil {
			return
		}
		if err := b.Start(context.Background()); err != nil {
			return
		}
		close(ready)
		<-b.Done()
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Start(ctx) }()
	require.Eventually(t, func() bool { return srv.Addr() != "" }, time.Second, time.Millisecond)

	conn, err := DialTCP(ctx, srv.Addr())
	require.NoError(t, err)

	clientCell := gadget.NewCell("client", lattice.Max)
	startBridge(t, "tcp", clientCell, conn)
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
