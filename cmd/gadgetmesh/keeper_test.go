package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/gadgetmesh/gadget"
	"github.com/c360/gadgetmesh/lattice"
	"github.com/c360/gadgetmesh/registry"
	"github.com/c360/gadgetmesh/storage"
	"github.com/c360/gadgetmesh/storage/memory"
)

func TestKeeperPersistAndRestore(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	addr := storage.Address{NetworkID: "fleet-7", GroupID: "engine-room"}

	scope := registry.New()
	cell := gadget.NewCell("peak", lattice.Max)
	cell.Receive(lattice.Number(42))
	require.NoError(t, scope.Register("peak", cell, map[string]string{
		"kind": gadget.KindCell, "merge": "max",
	}))

	k := newKeeper(store, addr, scope, nil, slog.Default())
	require.NoError(t, k.persist(ctx))

	// A fresh scope, as after a restart.
	fresh := registry.New()
	k2 := newKeeper(store, addr, fresh, nil, slog.Default())
	require.NoError(t, k2.restore(ctx))

	restored, ok := fresh.Resolve("peak")
	require.True(t, ok)
	assert.Equal(t, "42", restored.Current().Format())
}

func TestKeeperRestoreSkipsUnknownOperator(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	addr := storage.Address{NetworkID: "fleet-7", GroupID: "engine-room"}
	require.NoError(t, store.Save(ctx, addr, "odd", []byte(`{"merge":"teleport","value":"1"}`)))

	scope := registry.New()
	k := newKeeper(store, addr, scope, nil, slog.Default())
	require.NoError(t, k.restore(ctx))
	assert.Empty(t, scope.Names())
}

func TestKeeperShutdownSnapshots(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	addr := storage.Address{NetworkID: "fleet-7", GroupID: "engine-room"}

	scope := registry.New()
	cell := gadget.NewCell("peak", lattice.Max)
	cell.Receive(lattice.Number(7))
	require.NoError(t, scope.Register("peak", cell, map[string]string{
		"kind": gadget.KindCell, "merge": "max",
	}))

	k := newKeeper(store, addr, scope, nil, slog.Default())
	require.NoError(t, k.shutdown(ctx))

	snaps, err := store.ListSnapshots(ctx, addr)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 1, snaps[0].BlobCount)
}
