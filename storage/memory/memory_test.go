package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/gadgetmesh/errors"
	"github.com/c360/gadgetmesh/storage"
)

var addr = storage.Address{NetworkID: "net-1", GroupID: "group-a"}

func TestSaveLoadDelete(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, addr, "cell-temp", []byte(`{"kind":"number","num":21}`)))

	data, err := s.Load(ctx, addr, "cell-temp")
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"number","num":21}`, string(data))

	ok, err := s.Exists(ctx, addr, "cell-temp")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete(ctx, addr, "cell-temp"))
	require.NoError(t, s.Delete(ctx, addr, "cell-temp")) // idempotent

	_, err = s.Load(ctx, addr, "cell-temp")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrKeyNotFound)
}

func TestSaveValidation(t *testing.T) {
	s := New()
	ctx := context.Background()

	assert.Error(t, s.Save(ctx, storage.Address{}, "x", nil))
	assert.Error(t, s.Save(ctx, addr, "", nil))
}

func TestLoadReturnsACopy(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, addr, "blob", []byte("abc")))

	data, err := s.Load(ctx, addr, "blob")
	require.NoError(t, err)
	data[0] = 'z'

	again, err := s.Load(ctx, addr, "blob")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}

func TestListIsScopedAndSorted(t *testing.T) {
	s := New()
	ctx := context.Background()
	other := storage.Address{NetworkID: "net-1", GroupID: "group-b"}

	require.NoError(t, s.Save(ctx, addr, "b", nil))
	require.NoError(t, s.Save(ctx, addr, "a", nil))
	require.NoError(t, s.Save(ctx, other, "c", nil))

	names, err := s.List(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestSnapshotCreateListRestore(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, addr, "state", []byte("v1")))
	snap, err := s.CreateSnapshot(ctx, addr, "before-upgrade")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.BlobCount)

	// Mutate after the capture, then restore.
	require.NoError(t, s.Save(ctx, addr, "state", []byte("v2")))
	require.NoError(t, s.Save(ctx, addr, "extra", []byte("junk")))

	require.NoError(t, s.RestoreSnapshot(ctx, addr, "before-upgrade"))

	data, err := s.Load(ctx, addr, "state")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), data)

	ok, err := s.Exists(ctx, addr, "extra")
	require.NoError(t, err)
	assert.False(t, ok)

	snaps, err := s.ListSnapshots(ctx, addr)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "before-upgrade", snaps[0].ID)
}

func TestRestoreUnknownSnapshot(t *testing.T) {
	s := New()
	err := s.RestoreSnapshot(context.Background(), addr, "ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrSnapshotNotFound)
}
