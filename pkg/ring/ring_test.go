package ring

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsNonPositiveCapacity(t *testing.T) {
	_, err := New[int](0)
	require.Error(t, err)
	_, err = New[int](-5)
	require.Error(t, err)
}

func TestPushAndSnapshotOrder(t *testing.T) {
	r, err := New[int](4)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		evicted := r.Push(i)
		assert.False(t, evicted)
	}
	assert.Equal(t, []int{1, 2, 3}, r.Snapshot())
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, 4, r.Cap())
}

func TestEvictsOldestFirst(t *testing.T) {
	r, err := New[string](2)
	require.NoError(t, err)

	r.Push("a")
	r.Push("b")
	evicted := r.Push("c")
	assert.True(t, evicted)
	assert.Equal(t, []string{"b", "c"}, r.Snapshot())

	writes, evictions := r.Stats()
	assert.Equal(t, uint64(3), writes)
	assert.Equal(t, uint64(1), evictions)
}

func TestClear(t *testing.T) {
	r, err := New[int](3)
	require.NoError(t, err)
	r.Push(1)
	r.Push(2)
	r.Clear()
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Snapshot())
}

func TestConcurrentPush(t *testing.T) {
	r, err := New[int](64)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				r.Push(base*100 + i)
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, 64, r.Len())
	writes, evictions := r.Stats()
	assert.Equal(t, uint64(800), writes)
	assert.Equal(t, uint64(800-64), evictions)
}
