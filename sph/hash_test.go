package sph

import (
	"testing"

	"github.com/gekko3d/physcore/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextPowerOfTwo(t *testing.T) {
	cases := map[int]int{0: 1, 1: 1, 2: 2, 3: 4, 5: 8, 16: 16, 17: 32}
	for in, want := range cases {
		assert.Equal(t, want, nextPowerOfTwo(in))
	}
}

func TestBitonicSortProducesAscendingOrder(t *testing.T) {
	p, err := pool.New(4, nil)
	require.NoError(t, err)
	defer p.Shutdown()

	raw := []uint32{42, 7, 19, 3, 255, 0, 128, 64, 11, 9, 99, 1, 200, 5, 6, 8}
	entries := make([]hashEntry, len(raw))
	for i, v := range raw {
		entries[i] = hashEntry{index: uint32(i), cellKey: v}
	}

	bitonicSort(p, entries)

	for i := 0; i < len(entries)-1; i++ {
		assert.LessOrEqual(t, entries[i].cellKey, entries[i+1].cellKey)
	}
}

func TestBitonicSortHandlesNonPowerOfTwoInputViaSpatialHash(t *testing.T) {
	p, err := pool.New(4, nil)
	require.NoError(t, err)
	defer p.Shutdown()

	h := newSpatialHash(5)
	keys := []uint32{3, 1, 4, 1, 5}
	h.build(p, 5, func(i int) uint32 { return keys[i] % h.tableSize })

	for i := 0; i < len(h.entries)-1; i++ {
		assert.LessOrEqual(t, h.entries[i].cellKey, h.entries[i+1].cellKey)
	}
}

func TestSpatialHashStartIndicesFindEveryLiveEntry(t *testing.T) {
	p, err := pool.New(2, nil)
	require.NoError(t, err)
	defer p.Shutdown()

	h := newSpatialHash(8)
	keys := []uint32{0, 0, 1, 1, 1, 2, 3, 3}
	h.build(p, 8, func(i int) uint32 { return keys[i] % h.tableSize })

	seen := make(map[uint32]bool)
	for key := uint32(0); key < h.tableSize; key++ {
		h.forEachInCell(key, func(idx uint32) { seen[idx] = true })
	}
	assert.Len(t, seen, 8)
}
