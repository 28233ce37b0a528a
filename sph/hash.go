package sph

import (
	"math/bits"

	"github.com/gekko3d/physcore/pool"
)

// hashEntry is one row of the sort-based spatial hash's parallel
// array: a particle index paired with the cell key it currently falls
// in (spec §3 "Sort-based spatial hash"). Padding rows (beyond the
// live particle count) carry cellKeyInfinity so they sort to the end.
type hashEntry struct {
	index   uint32
	cellKey uint32
}

const invalidIndex = ^uint32(0)
const cellKeyInfinity = ^uint32(0)

// hashPrimes are the large primes used to combine grid coordinates
// into a single hash before reducing modulo the table size, grounded
// on GPUSort.cpp's HashCell.
const (
	hashPrimeX = 15823
	hashPrimeY = 9737333
	hashPrimeZ = 440817757
)

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

func cellCoord2D(pos [2]float32, min [2]float32, h float32) (int, int) {
	gx := int(floor32((pos[0] - min[0]) / h))
	gy := int(floor32((pos[1] - min[1]) / h))
	return gx, gy
}

func cellCoord3D(pos [3]float32, min [3]float32, h float32) (int, int, int) {
	gx := int(floor32((pos[0] - min[0]) / h))
	gy := int(floor32((pos[1] - min[1]) / h))
	gz := int(floor32((pos[2] - min[2]) / h))
	return gx, gy, gz
}

func floor32(v float32) float32 {
	i := int32(v)
	if v < 0 && float32(i) != v {
		i--
	}
	return float32(i)
}

func cellKey2D(gx, gy int, tableSize uint32) uint32 {
	h := uint32(int32(gx))*hashPrimeX ^ uint32(int32(gy))*hashPrimeY
	return h % tableSize
}

func cellKey3D(gx, gy, gz int, tableSize uint32) uint32 {
	h := uint32(int32(gx))*hashPrimeX ^ uint32(int32(gy))*hashPrimeY ^ uint32(int32(gz))*hashPrimeZ
	return h % tableSize
}

// spatialHash is the sort-based spatial hash shared by both
// dimensionalities: a padded, sorted entries array plus a
// start-indices table (spec §3/§4.D pass 2).
type spatialHash struct {
	entries      []hashEntry
	startIndices []uint32
	tableSize    uint32
}

func newSpatialHash(n int) *spatialHash {
	padded := nextPowerOfTwo(n)
	tableSize := uint32(padded)
	if tableSize == 0 {
		tableSize = 1
	}
	return &spatialHash{
		entries:      make([]hashEntry, padded),
		startIndices: make([]uint32, tableSize),
		tableSize:    tableSize,
	}
}

// build fills entries from keyFn(i) for i in [0, n) and pads the rest
// with the infinity sentinel, then bitonic-sorts and computes
// start_indices.
func (s *spatialHash) build(p *pool.Pool, n int, keyFn func(i int) uint32) {
	for i := 0; i < n; i++ {
		s.entries[i] = hashEntry{index: uint32(i), cellKey: keyFn(i)}
	}
	for i := n; i < len(s.entries); i++ {
		s.entries[i] = hashEntry{index: invalidIndex, cellKey: cellKeyInfinity}
	}

	bitonicSort(p, s.entries)

	for i := range s.startIndices {
		s.startIndices[i] = uint32(len(s.entries))
	}
	for i, e := range s.entries {
		if e.cellKey >= s.tableSize {
			continue
		}
		if i == 0 || s.entries[i-1].cellKey != e.cellKey {
			s.startIndices[e.cellKey] = uint32(i)
		}
	}
}

// forEachInCell calls fn for every particle index whose predicted
// position currently hashes to key.
func (s *spatialHash) forEachInCell(key uint32, fn func(particleIndex uint32)) {
	if key >= s.tableSize {
		return
	}
	i := s.startIndices[key]
	for int(i) < len(s.entries) && s.entries[i].cellKey == key {
		fn(s.entries[i].index)
		i++
	}
}

// bitonicSort implements Batcher's network over a power-of-two-sized
// slice (spec §4.D "Bitonic sort"), dispatching each (stage, step)
// compare-exchange pass through the worker pool. Grounded on
// GPUSort.cpp's BitonicSort kernel: steps run 0..stage within a stage,
// groupWidth = 1<<(stage-step), groupHeight = 2*groupWidth-1, work item
// i compares indexLeft = hIndex + (groupHeight+1)*(i/groupWidth) with
// indexLeft + groupHeight-2*hIndex on a stage's first step (the
// mirrored compare) and with indexLeft + groupWidth on every later step.
func bitonicSort(p *pool.Pool, entries []hashEntry) {
	n := len(entries)
	if n < 2 {
		return
	}
	numStages := bits.Len(uint(n)) - 1
	dispatchCount := n / 2

	for stage := 0; stage < numStages; stage++ {
		for step := 0; step <= stage; step++ {
			groupWidth := uint32(1) << uint(stage-step)
			groupHeight := 2*groupWidth - 1
			firstStep := step == 0

			chunk := dispatchCount
			if threads := p.ThreadCount(); threads > 0 {
				chunk = (dispatchCount + threads - 1) / threads
			}
			if chunk < 1 {
				chunk = 1
			}

			p.ParallelFor(dispatchCount, chunk, func(start, end int) {
				for idx := start; idx < end; idx++ {
					i := uint32(idx)
					hIndex := i & (groupWidth - 1)
					indexLeft := hIndex + (groupHeight+1)*(i/groupWidth)
					rightStepSize := groupWidth
					if firstStep {
						rightStepSize = groupHeight - 2*hIndex
					}
					indexRight := indexLeft + rightStepSize
					if int(indexRight) >= n {
						continue
					}
					if entries[indexLeft].cellKey > entries[indexRight].cellKey {
						entries[indexLeft], entries[indexRight] = entries[indexRight], entries[indexLeft]
					}
				}
			})
		}
	}
}
