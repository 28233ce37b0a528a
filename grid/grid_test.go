package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoundedGrid2DRejectsPastCapacity(t *testing.T) {
	g := NewBoundedGrid2D(4, 4, 1.0)
	for i := 0; i < BoundedCellCapacity; i++ {
		assert.True(t, g.Insert(1, 1, uint32(i)))
	}
	assert.False(t, g.Insert(1, 1, uint32(BoundedCellCapacity)))
	assert.Len(t, g.Cell(1, 1), BoundedCellCapacity)
}

func TestBoundedGrid2DNoDuplicates(t *testing.T) {
	g := NewBoundedGrid2D(4, 4, 1.0)
	g.Insert(0, 0, 7)
	g.Insert(0, 0, 7)
	assert.Len(t, g.Cell(0, 0), 1)
}

func TestBoundedGrid2DClearResetsCounts(t *testing.T) {
	g := NewBoundedGrid2D(2, 2, 1.0)
	g.Insert(0, 0, 1)
	g.Insert(1, 1, 2)
	g.Clear()
	assert.Empty(t, g.Cell(0, 0))
	assert.Empty(t, g.Cell(1, 1))
}

func TestBoundedGrid2DClampsOutOfBoundsInsert(t *testing.T) {
	g := NewBoundedGrid2D(2, 2, 1.0)
	assert.True(t, g.Insert(-5, 50, 3))
	assert.True(t, g.Contains(1, 1, 3)) // clamped into the corner cell
}

func TestUnboundedGrid2DGrowsPastSixteen(t *testing.T) {
	g := NewUnboundedGrid2D(2, 2, 1.0)
	for i := 0; i < 100; i++ {
		assert.True(t, g.Insert(0, 0, uint32(i)))
	}
	assert.Len(t, g.Cell(0, 0), 100)
}

func TestUnboundedGrid2DNoDuplicates(t *testing.T) {
	g := NewUnboundedGrid2D(2, 2, 1.0)
	g.Insert(1, 0, 42)
	g.Insert(1, 0, 42)
	assert.Len(t, g.Cell(1, 0), 1)
}

func TestGrid3DNeighborIndexing(t *testing.T) {
	g := NewBoundedGrid3D(3, 3, 3, 1.0)
	g.Insert(1, 1, 1, 99)
	assert.True(t, g.Contains(1, 1, 1, 99))
	assert.False(t, g.Contains(0, 0, 0, 99))
	assert.Empty(t, g.Cell(0, 0, 0))
}

func TestUnboundedGrid3DClearReusesStorage(t *testing.T) {
	g := NewUnboundedGrid3D(2, 2, 2, 1.0)
	g.Insert(0, 0, 0, 1)
	g.Clear()
	assert.Empty(t, g.Cell(0, 0, 0))
	assert.GreaterOrEqual(t, cap(g.Cell(0, 0, 0)), 1) // storage kept, not nilled
}

var (
	_ Grid2D = (*BoundedGrid2D)(nil)
	_ Grid2D = (*UnboundedGrid2D)(nil)
	_ Grid3D = (*BoundedGrid3D)(nil)
	_ Grid3D = (*UnboundedGrid3D)(nil)
)
