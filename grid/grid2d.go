// Package grid implements the uniform spatial grid (spec §4.B): a flat
// array of cells mapping a particle's integer grid coordinate to the
// indices sharing that cell. Two cell representations are admissible —
// bounded (fixed-capacity array, cache-resident, drops past capacity)
// and unbounded (growable slice, a correctness fallback) — grounded
// respectively on original_source/Collision System/grid.h's
// CollisionCell/CollisionGrid and on mod_spatialgrid.go's
// SpatialHashGrid.
//
// Neither variant is safe for concurrent writers: both are rebuilt
// single-threaded at the start of every substep and then only read
// during the (lock-free, slice-partitioned) collision pass.
package grid

// BoundedCellCapacity is the default fixed capacity K for bounded
// cells, used with cell size s >= 2*r_max; 16 is the value the
// original C++ (CollisionCell::CELL_CAPACITY) encodes.
const BoundedCellCapacity = 16

// Grid2D is the interface the Verlet 2D solver depends on so it can be
// built against either cell representation without caring which.
type Grid2D interface {
	Clear()
	// Insert adds id to cell (gx, gy), clamped to grid bounds. Returns
	// false if the insertion was dropped (bounded capacity exceeded);
	// the Verlet solvers log each such drop as a warning.
	Insert(gx, gy int, id uint32) bool
	Cell(gx, gy int) []uint32
	Contains(gx, gy int, id uint32) bool
	Width() int
	Height() int
	CellSize() float32
}

func clampIndex(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ---- Bounded variant ----

type boundedCell2D struct {
	ids   [BoundedCellCapacity]uint32
	count int
}

func (c *boundedCell2D) clear() { c.count = 0 }

func (c *boundedCell2D) contains(id uint32) bool {
	for i := 0; i < c.count; i++ {
		if c.ids[i] == id {
			return true
		}
	}
	return false
}

// insert returns false if the cell is at capacity. Duplicate ids are
// treated as already present (no-op, still "succeeds").
func (c *boundedCell2D) insert(id uint32) bool {
	if c.contains(id) {
		return true
	}
	if c.count >= BoundedCellCapacity {
		return false
	}
	c.ids[c.count] = id
	c.count++
	return true
}

func (c *boundedCell2D) items() []uint32 { return c.ids[:c.count] }

// BoundedGrid2D is the cache-resident grid variant: every cell is a
// fixed-size array embedded directly in the backing slice, so a full
// clear touches no allocator and a rebuild never grows memory.
type BoundedGrid2D struct {
	width, height int
	cellSize      float32
	cells         []boundedCell2D
}

func NewBoundedGrid2D(width, height int, cellSize float32) *BoundedGrid2D {
	return &BoundedGrid2D{
		width:    width,
		height:   height,
		cellSize: cellSize,
		cells:    make([]boundedCell2D, width*height),
	}
}

func (g *BoundedGrid2D) index(gx, gy int) int { return gy*g.width + gx }

func (g *BoundedGrid2D) inBounds(gx, gy int) bool {
	return gx >= 0 && gx < g.width && gy >= 0 && gy < g.height
}

func (g *BoundedGrid2D) Clear() {
	for i := range g.cells {
		g.cells[i].clear()
	}
}

func (g *BoundedGrid2D) Insert(gx, gy int, id uint32) bool {
	gx = clampIndex(gx, 0, g.width-1)
	gy = clampIndex(gy, 0, g.height-1)
	if !g.inBounds(gx, gy) {
		return false
	}
	return g.cells[g.index(gx, gy)].insert(id)
}

func (g *BoundedGrid2D) Cell(gx, gy int) []uint32 {
	if !g.inBounds(gx, gy) {
		return nil
	}
	return g.cells[g.index(gx, gy)].items()
}

func (g *BoundedGrid2D) Contains(gx, gy int, id uint32) bool {
	if !g.inBounds(gx, gy) {
		return false
	}
	return g.cells[g.index(gx, gy)].contains(id)
}

func (g *BoundedGrid2D) Width() int         { return g.width }
func (g *BoundedGrid2D) Height() int        { return g.height }
func (g *BoundedGrid2D) CellSize() float32  { return g.cellSize }

// ---- Unbounded variant ----

// UnboundedGrid2D stores each cell as a growable slice of ids, reset
// (not reallocated) on Clear. Use this when particle clustering can
// exceed BoundedCellCapacity and dropping insertions silently is
// unacceptable.
type UnboundedGrid2D struct {
	width, height int
	cellSize      float32
	cells         [][]uint32
}

func NewUnboundedGrid2D(width, height int, cellSize float32) *UnboundedGrid2D {
	return &UnboundedGrid2D{
		width:    width,
		height:   height,
		cellSize: cellSize,
		cells:    make([][]uint32, width*height),
	}
}

func (g *UnboundedGrid2D) index(gx, gy int) int { return gy*g.width + gx }

func (g *UnboundedGrid2D) inBounds(gx, gy int) bool {
	return gx >= 0 && gx < g.width && gy >= 0 && gy < g.height
}

func (g *UnboundedGrid2D) Clear() {
	for i := range g.cells {
		g.cells[i] = g.cells[i][:0]
	}
}

func (g *UnboundedGrid2D) Insert(gx, gy int, id uint32) bool {
	gx = clampIndex(gx, 0, g.width-1)
	gy = clampIndex(gy, 0, g.height-1)
	if !g.inBounds(gx, gy) {
		return false
	}
	idx := g.index(gx, gy)
	for _, v := range g.cells[idx] {
		if v == id {
			return true
		}
	}
	g.cells[idx] = append(g.cells[idx], id)
	return true
}

func (g *UnboundedGrid2D) Cell(gx, gy int) []uint32 {
	if !g.inBounds(gx, gy) {
		return nil
	}
	return g.cells[g.index(gx, gy)]
}

func (g *UnboundedGrid2D) Contains(gx, gy int, id uint32) bool {
	if !g.inBounds(gx, gy) {
		return false
	}
	for _, v := range g.cells[g.index(gx, gy)] {
		if v == id {
			return true
		}
	}
	return false
}

func (g *UnboundedGrid2D) Width() int        { return g.width }
func (g *UnboundedGrid2D) Height() int       { return g.height }
func (g *UnboundedGrid2D) CellSize() float32 { return g.cellSize }
