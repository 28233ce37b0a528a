package grid

// Grid3D is the 3D analogue of Grid2D, used by the 3D Verlet solver
// and enumerated with 26 neighbors instead of 8.
type Grid3D interface {
	Clear()
	Insert(gx, gy, gz int, id uint32) bool
	Cell(gx, gy, gz int) []uint32
	Contains(gx, gy, gz int, id uint32) bool
	Width() int
	Height() int
	Depth() int
	CellSize() float32
}

type boundedCell3D = boundedCell2D // identical representation

// BoundedGrid3D is the fixed-capacity 3D grid.
type BoundedGrid3D struct {
	width, height, depth int
	cellSize             float32
	cells                []boundedCell3D
}

func NewBoundedGrid3D(width, height, depth int, cellSize float32) *BoundedGrid3D {
	return &BoundedGrid3D{
		width:    width,
		height:   height,
		depth:    depth,
		cellSize: cellSize,
		cells:    make([]boundedCell3D, width*height*depth),
	}
}

func (g *BoundedGrid3D) index(gx, gy, gz int) int {
	return (gz*g.height+gy)*g.width + gx
}

func (g *BoundedGrid3D) inBounds(gx, gy, gz int) bool {
	return gx >= 0 && gx < g.width && gy >= 0 && gy < g.height && gz >= 0 && gz < g.depth
}

func (g *BoundedGrid3D) Clear() {
	for i := range g.cells {
		g.cells[i].clear()
	}
}

func (g *BoundedGrid3D) Insert(gx, gy, gz int, id uint32) bool {
	gx = clampIndex(gx, 0, g.width-1)
	gy = clampIndex(gy, 0, g.height-1)
	gz = clampIndex(gz, 0, g.depth-1)
	if !g.inBounds(gx, gy, gz) {
		return false
	}
	return g.cells[g.index(gx, gy, gz)].insert(id)
}

func (g *BoundedGrid3D) Cell(gx, gy, gz int) []uint32 {
	if !g.inBounds(gx, gy, gz) {
		return nil
	}
	return g.cells[g.index(gx, gy, gz)].items()
}

func (g *BoundedGrid3D) Contains(gx, gy, gz int, id uint32) bool {
	if !g.inBounds(gx, gy, gz) {
		return false
	}
	return g.cells[g.index(gx, gy, gz)].contains(id)
}

func (g *BoundedGrid3D) Width() int        { return g.width }
func (g *BoundedGrid3D) Height() int       { return g.height }
func (g *BoundedGrid3D) Depth() int        { return g.depth }
func (g *BoundedGrid3D) CellSize() float32 { return g.cellSize }

// UnboundedGrid3D is the growable-slice 3D grid.
type UnboundedGrid3D struct {
	width, height, depth int
	cellSize             float32
	cells                [][]uint32
}

func NewUnboundedGrid3D(width, height, depth int, cellSize float32) *UnboundedGrid3D {
	return &UnboundedGrid3D{
		width:    width,
		height:   height,
		depth:    depth,
		cellSize: cellSize,
		cells:    make([][]uint32, width*height*depth),
	}
}

func (g *UnboundedGrid3D) index(gx, gy, gz int) int {
	return (gz*g.height+gy)*g.width + gx
}

func (g *UnboundedGrid3D) inBounds(gx, gy, gz int) bool {
	return gx >= 0 && gx < g.width && gy >= 0 && gy < g.height && gz >= 0 && gz < g.depth
}

func (g *UnboundedGrid3D) Clear() {
	for i := range g.cells {
		g.cells[i] = g.cells[i][:0]
	}
}

func (g *UnboundedGrid3D) Insert(gx, gy, gz int, id uint32) bool {
	gx = clampIndex(gx, 0, g.width-1)
	gy = clampIndex(gy, 0, g.height-1)
	gz = clampIndex(gz, 0, g.depth-1)
	if !g.inBounds(gx, gy, gz) {
		return false
	}
	idx := g.index(gx, gy, gz)
	for _, v := range g.cells[idx] {
		if v == id {
			return true
		}
	}
	g.cells[idx] = append(g.cells[idx], id)
	return true
}

func (g *UnboundedGrid3D) Cell(gx, gy, gz int) []uint32 {
	if !g.inBounds(gx, gy, gz) {
		return nil
	}
	return g.cells[g.index(gx, gy, gz)]
}

func (g *UnboundedGrid3D) Contains(gx, gy, gz int, id uint32) bool {
	if !g.inBounds(gx, gy, gz) {
		return false
	}
	for _, v := range g.cells[g.index(gx, gy, gz)] {
		if v == id {
			return true
		}
	}
	return false
}

func (g *UnboundedGrid3D) Width() int        { return g.width }
func (g *UnboundedGrid3D) Height() int       { return g.height }
func (g *UnboundedGrid3D) Depth() int        { return g.depth }
func (g *UnboundedGrid3D) CellSize() float32 { return g.cellSize }
