// Package marching implements the isosurface extractor (spec §4.E): a
// CPU cell-by-cell triangulator over the standard marching-cubes
// lookup tables, plus (in gpu.go) a data-parallel wgpu compute
// variant. Grounded on original_source/Marching Cubes/CubeMarching.h
// (calculateCubeIndex, interpolateVertices, getTriangles,
// processSingleCube/processUpToCell).
package marching

import (
	"github.com/gekko3d/physcore/errs"
	"github.com/go-gl/mathgl/mgl32"
)

// Extractor holds a bound scalar field and triangulates it on demand.
type Extractor struct {
	dims    [3]int
	samples []float32
}

// NewExtractor returns an Extractor with no field bound yet; call
// SetField before Generate/TriangulateCell/TriangulateRegion.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// SetField binds a dims[0]*dims[1]*dims[2]-sized scalar array, indexed
// (x + dims.x*(y + dims.y*z)).
func (e *Extractor) SetField(dims [3]int, samples []float32) error {
	if dims[0] < 2 || dims[1] < 2 || dims[2] < 2 {
		return errs.ErrInvalidConfig
	}
	if len(samples) != dims[0]*dims[1]*dims[2] {
		return errs.ErrFieldDimensionMismatch
	}
	e.dims = dims
	e.samples = samples
	return nil
}

func (e *Extractor) sample(x, y, z int) float32 {
	x = clamp(x, 0, e.dims[0]-1)
	y = clamp(y, 0, e.dims[1]-1)
	z = clamp(z, 0, e.dims[2]-1)
	return e.samples[x+e.dims[0]*(y+e.dims[1]*z)]
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Generate triangulates the entire bound field at threshold iso (spec
// §4.E "bulk" path). It is equivalent to TriangulateRegion over the
// whole grid.
func (e *Extractor) Generate(iso float32) []Vertex {
	return e.TriangulateRegion([3]int{0, 0, 0}, [3]int{e.dims[0] - 2, e.dims[1] - 2, e.dims[2] - 2}, iso)
}

// TriangulateRegion progressively triangulates every cell whose
// minimum corner lies in [min, max] inclusive (spec §4.E "progressive
// generation"). Calling it cell-by-cell (TriangulateCell) and
// concatenating results produces byte-for-byte the same vertex stream
// as calling it once over the same range — both walk cells in the
// same x-fastest, y-next, z-slowest order.
func (e *Extractor) TriangulateRegion(min, max [3]int, iso float32) []Vertex {
	var out []Vertex
	for z := min[2]; z <= max[2]; z++ {
		for y := min[1]; y <= max[1]; y++ {
			for x := min[0]; x <= max[0]; x++ {
				out = append(out, e.TriangulateCell(x, y, z, iso)...)
			}
		}
	}
	return out
}

// TriangulateCell appends the triangles contributed by the single
// cell whose minimum corner is (x, y, z).
func (e *Extractor) TriangulateCell(x, y, z int, iso float32) []Vertex {
	var corners [8]float32
	for i, off := range cornerOffset {
		corners[i] = e.sample(x+off[0], y+off[1], z+off[2])
	}

	cubeIndex := 0
	for i, v := range corners {
		if v < iso {
			cubeIndex |= 1 << uint(i)
		}
	}

	edgeMask := edgeTable[cubeIndex]
	if edgeMask == 0 {
		return nil
	}

	var edgeVertexPos [12]mgl32.Vec3
	var edgeVertexNormal [12]mgl32.Vec3
	var computed [12]bool

	for e12 := 0; e12 < 12; e12++ {
		if edgeMask&(1<<uint(e12)) == 0 {
			continue
		}
		a, b := edgeCorners[e12][0], edgeCorners[e12][1]
		pa := cornerOffset[a]
		pb := cornerOffset[b]
		va, vb := corners[a], corners[b]

		t := float32(0.5)
		if denom := vb - va; denom != 0 {
			t = (iso - va) / denom
		}

		pos := mgl32.Vec3{
			float32(x+pa[0]) + t*float32(pb[0]-pa[0]),
			float32(y+pa[1]) + t*float32(pb[1]-pa[1]),
			float32(z+pa[2]) + t*float32(pb[2]-pa[2]),
		}

		gradA := e.gradient(x+pa[0], y+pa[1], z+pa[2])
		gradB := e.gradient(x+pb[0], y+pb[1], z+pb[2])
		// The field gradient points toward increasing scalar value, i.e.
		// into the solid; negate it so the emitted normal points out of
		// the isosurface.
		normal := gradA.Mul(1 - t).Add(gradB.Mul(t)).Mul(-1)
		if l := normal.Len(); l > 1e-8 {
			normal = normal.Mul(1 / l)
		}

		edgeVertexPos[e12] = pos
		edgeVertexNormal[e12] = normal
		computed[e12] = true
	}

	tris := triangleTable[cubeIndex]
	var out []Vertex
	for i := 0; i < 16 && tris[i] != -1; i += 3 {
		for k := 0; k < 3; k++ {
			edge := tris[i+k]
			out = append(out, Vertex{
				Position: edgeVertexPos[edge],
				Normal:   edgeVertexNormal[edge],
			})
		}
	}
	return out
}

// gradient estimates the scalar field's gradient at an integer grid
// point via central differences, falling back to a one-sided
// (forward/backward) difference at the field's boundary (spec §4.E
// "gradient-based normals ... with corner-blend fallback").
func (e *Extractor) gradient(x, y, z int) mgl32.Vec3 {
	return mgl32.Vec3{
		e.axisDerivative(x, y, z, 0),
		e.axisDerivative(x, y, z, 1),
		e.axisDerivative(x, y, z, 2),
	}
}

func (e *Extractor) axisDerivative(x, y, z, axis int) float32 {
	lo, hi := -1, 1
	coord := [3]int{x, y, z}
	atBoundary := func(delta int) float32 {
		c := coord
		c[axis] += delta
		return e.sample(c[0], c[1], c[2])
	}

	if coord[axis] > 0 && coord[axis] < e.dims[axis]-1 {
		return (atBoundary(hi) - atBoundary(lo)) / 2
	}
	if coord[axis] == 0 {
		return atBoundary(1) - e.sample(x, y, z)
	}
	return e.sample(x, y, z) - atBoundary(-1)
}
