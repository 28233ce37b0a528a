package marching

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/gekko3d/physcore/errs"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sphereField(dim int, radius float32) ([3]int, []float32) {
	dims := [3]int{dim, dim, dim}
	samples := make([]float32, dim*dim*dim)
	center := float32(dim-1) / 2
	for z := 0; z < dim; z++ {
		for y := 0; y < dim; y++ {
			for x := 0; x < dim; x++ {
				dx := float32(x) - center
				dy := float32(y) - center
				dz := float32(z) - center
				dist := float32(math.Sqrt(float64(dx*dx + dy*dy + dz*dz)))
				samples[x+dims[0]*(y+dims[1]*z)] = dist - radius
			}
		}
	}
	return dims, samples
}

func TestSetFieldRejectsDimensionMismatch(t *testing.T) {
	e := NewExtractor()
	err := e.SetField([3]int{4, 4, 4}, make([]float32, 10))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrFieldDimensionMismatch))
}

func TestSetFieldRejectsDegenerateDims(t *testing.T) {
	e := NewExtractor()
	err := e.SetField([3]int{1, 4, 4}, make([]float32, 16))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrInvalidConfig))
}

func TestMarchingEmptyFieldProducesNoVertices(t *testing.T) {
	dims := [3]int{4, 4, 4}
	samples := make([]float32, 64)
	for i := range samples {
		samples[i] = 1 // uniformly above any reasonable iso, no crossings
	}
	e := NewExtractor()
	require.NoError(t, e.SetField(dims, samples))

	verts := e.Generate(0.0)
	assert.Empty(t, verts)
}

func TestMarchingSphereProducesVertices(t *testing.T) {
	dims, samples := sphereField(12, 4)
	e := NewExtractor()
	require.NoError(t, e.SetField(dims, samples))

	verts := e.Generate(0.0)
	assert.NotEmpty(t, verts)
	assert.Zero(t, len(verts)%3, "vertices must come in complete triangles")
}

func TestGenerateIsDeterministic(t *testing.T) {
	dims, samples := sphereField(10, 3)
	e := NewExtractor()
	require.NoError(t, e.SetField(dims, samples))

	a := e.Generate(0.0)
	b := e.Generate(0.0)
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].Position, b[i].Position)
	}
}

func TestProgressiveGenerationMatchesBulkGenerate(t *testing.T) {
	dims, samples := sphereField(8, 2.5)
	e := NewExtractor()
	require.NoError(t, e.SetField(dims, samples))

	bulk := e.Generate(0.0)

	var progressive []Vertex
	for z := 0; z <= dims[2]-2; z++ {
		for y := 0; y <= dims[1]-2; y++ {
			for x := 0; x <= dims[0]-2; x++ {
				progressive = append(progressive, e.TriangulateCell(x, y, z, 0.0)...)
			}
		}
	}

	require.Equal(t, len(bulk), len(progressive))
	for i := range bulk {
		assert.Equal(t, bulk[i].Position, progressive[i].Position)
	}
}

func TestTriangulateRegionSubsetMatchesCellByCell(t *testing.T) {
	dims, samples := sphereField(8, 2.5)
	e := NewExtractor()
	require.NoError(t, e.SetField(dims, samples))

	region := e.TriangulateRegion([3]int{1, 1, 1}, [3]int{3, 3, 3}, 0.0)

	var direct []Vertex
	for z := 1; z <= 3; z++ {
		for y := 1; y <= 3; y++ {
			for x := 1; x <= 3; x++ {
				direct = append(direct, e.TriangulateCell(x, y, z, 0.0)...)
			}
		}
	}

	require.Equal(t, len(direct), len(region))
}

// edgeKey identifies an undirected edge by its two endpoint positions,
// rounded so that floating point noise from independent triangle
// visits of the same grid edge still collides to one key.
func edgeKey(a, b mgl32.Vec3) string {
	round := func(v mgl32.Vec3) string {
		return fmt.Sprintf("%.4f,%.4f,%.4f", v[0], v[1], v[2])
	}
	ka, kb := round(a), round(b)
	if ka > kb {
		ka, kb = kb, ka
	}
	return ka + "|" + kb
}

func TestMarchingSphereMeshInvariants(t *testing.T) {
	const dim = 65
	const radius = 20.0
	dims, samples := sphereField(dim, radius)
	e := NewExtractor()
	require.NoError(t, e.SetField(dims, samples))

	verts := e.Generate(0.0)
	require.Zero(t, len(verts)%3, "vertices must come in complete triangles")

	triangles := len(verts) / 3
	assert.GreaterOrEqual(t, triangles, 3000)
	assert.LessOrEqual(t, triangles, 4500)

	edgeCount := make(map[string]int)
	var centroid mgl32.Vec3
	center := mgl32.Vec3{32, 32, 32}
	for i := 0; i < len(verts); i += 3 {
		a, b, c := verts[i].Position, verts[i+1].Position, verts[i+2].Position
		edgeCount[edgeKey(a, b)]++
		edgeCount[edgeKey(b, c)]++
		edgeCount[edgeKey(c, a)]++
	}
	for _, v := range verts {
		centroid = centroid.Add(v.Position)
		dist := v.Position.Sub(center).Len()
		assert.InDelta(t, radius, dist, 0.5, "vertex must lie near the sphere shell")
	}
	centroid = centroid.Mul(1.0 / float32(len(verts)))
	assert.InDelta(t, 0.0, centroid.Sub(center).Len(), 0.5, "mesh centroid must sit near the sphere center")

	for key, count := range edgeCount {
		assert.Equal(t, 2, count, "edge %s must be shared by exactly two triangles on a closed mesh", key)
	}
}
