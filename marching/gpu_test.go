package marching

import (
	"errors"
	"testing"
	"unsafe"

	"github.com/gekko3d/physcore/errs"
	"github.com/gekko3d/physcore/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGPUVertexLayoutMatchesVertexStride(t *testing.T) {
	assert.EqualValues(t, 32, unsafe.Sizeof(gpuVertex{}), "gpuVertex must match Vertex's Position+Normal stride")
	assert.Zero(t, unsafe.Sizeof(gpuParams{})%4)
}

func TestMarchingCubesWGSLDefinesEntryPoint(t *testing.T) {
	assert.Contains(t, marchingCubesWGSL, "@compute")
	assert.Contains(t, marchingCubesWGSL, "fn main")
	assert.Contains(t, marchingCubesWGSL, "atomicAdd")
	assert.Contains(t, marchingCubesWGSL, "edge_table")
	assert.Contains(t, marchingCubesWGSL, "tri_table")
}

// newTestGPUExtractor builds an extractor against the machine's real
// GPU adapter, skipping when none is available rather than failing.
func newTestGPUExtractor(t *testing.T) *GPUExtractor {
	t.Helper()
	e, err := NewGPUExtractor(logging.OrNop(nil))
	if err != nil {
		if errors.Is(err, errs.ErrGPUUnavailable) {
			t.Skipf("no compute-capable GPU adapter available: %v", err)
		}
		require.NoError(t, err)
	}
	t.Cleanup(e.Release)
	return e
}

func TestGPUExtractorGenerateAndReadback(t *testing.T) {
	e := newTestGPUExtractor(t)

	dims, samples := sphereField(12, 4)
	require.NoError(t, e.SetField(dims, samples))

	e.Generate(0.0)
	verts, err := e.Vertices()
	require.NoError(t, err)

	assert.NotEmpty(t, verts)
	assert.Zero(t, len(verts)%3, "vertices must come in complete triangles")
}

func TestGPUExtractorEmptyFieldProducesNoVertices(t *testing.T) {
	e := newTestGPUExtractor(t)

	dims := [3]int{4, 4, 4}
	samples := make([]float32, 64)
	for i := range samples {
		samples[i] = 1
	}
	require.NoError(t, e.SetField(dims, samples))

	e.Generate(0.0)
	verts, err := e.Vertices()
	require.NoError(t, err)
	assert.Empty(t, verts)
}
