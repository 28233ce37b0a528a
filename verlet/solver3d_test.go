package verlet

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSolver3D(t *testing.T) *Solver3D {
	t.Helper()
	cfg := DefaultConfig3D()
	s, err := NewSolver3D(cfg, nil, nil)
	require.NoError(t, err)
	return s
}

func TestSolver3DSingleParticleSettlesAtFloor(t *testing.T) {
	s := newTestSolver3D(t)
	require.NoError(t, s.AddParticle(NewParticle3D(mgl32.Vec3{0, 5, 0}, 0.1)))

	for i := 0; i < 600; i++ {
		s.Step(1.0 / 60.0)
	}

	final := s.Particles()[0]
	floor := s.cfg.BoundsMin.Y() + final.Radius
	assert.InDelta(t, floor, final.Position.Y(), 1e-3)
}

func TestSolver3DParticlesStayWithinBounds(t *testing.T) {
	s := newTestSolver3D(t)
	for i := 0; i < 40; i++ {
		x := float32(i%4) * 0.3
		y := float32((i/4)%4) * 0.3
		z := float32(i/16) * 0.3
		require.NoError(t, s.AddParticle(NewParticle3D(mgl32.Vec3{x, y, z}, 0.1)))
	}

	for i := 0; i < 200; i++ {
		s.Step(1.0 / 60.0)
	}

	min, max := s.cfg.BoundsMin, s.cfg.BoundsMax
	for _, p := range s.Particles() {
		for axis := 0; axis < 3; axis++ {
			assert.GreaterOrEqual(t, p.Position[axis]+1e-4, min[axis]+p.Radius)
			assert.LessOrEqual(t, p.Position[axis]-1e-4, max[axis]-p.Radius)
		}
	}
}

func TestSolver3DPairDoesNotInterpenetrate(t *testing.T) {
	s := newTestSolver3D(t)
	require.NoError(t, s.AddParticle(NewParticle3D(mgl32.Vec3{-0.05, 0, 0}, 0.1)))
	require.NoError(t, s.AddParticle(NewParticle3D(mgl32.Vec3{0.05, 0, 0}, 0.1)))

	for i := 0; i < 120; i++ {
		s.Step(1.0 / 60.0)
	}

	particles := s.Particles()
	dist := particles[0].Position.Sub(particles[1].Position).Len()
	minDist := particles[0].Radius + particles[1].Radius
	assert.GreaterOrEqual(t, dist, minDist*0.95)
}
