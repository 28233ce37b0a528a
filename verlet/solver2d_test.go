package verlet

import (
	"errors"
	"testing"

	"github.com/gekko3d/physcore/errs"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSolver(t *testing.T) *Solver2D {
	t.Helper()
	cfg := DefaultConfig2D()
	s, err := NewSolver2D(cfg, nil, nil)
	require.NoError(t, err)
	return s
}

func TestAddParticleRejectsDuplicateIdentity(t *testing.T) {
	s := newTestSolver(t)
	p := NewParticle2D(mgl32.Vec2{0, 0}, 0.1)

	require.NoError(t, s.AddParticle(p))
	err := s.AddParticle(p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrDuplicateIdentity))
	assert.Len(t, s.Particles(), 1)
}

func TestSingleDroppedParticleSettlesAtFloor(t *testing.T) {
	s := newTestSolver(t)
	p := NewParticle2D(mgl32.Vec2{0, 5}, 0.1)
	require.NoError(t, s.AddParticle(p))

	for i := 0; i < 600; i++ {
		s.Step(1.0 / 60.0)
	}

	final := s.Particles()[0]
	floor := s.cfg.BoundsMin.Y() + final.Radius
	assert.InDelta(t, floor, final.Position.Y(), 1e-3)
}

func TestParticlesStayWithinBounds(t *testing.T) {
	s := newTestSolver(t)
	for i := 0; i < 50; i++ {
		x := float32(i%10) * 0.3
		y := float32(i/10) * 0.3
		require.NoError(t, s.AddParticle(NewParticle2D(mgl32.Vec2{x, y}, 0.1)))
	}

	for i := 0; i < 300; i++ {
		s.Step(1.0 / 60.0)
	}

	min, max := s.cfg.BoundsMin, s.cfg.BoundsMax
	for _, p := range s.Particles() {
		assert.GreaterOrEqual(t, p.Position.X()+1e-4, min.X()+p.Radius)
		assert.LessOrEqual(t, p.Position.X()-1e-4, max.X()-p.Radius)
		assert.GreaterOrEqual(t, p.Position.Y()+1e-4, min.Y()+p.Radius)
		assert.LessOrEqual(t, p.Position.Y()-1e-4, max.Y()-p.Radius)
	}
}

func TestTwoParticlePairDoesNotInterpenetrate(t *testing.T) {
	s := newTestSolver(t)
	require.NoError(t, s.AddParticle(NewParticle2D(mgl32.Vec2{-0.05, 0}, 0.1)))
	require.NoError(t, s.AddParticle(NewParticle2D(mgl32.Vec2{0.05, 0}, 0.1)))

	for i := 0; i < 120; i++ {
		s.Step(1.0 / 60.0)
	}

	particles := s.Particles()
	dist := particles[0].Position.Sub(particles[1].Position).Len()
	minDist := particles[0].Radius + particles[1].Radius
	// 5% interpenetration slack (spec §8 "no-overlap with slack").
	assert.GreaterOrEqual(t, dist, minDist*0.95)
}

func TestColumnCollapseKeepsEveryParticleInWorld(t *testing.T) {
	s := newTestSolver(t)
	for i := 0; i < 20; i++ {
		require.NoError(t, s.AddParticle(NewParticle2D(mgl32.Vec2{0, float32(i) * 0.22}, 0.1)))
	}

	for i := 0; i < 500; i++ {
		s.Step(1.0 / 60.0)
	}

	assert.Len(t, s.Particles(), 20)
	min, max := s.cfg.BoundsMin, s.cfg.BoundsMax
	for _, p := range s.Particles() {
		assert.False(t, math32IsNaN(p.Position.X()))
		assert.GreaterOrEqual(t, p.Position.X()+1e-3, min.X())
		assert.LessOrEqual(t, p.Position.X()-1e-3, max.X())
		assert.GreaterOrEqual(t, p.Position.Y()+1e-3, min.Y())
		assert.LessOrEqual(t, p.Position.Y()-1e-3, max.Y())
	}
}

func TestClearResetsSolverState(t *testing.T) {
	s := newTestSolver(t)
	p := NewParticle2D(mgl32.Vec2{0, 0}, 0.1)
	require.NoError(t, s.AddParticle(p))
	s.Clear()
	assert.Empty(t, s.Particles())

	// Re-adding the same identity after Clear must succeed.
	require.NoError(t, s.AddParticle(p))
	require.Error(t, s.AddParticle(p))
}

func TestNewSolver2DRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig2D()
	cfg.CellSize = 0
	_, err := NewSolver2D(cfg, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrInvalidConfig))
}

func math32IsNaN(f float32) bool {
	return f != f
}
