package sph

import (
	"errors"
	"testing"

	"github.com/gekko3d/physcore/errs"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSolver2DRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig2D()
	cfg.SmoothingRadius = 0
	_, err := NewSolver2D(cfg, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrInvalidConfig))
}

func TestAddParticleRejectsDuplicateIdentity(t *testing.T) {
	cfg := DefaultConfig2D()
	s, err := NewSolver2D(cfg, nil, nil)
	require.NoError(t, err)

	p := NewParticle2D(mgl32.Vec2{0, 0})
	require.NoError(t, s.AddParticle(p))
	err = s.AddParticle(p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrDuplicateIdentity))
}

func damBreakBlock() []Particle2D {
	particles := make([]Particle2D, 0, 1024)
	spacing := float32(0.3)
	for row := 0; row < 64; row++ {
		for col := 0; col < 16; col++ {
			x := -2.4 + float32(col)*spacing
			y := float32(row) * spacing
			particles = append(particles, NewParticle2D(mgl32.Vec2{x, y}))
		}
	}
	return particles
}

// TestDamBreakMassConservation mirrors the dam-break scenario (spec
// §9): particle count must be preserved across steps.
func TestDamBreakMassConservation(t *testing.T) {
	cfg := DefaultConfig2D()
	s, err := NewSolver2D(cfg, nil, nil)
	require.NoError(t, err)

	for _, p := range damBreakBlock() {
		require.NoError(t, s.AddParticle(p))
	}

	before := len(s.Particles())
	for i := 0; i < 120; i++ {
		s.Step(1.0 / 60.0)
	}
	assert.Equal(t, before, len(s.Particles()))
}

func TestDamBreakSettlesDownwardWithinVelocityCap(t *testing.T) {
	cfg := DefaultConfig2D()
	s, err := NewSolver2D(cfg, nil, nil)
	require.NoError(t, err)

	for _, p := range damBreakBlock() {
		require.NoError(t, s.AddParticle(p))
	}

	for i := 0; i < 120; i++ {
		s.Step(1.0 / 60.0)
	}

	var meanY float32
	var maxSpeed float32
	for _, p := range s.Particles() {
		meanY += p.Position.Y()
		if speed := p.Velocity.Len(); speed > maxSpeed {
			maxSpeed = speed
		}
	}
	meanY /= float32(len(s.Particles()))

	assert.Less(t, meanY, float32(9.45)) // settled below the initial block's mean height of 9.45
	assert.Less(t, maxSpeed, float32(60))
}

func TestDensityPassProducesPositiveDensityNearNeighbors(t *testing.T) {
	cfg := DefaultConfig2D()
	s, err := NewSolver2D(cfg, nil, nil)
	require.NoError(t, err)

	require.NoError(t, s.AddParticle(NewParticle2D(mgl32.Vec2{0, 0})))
	require.NoError(t, s.AddParticle(NewParticle2D(mgl32.Vec2{0.1, 0})))
	require.NoError(t, s.AddParticle(NewParticle2D(mgl32.Vec2{-0.1, 0})))

	s.hash = newSpatialHash(len(s.particles))
	s.updateSpatialHash()
	s.computeDensities()

	for _, p := range s.Particles() {
		assert.Greater(t, p.Density, float32(0))
	}
}

func TestClearAllowsReAddingSameIdentity(t *testing.T) {
	cfg := DefaultConfig2D()
	s, err := NewSolver2D(cfg, nil, nil)
	require.NoError(t, err)

	p := NewParticle2D(mgl32.Vec2{0, 0})
	require.NoError(t, s.AddParticle(p))
	s.Clear()
	assert.Empty(t, s.Particles())
	require.NoError(t, s.AddParticle(p))
}
