package sph

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSolver3DMassConservation(t *testing.T) {
	cfg := DefaultConfig3D()
	s, err := NewSolver3D(cfg, nil, nil)
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		x := float32(i%10) * 0.3
		y := float32((i/10)%10) * 0.3
		z := float32(i/100) * 0.3
		require.NoError(t, s.AddParticle(NewParticle3D(mgl32.Vec3{x, y, z})))
	}

	before := len(s.Particles())
	for i := 0; i < 30; i++ {
		s.Step(1.0 / 60.0)
	}
	assert.Equal(t, before, len(s.Particles()))
}
