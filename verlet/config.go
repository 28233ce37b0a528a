package verlet

import (
	"github.com/gekko3d/physcore/errs"
	"github.com/go-gl/mathgl/mgl32"
)

// Config2D is the construction-time configuration for Solver2D,
// validated once in NewSolver2D (spec §4.C/§7: bad configuration is a
// programming error detected at construction when possible).
type Config2D struct {
	BoundsMin, BoundsMax mgl32.Vec2
	Gravity              mgl32.Vec2
	Restitution          float32 // wall bounce damping, spec default ~0.8
	ResponseFactor       float32 // collision overlap correction factor, spec default 1
	Iterations           int     // substeps per Step call, spec default 8
	CellSize             float32 // must be >= 2 * MaxParticleRadius
	MaxParticleRadius    float32
	UseBoundedGrid       bool // false selects the unbounded (slice-per-cell) grid
}

// DefaultConfig2D mirrors original_source/Collision System/constants.h's
// world (20x15 units, gravity 9.81, cell size = 2*max radius 0.12).
func DefaultConfig2D() Config2D {
	return Config2D{
		BoundsMin:         mgl32.Vec2{-10, -7.5},
		BoundsMax:         mgl32.Vec2{10, 7.5},
		Gravity:           mgl32.Vec2{0, -9.81},
		Restitution:       0.8,
		ResponseFactor:    1.0,
		Iterations:        8,
		CellSize:          0.24,
		MaxParticleRadius: 0.12,
		UseBoundedGrid:    true,
	}
}

func (c Config2D) validate() error {
	if c.BoundsMax.X() <= c.BoundsMin.X() || c.BoundsMax.Y() <= c.BoundsMin.Y() {
		return errs.ErrInvalidConfig
	}
	if c.CellSize <= 0 {
		return errs.ErrInvalidConfig
	}
	if c.MaxParticleRadius > 0 && c.CellSize < 2*c.MaxParticleRadius {
		return errs.ErrInvalidConfig
	}
	if c.Iterations <= 0 {
		return errs.ErrInvalidConfig
	}
	return nil
}

// Config3D is the 3D analogue of Config2D.
type Config3D struct {
	BoundsMin, BoundsMax mgl32.Vec3
	Gravity              mgl32.Vec3
	Restitution          float32
	ResponseFactor       float32
	Iterations           int
	CellSize             float32
	MaxParticleRadius    float32
	UseBoundedGrid       bool
}

func DefaultConfig3D() Config3D {
	return Config3D{
		BoundsMin:         mgl32.Vec3{-10, -7.5, -10},
		BoundsMax:         mgl32.Vec3{10, 7.5, 10},
		Gravity:           mgl32.Vec3{0, -9.81, 0},
		Restitution:       0.8,
		ResponseFactor:    1.0,
		Iterations:        8,
		CellSize:          0.24,
		MaxParticleRadius: 0.12,
		UseBoundedGrid:    true,
	}
}

func (c Config3D) validate() error {
	if c.BoundsMax.X() <= c.BoundsMin.X() || c.BoundsMax.Y() <= c.BoundsMin.Y() || c.BoundsMax.Z() <= c.BoundsMin.Z() {
		return errs.ErrInvalidConfig
	}
	if c.CellSize <= 0 {
		return errs.ErrInvalidConfig
	}
	if c.MaxParticleRadius > 0 && c.CellSize < 2*c.MaxParticleRadius {
		return errs.ErrInvalidConfig
	}
	if c.Iterations <= 0 {
		return errs.ErrInvalidConfig
	}
	return nil
}

// collisionEpsilon is the minimum squared distance below which a pair
// is left untouched because no separation normal is defined (spec
// §4.C numerical edge cases).
const collisionEpsilon = 1e-9
