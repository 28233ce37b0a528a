package verlet

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// Particle2D is a single Verlet body (spec §3): position and the
// previous position stand in for velocity, which is never stored
// explicitly (spec §4.C "Verlet implicit velocity").
type Particle2D struct {
	ID           uuid.UUID
	Position     mgl32.Vec2
	PrevPosition mgl32.Vec2
	Acceleration mgl32.Vec2
	Color        mgl32.Vec3
	Radius       float32
}

// NewParticle2D places a particle at rest at pos.
func NewParticle2D(pos mgl32.Vec2, radius float32) Particle2D {
	return Particle2D{
		ID:           uuid.New(),
		Position:     pos,
		PrevPosition: pos,
		Radius:       radius,
		Color:        mgl32.Vec3{1, 1, 1},
	}
}

// Velocity reconstructs the implicit Verlet velocity for a given
// substep length. It is a derived quantity, never part of the solver's
// integration state.
func (p Particle2D) Velocity(subDt float32) mgl32.Vec2 {
	if subDt == 0 {
		return mgl32.Vec2{}
	}
	return p.Position.Sub(p.PrevPosition).Mul(1 / subDt)
}

// Particle3D is the 3D analogue of Particle2D.
type Particle3D struct {
	ID           uuid.UUID
	Position     mgl32.Vec3
	PrevPosition mgl32.Vec3
	Acceleration mgl32.Vec3
	Color        mgl32.Vec3
	Radius       float32
}

func NewParticle3D(pos mgl32.Vec3, radius float32) Particle3D {
	return Particle3D{
		ID:           uuid.New(),
		Position:     pos,
		PrevPosition: pos,
		Radius:       radius,
		Color:        mgl32.Vec3{1, 1, 1},
	}
}

func (p Particle3D) Velocity(subDt float32) mgl32.Vec3 {
	if subDt == 0 {
		return mgl32.Vec3{}
	}
	return p.Position.Sub(p.PrevPosition).Mul(1 / subDt)
}
