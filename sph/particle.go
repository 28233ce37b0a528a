package sph

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// Particle2D is the SPH particle record (spec §3): in addition to the
// base position it carries an explicit velocity, a predicted position
// used by the density/pressure passes, and the density/pressure state
// those passes compute.
type Particle2D struct {
	ID                uuid.UUID
	Position          mgl32.Vec2
	PredictedPosition mgl32.Vec2
	Velocity          mgl32.Vec2
	Radius            float32
	Density           float32
	NearDensity       float32
	Pressure          float32
	NearPressure      float32
}

func NewParticle2D(pos mgl32.Vec2) Particle2D {
	return Particle2D{ID: uuid.New(), Position: pos, PredictedPosition: pos, Radius: defaultParticleRadius}
}

// Particle3D is the 3D analogue of Particle2D.
type Particle3D struct {
	ID                uuid.UUID
	Position          mgl32.Vec3
	PredictedPosition mgl32.Vec3
	Velocity          mgl32.Vec3
	Radius            float32
	Density           float32
	NearDensity       float32
	Pressure          float32
	NearPressure      float32
}

func NewParticle3D(pos mgl32.Vec3) Particle3D {
	return Particle3D{ID: uuid.New(), Position: pos, PredictedPosition: pos, Radius: defaultParticleRadius}
}

// defaultParticleRadius matches the dam-break scenario's rendered
// particle size (spec §9); pass 6 inflates the reflecting bounds
// inward by each particle's own Radius rather than this constant.
const defaultParticleRadius = 0.1
