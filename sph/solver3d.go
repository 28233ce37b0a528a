package sph

import (
	"runtime"
	"time"

	"github.com/gekko3d/physcore/errs"
	"github.com/gekko3d/physcore/logging"
	"github.com/gekko3d/physcore/pool"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// neighborOffsets3D27 is the 3x3x3 neighbor cell block (spec §4.D
// "27 in 3D").
var neighborOffsets3D27 = func() [27][3]int {
	var offsets [27][3]int
	n := 0
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				offsets[n] = [3]int{dx, dy, dz}
				n++
			}
		}
	}
	return offsets
}()

// Solver3D is the 3D SPH CPU backend, mirroring Solver2D pass for
// pass.
type Solver3D struct {
	cfg     Config3D
	pool    *pool.Pool
	factors kernelFactors3D

	particles []Particle3D
	index     map[uuid.UUID]int
	hash      *spatialHash

	log             logging.Logger
	lastPhysicsTime time.Duration
}

func NewSolver3D(cfg Config3D, p *pool.Pool, log logging.Logger) (*Solver3D, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log = logging.OrNop(log)

	if p == nil {
		var err error
		p, err = pool.New(runtime.NumCPU(), log.With("pool"))
		if err != nil {
			return nil, err
		}
	}

	return &Solver3D{
		cfg:     cfg,
		pool:    p,
		factors: newKernelFactors3D(cfg.SmoothingRadius),
		index:   make(map[uuid.UUID]int),
		log:     log,
	}, nil
}

func (s *Solver3D) SetSmoothingRadius(h float32) error {
	if h <= 0 {
		return errs.ErrInvalidConfig
	}
	s.cfg.SmoothingRadius = h
	s.factors = newKernelFactors3D(h)
	return nil
}

func (s *Solver3D) AddParticle(p Particle3D) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if _, exists := s.index[p.ID]; exists {
		return errs.ErrDuplicateIdentity
	}
	s.index[p.ID] = len(s.particles)
	s.particles = append(s.particles, p)
	return nil
}

func (s *Solver3D) Clear() {
	s.particles = s.particles[:0]
	s.index = make(map[uuid.UUID]int)
	s.hash = nil
}

func (s *Solver3D) Particles() []Particle3D        { return s.particles }
func (s *Solver3D) LastPhysicsTime() time.Duration { return s.lastPhysicsTime }

func (s *Solver3D) chunkSize() int {
	n := len(s.particles)
	threads := s.pool.ThreadCount()
	if threads < 1 {
		threads = 1
	}
	c := (n + threads - 1) / threads
	if c < 1 {
		c = 1
	}
	return c
}

func (s *Solver3D) Step(dt float32) {
	start := time.Now()
	n := len(s.particles)
	if n == 0 {
		s.lastPhysicsTime = time.Since(start)
		return
	}
	if s.hash == nil || nextPowerOfTwo(n) != len(s.hash.entries) {
		s.hash = newSpatialHash(n)
	}

	subDt := dt * s.cfg.timeScaleOrOne() / float32(s.cfg.Iterations)
	maxSpeed := 0.8 * s.cfg.SmoothingRadius / subDt

	for it := 0; it < s.cfg.Iterations; it++ {
		s.externalForces(subDt)
		s.updateSpatialHash()
		s.computeDensities()
		s.computePressureForces(subDt)
		s.applyViscosity(subDt)
		s.integrate(subDt, maxSpeed)
	}
	s.lastPhysicsTime = time.Since(start)
}

func (s *Solver3D) externalForces(subDt float32) {
	cfg := s.cfg
	s.pool.ParallelFor(len(s.particles), s.chunkSize(), func(start, end int) {
		for i := start; i < end; i++ {
			p := &s.particles[i]
			p.Velocity = p.Velocity.Add(cfg.Gravity.Mul(subDt))
			p.PredictedPosition = p.Position.Add(p.Velocity.Mul(1.0 / 120.0))
		}
	})
}

func (s *Solver3D) updateSpatialHash() {
	min := [3]float32{s.cfg.BoundsMin.X(), s.cfg.BoundsMin.Y(), s.cfg.BoundsMin.Z()}
	h := s.cfg.SmoothingRadius
	tableSize := s.hash.tableSize
	s.hash.build(s.pool, len(s.particles), func(i int) uint32 {
		pp := s.particles[i].PredictedPosition
		gx, gy, gz := cellCoord3D([3]float32{pp.X(), pp.Y(), pp.Z()}, min, h)
		return cellKey3D(gx, gy, gz, tableSize)
	})
}

func (s *Solver3D) neighborIndices(pos mgl32.Vec3, visit func(j uint32)) {
	min := [3]float32{s.cfg.BoundsMin.X(), s.cfg.BoundsMin.Y(), s.cfg.BoundsMin.Z()}
	h := s.cfg.SmoothingRadius
	gx, gy, gz := cellCoord3D([3]float32{pos.X(), pos.Y(), pos.Z()}, min, h)
	tableSize := s.hash.tableSize
	for _, off := range neighborOffsets3D27 {
		key := cellKey3D(gx+off[0], gy+off[1], gz+off[2], tableSize)
		s.hash.forEachInCell(key, visit)
	}
}

func (s *Solver3D) computeDensities() {
	h := s.cfg.SmoothingRadius
	factors := s.factors
	s.pool.ParallelFor(len(s.particles), s.chunkSize(), func(start, end int) {
		for i := start; i < end; i++ {
			pi := &s.particles[i]
			var density, nearDensity float32
			s.neighborIndices(pi.PredictedPosition, func(j uint32) {
				r := pi.PredictedPosition.Sub(s.particles[j].PredictedPosition).Len()
				if r >= h {
					return
				}
				density += factors.densityKernel(h, r)
				nearDensity += factors.nearDensityKernel(h, r)
			})
			pi.Density = density
			pi.NearDensity = nearDensity
			pi.Pressure = s.cfg.PressureMultiplier * (density - s.cfg.TargetDensity)
			pi.NearPressure = s.cfg.NearPressureMultiplier * nearDensity
		}
	})
}

func (s *Solver3D) computePressureForces(subDt float32) {
	h := s.cfg.SmoothingRadius
	factors := s.factors
	s.pool.ParallelFor(len(s.particles), s.chunkSize(), func(start, end int) {
		for i := start; i < end; i++ {
			pi := &s.particles[i]
			if pi.Density <= 0 {
				continue
			}
			var force mgl32.Vec3
			s.neighborIndices(pi.PredictedPosition, func(j uint32) {
				if int(j) == i {
					return
				}
				pj := &s.particles[j]
				delta := pj.PredictedPosition.Sub(pi.PredictedPosition)
				r := delta.Len()
				if r >= h || r <= 1e-7 {
					return
				}
				dir := delta.Mul(1 / r)

				sharedPressure := 0.5 * (pi.Pressure + pj.Pressure)
				sharedNearPressure := 0.5 * (pi.NearPressure + pj.NearPressure)

				if pj.Density > 1e-7 {
					grad := factors.densityKernelDerivative(h, r)
					force = force.Add(dir.Mul(sharedPressure * grad / pj.Density))
				}
				if pj.NearDensity > 1e-7 {
					gradNear := factors.nearDensityKernelDerivative(h, r)
					force = force.Add(dir.Mul(sharedNearPressure * gradNear / pj.NearDensity))
				}
			})
			pi.Velocity = pi.Velocity.Add(force.Mul(subDt / pi.Density))
		}
	})
}

func (s *Solver3D) applyViscosity(subDt float32) {
	h := s.cfg.SmoothingRadius
	mu := s.cfg.ViscosityStrength
	factors := s.factors
	velocities := make([]mgl32.Vec3, len(s.particles))
	s.pool.ParallelFor(len(s.particles), s.chunkSize(), func(start, end int) {
		for i := start; i < end; i++ {
			pi := &s.particles[i]
			var delta mgl32.Vec3
			s.neighborIndices(pi.PredictedPosition, func(j uint32) {
				if int(j) == i {
					return
				}
				pj := &s.particles[j]
				r := pi.PredictedPosition.Sub(pj.PredictedPosition).Len()
				if r >= h {
					return
				}
				w := factors.viscosityKernel(h, r)
				delta = delta.Add(pj.Velocity.Sub(pi.Velocity).Mul(w))
			})
			velocities[i] = pi.Velocity.Add(delta.Mul(mu * subDt))
		}
	})
	for i := range s.particles {
		s.particles[i].Velocity = velocities[i]
	}
}

func (s *Solver3D) integrate(subDt, maxSpeed float32) {
	min, max := s.cfg.BoundsMin, s.cfg.BoundsMax
	damping := s.cfg.CollisionDamping
	s.pool.ParallelFor(len(s.particles), s.chunkSize(), func(start, end int) {
		for i := start; i < end; i++ {
			p := &s.particles[i]

			if speed := p.Velocity.Len(); speed > maxSpeed && speed > 0 {
				p.Velocity = p.Velocity.Mul(maxSpeed / speed)
			}

			p.Position = p.Position.Add(p.Velocity.Mul(subDt))

			for axis := 0; axis < 3; axis++ {
				lo, hi := min[axis]+p.Radius, max[axis]-p.Radius
				if p.Position[axis] < lo {
					p.Position[axis] = lo
					p.Velocity[axis] *= -damping
				} else if p.Position[axis] > hi {
					p.Position[axis] = hi
					p.Velocity[axis] *= -damping
				}
			}
		}
	})
}
