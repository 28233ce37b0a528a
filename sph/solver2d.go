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

// neighborOffsets2D9 is the 3x3 neighbor cell block pass 3/4/5 scan
// (spec §4.D "9 neighbor cells in 2D").
var neighborOffsets2D9 = [9][2]int{
	{-1, -1}, {0, -1}, {1, -1},
	{-1, 0}, {0, 0}, {1, 0},
	{-1, 1}, {0, 1}, {1, 1},
}

// Solver2D is the 2D SPH CPU backend.
type Solver2D struct {
	cfg     Config2D
	pool    *pool.Pool
	factors kernelFactors2D

	particles []Particle2D
	index     map[uuid.UUID]int
	hash      *spatialHash

	log             logging.Logger
	lastPhysicsTime time.Duration
}

// NewSolver2D builds a CPU SPH solver. p may be nil to let the solver
// own a private pool sized to runtime.NumCPU().
func NewSolver2D(cfg Config2D, p *pool.Pool, log logging.Logger) (*Solver2D, error) {
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

	return &Solver2D{
		cfg:     cfg,
		pool:    p,
		factors: newKernelFactors2D(cfg.SmoothingRadius),
		index:   make(map[uuid.UUID]int),
		log:     log,
	}, nil
}

// SetSmoothingRadius changes h and recomputes kernel normalization
// factors (spec §4.D "Factors are recomputed whenever h changes").
func (s *Solver2D) SetSmoothingRadius(h float32) error {
	if h <= 0 {
		return errs.ErrInvalidConfig
	}
	s.cfg.SmoothingRadius = h
	s.factors = newKernelFactors2D(h)
	return nil
}

func (s *Solver2D) AddParticle(p Particle2D) error {
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

func (s *Solver2D) Clear() {
	s.particles = s.particles[:0]
	s.index = make(map[uuid.UUID]int)
	s.hash = nil
}

func (s *Solver2D) Particles() []Particle2D        { return s.particles }
func (s *Solver2D) LastPhysicsTime() time.Duration { return s.lastPhysicsTime }

func (s *Solver2D) chunkSize() int {
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

// Step advances the fluid by dt split into cfg.Iterations substeps,
// each running the six-pass pipeline (spec §4.D).
func (s *Solver2D) Step(dt float32) {
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

// pass 1
func (s *Solver2D) externalForces(subDt float32) {
	cfg := s.cfg
	s.pool.ParallelFor(len(s.particles), s.chunkSize(), func(start, end int) {
		for i := start; i < end; i++ {
			p := &s.particles[i]
			p.Velocity = p.Velocity.Add(cfg.Gravity.Mul(subDt))

			if cfg.MouseActive {
				toMouse := cfg.MousePosition.Sub(p.Position)
				dist := toMouse.Len()
				if dist < cfg.MouseRadius && dist > 1e-6 {
					dir := toMouse.Mul(1 / dist)
					if !cfg.MouseAttract {
						dir = dir.Mul(-1)
					}
					strength := cfg.MouseStrength * (1 - dist/cfg.MouseRadius)
					p.Velocity = p.Velocity.Add(dir.Mul(strength * subDt))
				}
			}

			p.PredictedPosition = p.Position.Add(p.Velocity.Mul(1.0 / 120.0))
		}
	})
}

// pass 2
func (s *Solver2D) updateSpatialHash() {
	min := [2]float32{s.cfg.BoundsMin.X(), s.cfg.BoundsMin.Y()}
	h := s.cfg.SmoothingRadius
	tableSize := s.hash.tableSize
	s.hash.build(s.pool, len(s.particles), func(i int) uint32 {
		pp := s.particles[i].PredictedPosition
		gx, gy := cellCoord2D([2]float32{pp.X(), pp.Y()}, min, h)
		return cellKey2D(gx, gy, tableSize)
	})
}

func (s *Solver2D) neighborIndices(pos mgl32.Vec2, visit func(j uint32)) {
	min := [2]float32{s.cfg.BoundsMin.X(), s.cfg.BoundsMin.Y()}
	h := s.cfg.SmoothingRadius
	gx, gy := cellCoord2D([2]float32{pos.X(), pos.Y()}, min, h)
	tableSize := s.hash.tableSize
	for _, off := range neighborOffsets2D9 {
		key := cellKey2D(gx+off[0], gy+off[1], tableSize)
		s.hash.forEachInCell(key, visit)
	}
}

// pass 3
func (s *Solver2D) computeDensities() {
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

// pass 4
func (s *Solver2D) computePressureForces(subDt float32) {
	h := s.cfg.SmoothingRadius
	factors := s.factors
	s.pool.ParallelFor(len(s.particles), s.chunkSize(), func(start, end int) {
		for i := start; i < end; i++ {
			pi := &s.particles[i]
			if pi.Density <= 0 {
				continue
			}
			var force mgl32.Vec2
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

// pass 5
func (s *Solver2D) applyViscosity(subDt float32) {
	h := s.cfg.SmoothingRadius
	mu := s.cfg.ViscosityStrength
	factors := s.factors
	velocities := make([]mgl32.Vec2, len(s.particles))
	s.pool.ParallelFor(len(s.particles), s.chunkSize(), func(start, end int) {
		for i := start; i < end; i++ {
			pi := &s.particles[i]
			var delta mgl32.Vec2
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

// pass 6
func (s *Solver2D) integrate(subDt, maxSpeed float32) {
	min, max := s.cfg.BoundsMin, s.cfg.BoundsMax
	damping := s.cfg.CollisionDamping
	s.pool.ParallelFor(len(s.particles), s.chunkSize(), func(start, end int) {
		for i := start; i < end; i++ {
			p := &s.particles[i]

			if speed := p.Velocity.Len(); speed > maxSpeed && speed > 0 {
				p.Velocity = p.Velocity.Mul(maxSpeed / speed)
			}

			p.Position = p.Position.Add(p.Velocity.Mul(subDt))

			loX, hiX := min.X()+p.Radius, max.X()-p.Radius
			loY, hiY := min.Y()+p.Radius, max.Y()-p.Radius
			if p.Position[0] < loX {
				p.Position[0] = loX
				p.Velocity[0] *= -damping
			} else if p.Position[0] > hiX {
				p.Position[0] = hiX
				p.Velocity[0] *= -damping
			}
			if p.Position[1] < loY {
				p.Position[1] = loY
				p.Velocity[1] *= -damping
			} else if p.Position[1] > hiY {
				p.Position[1] = hiY
				p.Velocity[1] *= -damping
			}
		}
	})
}
