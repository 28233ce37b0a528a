// Package verlet implements the position-based Verlet particle solver
// (spec §4.C): accelerate, integrate, reflect off walls, rebuild the
// spatial grid, then resolve collisions in two barrier-separated
// passes so no two concurrently running workers ever touch the same
// cell neighborhood. Grounded on original_source/Collision
// System/solver.cpp and solver.h, restructured around physcore's own
// grid and pool packages in place of the original's raw pthreads and
// in-place arrays.
package verlet

import (
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/gekko3d/physcore/errs"
	"github.com/gekko3d/physcore/grid"
	"github.com/gekko3d/physcore/logging"
	"github.com/gekko3d/physcore/pool"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// neighborOffsets2D covers half of the 8-neighborhood (plus the
// intra-cell scan done separately). Because each pair of adjacent
// cells is only checked from one of the two directions, every pair of
// particles is resolved exactly once per substep, matching
// solver.cpp's CollisionGrid::checkCellCollisions.
var neighborOffsets2D = [4][2]int{{1, 0}, {0, 1}, {1, 1}, {-1, 1}}

// Solver2D owns a particle set, its backing grid, and the worker pool
// used for the two-pass collision resolution.
type Solver2D struct {
	cfg      Config2D
	pool     *pool.Pool
	ownsPool bool
	log      logging.Logger

	particles []Particle2D
	index     map[uuid.UUID]int

	g            grid.Grid2D
	gridW, gridH int

	lastPhysicsTime time.Duration
}

// NewSolver2D builds a solver over cfg. p may be nil, in which case
// the solver spawns and owns a private pool sized to runtime.NumCPU().
func NewSolver2D(cfg Config2D, p *pool.Pool, log logging.Logger) (*Solver2D, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log = logging.OrNop(log)

	width := cfg.BoundsMax.X() - cfg.BoundsMin.X()
	height := cfg.BoundsMax.Y() - cfg.BoundsMin.Y()
	gridW := int(math.Ceil(float64(width / cfg.CellSize)))
	gridH := int(math.Ceil(float64(height / cfg.CellSize)))
	if gridW < 1 {
		gridW = 1
	}
	if gridH < 1 {
		gridH = 1
	}

	ownsPool := false
	if p == nil {
		var err error
		p, err = pool.New(runtime.NumCPU(), log.With("pool"))
		if err != nil {
			return nil, err
		}
		ownsPool = true
	}

	var g grid.Grid2D
	if cfg.UseBoundedGrid {
		g = grid.NewBoundedGrid2D(gridW, gridH, cfg.CellSize)
	} else {
		g = grid.NewUnboundedGrid2D(gridW, gridH, cfg.CellSize)
	}

	return &Solver2D{
		cfg:      cfg,
		pool:     p,
		ownsPool: ownsPool,
		log:      log,
		index:    make(map[uuid.UUID]int),
		g:        g,
		gridW:    gridW,
		gridH:    gridH,
	}, nil
}

// AddParticle appends p to the simulation. Re-adding an ID already
// present returns errs.ErrDuplicateIdentity and leaves the existing
// particle untouched.
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

// Clear removes every particle and resets the grid.
func (s *Solver2D) Clear() {
	s.particles = s.particles[:0]
	s.index = make(map[uuid.UUID]int)
	s.g.Clear()
}

// Particles returns the current particle snapshot. The slice is owned
// by the solver: callers must treat it as read-only and must not hold
// it across a call to Step.
func (s *Solver2D) Particles() []Particle2D { return s.particles }

// LastPhysicsTime reports the wall-clock duration of the most recent
// Step call, for frame-budget diagnostics.
func (s *Solver2D) LastPhysicsTime() time.Duration { return s.lastPhysicsTime }

// Step advances the simulation by dt, split into cfg.Iterations
// substeps (spec §4.C's predictor-free sub-stepping for stability).
func (s *Solver2D) Step(dt float32) {
	start := time.Now()
	if len(s.particles) == 0 {
		s.lastPhysicsTime = time.Since(start)
		return
	}
	subDt := dt / float32(s.cfg.Iterations)
	for i := 0; i < s.cfg.Iterations; i++ {
		s.accelerate()
		s.integrate(subDt)
		s.reflectWalls()
		s.rebuildGrid()
		s.collide()
	}
	s.lastPhysicsTime = time.Since(start)
}

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

func (s *Solver2D) accelerate() {
	s.pool.ParallelFor(len(s.particles), s.chunkSize(), func(start, end int) {
		for i := start; i < end; i++ {
			s.particles[i].Acceleration = s.particles[i].Acceleration.Add(s.cfg.Gravity)
		}
	})
}

func (s *Solver2D) integrate(subDt float32) {
	s.pool.ParallelFor(len(s.particles), s.chunkSize(), func(start, end int) {
		for i := start; i < end; i++ {
			p := &s.particles[i]
			velocity := p.Position.Sub(p.PrevPosition)
			next := p.Position.Add(velocity).Add(p.Acceleration.Mul(subDt * subDt))
			p.PrevPosition = p.Position
			p.Position = next
			p.Acceleration = mgl32.Vec2{}
		}
	})
}

func (s *Solver2D) reflectWalls() {
	min, max := s.cfg.BoundsMin, s.cfg.BoundsMax
	restitution := s.cfg.Restitution
	s.pool.ParallelFor(len(s.particles), s.chunkSize(), func(start, end int) {
		for i := start; i < end; i++ {
			p := &s.particles[i]
			velocity := p.Position.Sub(p.PrevPosition)

			if p.Position[0]-p.Radius < min.X() {
				p.Position[0] = min.X() + p.Radius
				p.PrevPosition[0] = p.Position[0] + velocity.X()*restitution
			} else if p.Position[0]+p.Radius > max.X() {
				p.Position[0] = max.X() - p.Radius
				p.PrevPosition[0] = p.Position[0] + velocity.X()*restitution
			}

			if p.Position[1]-p.Radius < min.Y() {
				p.Position[1] = min.Y() + p.Radius
				p.PrevPosition[1] = p.Position[1] + velocity.Y()*restitution
			} else if p.Position[1]+p.Radius > max.Y() {
				p.Position[1] = max.Y() - p.Radius
				p.PrevPosition[1] = p.Position[1] + velocity.Y()*restitution
			}
		}
	})
}

// rebuildGrid is single-threaded by design (spec §4.B): the collision
// pass that follows depends on every cell being fully populated before
// any worker starts reading it.
func (s *Solver2D) rebuildGrid() {
	s.g.Clear()
	min := s.cfg.BoundsMin
	cellSize := s.cfg.CellSize
	for i := range s.particles {
		gx := int(math.Floor(float64((s.particles[i].Position.X() - min.X()) / cellSize)))
		gy := int(math.Floor(float64((s.particles[i].Position.Y() - min.Y()) / cellSize)))
		if !s.g.Insert(gx, gy, uint32(i)) {
			s.log.Warnf("verlet: grid cell (%d,%d) dropped particle %d (capacity exceeded)", gx, gy, i)
		}
	}
}

// collide partitions the grid's columns into 2*T vertical slices and
// dispatches the even slices, barriers, then the odd slices (spec
// §4.B "two-pass slice-parallel resolution"). Within a slice, cells
// are visited left-to-right, top-to-bottom.
func (s *Solver2D) collide() {
	width := s.g.Width()
	threads := s.pool.ThreadCount()
	if threads < 1 {
		threads = 1
	}
	// width/4 keeps every slice at least two columns wide, so the
	// {-1,1} and {1,*} neighbor reaches of two same-parity slices
	// never meet in a shared column.
	maxThreads := width / 4
	if maxThreads < 1 {
		maxThreads = 1
	}
	if threads > maxThreads {
		threads = maxThreads
	}
	sliceCount := 2 * threads
	colsPerSlice := (width + sliceCount - 1) / sliceCount

	for parity := 0; parity < 2; parity++ {
		var wg sync.WaitGroup
		for slice := parity; slice < sliceCount; slice += 2 {
			colStart := slice * colsPerSlice
			if colStart >= width {
				continue
			}
			colEnd := colStart + colsPerSlice
			if colEnd > width {
				colEnd = width
			}
			wg.Add(1)
			if _, err := s.pool.Enqueue(func() {
				defer wg.Done()
				s.collideColumns(colStart, colEnd)
			}); err != nil {
				// Pool shutting down mid-step: run inline rather than deadlock.
				wg.Done()
				s.collideColumns(colStart, colEnd)
			}
		}
		wg.Wait()
	}
}

func (s *Solver2D) collideColumns(colStart, colEnd int) {
	for gx := colStart; gx < colEnd; gx++ {
		for gy := 0; gy < s.g.Height(); gy++ {
			cell := s.g.Cell(gx, gy)
			if len(cell) == 0 {
				continue
			}
			for i := 0; i < len(cell); i++ {
				for j := i + 1; j < len(cell); j++ {
					s.resolvePair(cell[i], cell[j])
				}
			}
			for _, off := range neighborOffsets2D {
				nx, ny := gx+off[0], gy+off[1]
				if nx < 0 || nx >= s.g.Width() || ny < 0 || ny >= s.g.Height() {
					continue
				}
				neighbor := s.g.Cell(nx, ny)
				for _, a := range cell {
					for _, b := range neighbor {
						s.resolvePair(a, b)
					}
				}
			}
		}
	}
}

func (s *Solver2D) resolvePair(ia, ib uint32) {
	if ia == ib {
		return
	}
	a := &s.particles[ia]
	b := &s.particles[ib]

	delta := b.Position.Sub(a.Position)
	distSq := delta.Dot(delta)
	minDist := a.Radius + b.Radius
	if distSq >= minDist*minDist || distSq < collisionEpsilon {
		return
	}

	dist := float32(math.Sqrt(float64(distSq)))
	normal := delta.Mul(1 / dist)
	overlap := 0.5 * (minDist - dist) * s.cfg.ResponseFactor

	a.Position = a.Position.Sub(normal.Mul(overlap))
	b.Position = b.Position.Add(normal.Mul(overlap))
}
