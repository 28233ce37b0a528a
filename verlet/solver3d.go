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

// neighborOffsets3D is the forward half of the 26-cell neighborhood:
// an offset is included iff dz>0, or dz==0 && dy>0, or
// dz==0 && dy==0 && dx>0. Paired with the intra-cell scan, every
// particle pair is resolved exactly once per substep.
var neighborOffsets3D = [13][3]int{
	{-1, -1, 1}, {0, -1, 1}, {1, -1, 1},
	{-1, 0, 1}, {0, 0, 1}, {1, 0, 1},
	{-1, 1, 1}, {0, 1, 1}, {1, 1, 1},
	{-1, 1, 0}, {0, 1, 0}, {1, 1, 0},
	{1, 0, 0},
}

// Solver3D is the 3D analogue of Solver2D.
type Solver3D struct {
	cfg      Config3D
	pool     *pool.Pool
	ownsPool bool
	log      logging.Logger

	particles []Particle3D
	index     map[uuid.UUID]int

	g                    grid.Grid3D
	gridW, gridH, gridD  int
	lastPhysicsTime      time.Duration
}

func NewSolver3D(cfg Config3D, p *pool.Pool, log logging.Logger) (*Solver3D, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log = logging.OrNop(log)

	width := cfg.BoundsMax.X() - cfg.BoundsMin.X()
	height := cfg.BoundsMax.Y() - cfg.BoundsMin.Y()
	depth := cfg.BoundsMax.Z() - cfg.BoundsMin.Z()
	gridW := int(math.Ceil(float64(width / cfg.CellSize)))
	gridH := int(math.Ceil(float64(height / cfg.CellSize)))
	gridD := int(math.Ceil(float64(depth / cfg.CellSize)))
	if gridW < 1 {
		gridW = 1
	}
	if gridH < 1 {
		gridH = 1
	}
	if gridD < 1 {
		gridD = 1
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

	var g grid.Grid3D
	if cfg.UseBoundedGrid {
		g = grid.NewBoundedGrid3D(gridW, gridH, gridD, cfg.CellSize)
	} else {
		g = grid.NewUnboundedGrid3D(gridW, gridH, gridD, cfg.CellSize)
	}

	return &Solver3D{
		cfg:      cfg,
		pool:     p,
		ownsPool: ownsPool,
		log:      log,
		index:    make(map[uuid.UUID]int),
		g:        g,
		gridW:    gridW,
		gridH:    gridH,
		gridD:    gridD,
	}, nil
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
	s.g.Clear()
}

func (s *Solver3D) Particles() []Particle3D        { return s.particles }
func (s *Solver3D) LastPhysicsTime() time.Duration { return s.lastPhysicsTime }

func (s *Solver3D) Step(dt float32) {
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

func (s *Solver3D) accelerate() {
	s.pool.ParallelFor(len(s.particles), s.chunkSize(), func(start, end int) {
		for i := start; i < end; i++ {
			s.particles[i].Acceleration = s.particles[i].Acceleration.Add(s.cfg.Gravity)
		}
	})
}

func (s *Solver3D) integrate(subDt float32) {
	s.pool.ParallelFor(len(s.particles), s.chunkSize(), func(start, end int) {
		for i := start; i < end; i++ {
			p := &s.particles[i]
			velocity := p.Position.Sub(p.PrevPosition)
			next := p.Position.Add(velocity).Add(p.Acceleration.Mul(subDt * subDt))
			p.PrevPosition = p.Position
			p.Position = next
			p.Acceleration = mgl32.Vec3{}
		}
	})
}

func (s *Solver3D) reflectWalls() {
	min, max := s.cfg.BoundsMin, s.cfg.BoundsMax
	restitution := s.cfg.Restitution
	s.pool.ParallelFor(len(s.particles), s.chunkSize(), func(start, end int) {
		for i := start; i < end; i++ {
			p := &s.particles[i]
			velocity := p.Position.Sub(p.PrevPosition)

			for axis := 0; axis < 3; axis++ {
				if p.Position[axis]-p.Radius < min[axis] {
					p.Position[axis] = min[axis] + p.Radius
					p.PrevPosition[axis] = p.Position[axis] + velocity[axis]*restitution
				} else if p.Position[axis]+p.Radius > max[axis] {
					p.Position[axis] = max[axis] - p.Radius
					p.PrevPosition[axis] = p.Position[axis] + velocity[axis]*restitution
				}
			}
		}
	})
}

func (s *Solver3D) rebuildGrid() {
	s.g.Clear()
	min := s.cfg.BoundsMin
	cellSize := s.cfg.CellSize
	for i := range s.particles {
		gx := int(math.Floor(float64((s.particles[i].Position.X() - min.X()) / cellSize)))
		gy := int(math.Floor(float64((s.particles[i].Position.Y() - min.Y()) / cellSize)))
		gz := int(math.Floor(float64((s.particles[i].Position.Z() - min.Z()) / cellSize)))
		if !s.g.Insert(gx, gy, gz, uint32(i)) {
			s.log.Warnf("verlet: grid cell (%d,%d,%d) dropped particle %d (capacity exceeded)", gx, gy, gz, i)
		}
	}
}

func (s *Solver3D) collide() {
	width := s.g.Width()
	threads := s.pool.ThreadCount()
	if threads < 1 {
		threads = 1
	}
	// width/4 keeps every slice at least two columns wide, so the
	// dx=-1 and dx=+1 neighbor reaches of two same-parity slices never
	// meet in a shared column.
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
				wg.Done()
				s.collideColumns(colStart, colEnd)
			}
		}
		wg.Wait()
	}
}

func (s *Solver3D) collideColumns(colStart, colEnd int) {
	for gx := colStart; gx < colEnd; gx++ {
		for gy := 0; gy < s.g.Height(); gy++ {
			for gz := 0; gz < s.g.Depth(); gz++ {
				cell := s.g.Cell(gx, gy, gz)
				if len(cell) == 0 {
					continue
				}
				for i := 0; i < len(cell); i++ {
					for j := i + 1; j < len(cell); j++ {
						s.resolvePair(cell[i], cell[j])
					}
				}
				for _, off := range neighborOffsets3D {
					nx, ny, nz := gx+off[0], gy+off[1], gz+off[2]
					if nx < 0 || nx >= s.g.Width() || ny < 0 || ny >= s.g.Height() || nz < 0 || nz >= s.g.Depth() {
						continue
					}
					neighbor := s.g.Cell(nx, ny, nz)
					for _, a := range cell {
						for _, b := range neighbor {
							s.resolvePair(a, b)
						}
					}
				}
			}
		}
	}
}

func (s *Solver3D) resolvePair(ia, ib uint32) {
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
