// Command simbench drives the Verlet, SPH, and marching-cubes solvers
// for a fixed number of frames and reports per-frame timings, the way
// the teacher's own rt_main.go drives its voxel raytracer loop — but
// headless, with no window or render pass, since none of that is in
// scope here.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gekko3d/physcore/logging"
	"github.com/gekko3d/physcore/marching"
	"github.com/gekko3d/physcore/sph"
	"github.com/gekko3d/physcore/verlet"
	"github.com/go-gl/mathgl/mgl32"
)

func main() {
	frames := flag.Int("frames", 120, "number of simulation frames to run")
	particles := flag.Int("particles", 512, "number of particles to seed")
	flag.Parse()

	log := logging.NewDefaultLogger("simbench", false)

	if err := runVerlet(log, *frames, *particles); err != nil {
		fmt.Fprintln(os.Stderr, "verlet benchmark failed:", err)
		os.Exit(1)
	}
	if err := runSPH(log, *frames, *particles); err != nil {
		fmt.Fprintln(os.Stderr, "sph benchmark failed:", err)
		os.Exit(1)
	}
	runMarching(log)
}

func runVerlet(log logging.Logger, frames, n int) error {
	cfg := verlet.DefaultConfig2D()
	solver, err := verlet.NewSolver2D(cfg, nil, log)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		x := cfg.BoundsMin.X() + float32(i%32)*0.3
		y := cfg.BoundsMax.Y() - float32(i/32)*0.3
		if err := solver.AddParticle(verlet.NewParticle2D(mgl32.Vec2{x, y}, 0.1)); err != nil {
			return err
		}
	}
	for i := 0; i < frames; i++ {
		solver.Step(1.0 / 60.0)
	}
	log.Infof("verlet: %d particles, last step %s", len(solver.Particles()), solver.LastPhysicsTime())
	return nil
}

func runSPH(log logging.Logger, frames, n int) error {
	cfg := sph.DefaultConfig2D()
	solver, err := sph.NewSolver2D(cfg, nil, log)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		x := -2.0 + float32(i%32)*0.12
		y := float32(i/32) * 0.12
		if err := solver.AddParticle(sph.NewParticle2D(mgl32.Vec2{x, y})); err != nil {
			return err
		}
	}
	for i := 0; i < frames; i++ {
		solver.Step(1.0 / 60.0)
	}
	log.Infof("sph: %d particles, last step %s", len(solver.Particles()), solver.LastPhysicsTime())
	return nil
}

func runMarching(log logging.Logger) {
	const dim = 24
	dims := [3]int{dim, dim, dim}
	samples := make([]float32, dim*dim*dim)
	center := float32(dim-1) / 2
	for z := 0; z < dim; z++ {
		for y := 0; y < dim; y++ {
			for x := 0; x < dim; x++ {
				dx, dy, dz := float32(x)-center, float32(y)-center, float32(z)-center
				samples[x+dim*(y+dim*z)] = dx*dx + dy*dy + dz*dz - (dim/3)*(dim/3)
			}
		}
	}

	extractor := marching.NewExtractor()
	if err := extractor.SetField(dims, samples); err != nil {
		log.Errorf("marching: set field: %v", err)
		return
	}
	verts := extractor.Generate(0)
	log.Infof("marching cubes: %d vertices (%d triangles)", len(verts), len(verts)/3)
}
