// Package errs defines the error kinds shared across the simulation
// cores so callers can branch with errors.Is instead of string matching.
package errs

import "errors"

var (
	// ErrInvalidConfig is returned when a constructor is given a
	// non-positive size, radius, iteration count, or degenerate bounds.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrCapacityExceeded names the case of an insertion past a bounded
	// cell's fixed capacity. No function in this module returns it:
	// bounded grids report a dropped insertion by returning false from
	// Insert, and the Verlet solvers log that drop as a warning.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrDuplicateIdentity is returned when a spawner attempts to add a
	// particle whose identity already exists in the solver.
	ErrDuplicateIdentity = errors.New("duplicate identity")

	// ErrPoolShutDown is returned when work is submitted to a worker
	// pool that has entered or completed its draining state.
	ErrPoolShutDown = errors.New("worker pool shut down")

	// ErrFieldDimensionMismatch is returned when marching.SetField
	// receives a sample buffer whose length disagrees with its
	// declared dimensions.
	ErrFieldDimensionMismatch = errors.New("field dimension mismatch")

	// ErrGPUUnavailable is returned by a GPU-backed solver/extractor
	// when the wgpu backend fails to initialize (no adapter, device
	// request rejected, etc). Callers should fall back to a CPU
	// backend explicitly; this package never does so silently.
	ErrGPUUnavailable = errors.New("gpu backend unavailable")
)
