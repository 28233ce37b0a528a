package sph

import "math"

// kernelFactors2D holds the normalization constants for the 2D
// density/near-density/viscosity kernels, recomputed whenever the
// smoothing radius changes (spec §4.D "Factors are recomputed
// whenever h changes").
type kernelFactors2D struct {
	spikyPow2      float32
	spikyPow3      float32
	spikyPow2Deriv float32
	spikyPow3Deriv float32
	poly6          float32
}

func newKernelFactors2D(h float32) kernelFactors2D {
	h2 := h * h
	h4 := h2 * h2
	h5 := h4 * h
	h8 := h4 * h4
	pi := float32(math.Pi)
	return kernelFactors2D{
		spikyPow2:      6 / (pi * h4),
		spikyPow3:      10 / (pi * h5),
		spikyPow2Deriv: 12 / (pi * h4),
		spikyPow3Deriv: 30 / (pi * h5),
		poly6:          4 / (pi * h8),
	}
}

// densityKernel2D is W_2(r): the Spiky power-2 density kernel.
func (k kernelFactors2D) densityKernel(h, r float32) float32 {
	if r >= h {
		return 0
	}
	d := h - r
	return k.spikyPow2 * d * d
}

// nearDensityKernel2D is W_3(r): the Spiky power-3 near-density kernel.
func (k kernelFactors2D) nearDensityKernel(h, r float32) float32 {
	if r >= h {
		return 0
	}
	d := h - r
	return k.spikyPow3 * d * d * d
}

// densityKernelDerivative is the magnitude of grad(W_2); direction is
// applied by the caller via the unit vector between particles.
func (k kernelFactors2D) densityKernelDerivative(h, r float32) float32 {
	if r >= h || r <= 0 {
		return 0
	}
	return -k.spikyPow2Deriv * (h - r)
}

func (k kernelFactors2D) nearDensityKernelDerivative(h, r float32) float32 {
	if r >= h || r <= 0 {
		return 0
	}
	d := h - r
	return -k.spikyPow3Deriv * d * d
}

// viscosityKernel is W_v(r), Poly6-shaped in 2D.
func (k kernelFactors2D) viscosityKernel(h, r float32) float32 {
	if r >= h {
		return 0
	}
	d := h*h - r*r
	return k.poly6 * d * d * d
}

// kernelFactors3D mirrors kernelFactors2D with the standard
// (Müller et al.) 3D SPH normalization constants — "standard SPH
// constants" per spec §4.D for the 3D case.
type kernelFactors3D struct {
	spikyPow2      float32
	spikyPow3      float32
	spikyPow2Deriv float32
	spikyPow3Deriv float32
	poly6          float32
}

func newKernelFactors3D(h float32) kernelFactors3D {
	h2 := h * h
	h5 := h2 * h2 * h
	h6 := h5 * h
	h9 := h6 * h2 * h
	pi := float32(math.Pi)
	return kernelFactors3D{
		spikyPow2:      15 / (2 * pi * h5),
		spikyPow3:      15 / (pi * h6),
		spikyPow2Deriv: 15 / (pi * h5),
		spikyPow3Deriv: 45 / (pi * h6),
		poly6:          315 / (64 * pi * h9),
	}
}

func (k kernelFactors3D) densityKernel(h, r float32) float32 {
	if r >= h {
		return 0
	}
	d := h - r
	return k.spikyPow2 * d * d
}

func (k kernelFactors3D) nearDensityKernel(h, r float32) float32 {
	if r >= h {
		return 0
	}
	d := h - r
	return k.spikyPow3 * d * d * d
}

func (k kernelFactors3D) densityKernelDerivative(h, r float32) float32 {
	if r >= h || r <= 0 {
		return 0
	}
	return -k.spikyPow2Deriv * (h - r)
}

func (k kernelFactors3D) nearDensityKernelDerivative(h, r float32) float32 {
	if r >= h || r <= 0 {
		return 0
	}
	d := h - r
	return -k.spikyPow3Deriv * d * d
}

func (k kernelFactors3D) viscosityKernel(h, r float32) float32 {
	if r >= h {
		return 0
	}
	d := h*h - r*r
	return k.poly6 * d * d * d
}
