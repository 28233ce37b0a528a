package sph

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/physcore/errs"
	"github.com/gekko3d/physcore/logging"
	"github.com/go-gl/mathgl/mgl32"
)

// gpuPassNames are the six SPH compute dispatch points (spec §4.D),
// in pipeline order. The bitonic sort runs as its own per-(stage,step)
// dispatch loop between externalForces and computeDensities.
var gpuPassNames = [6]string{
	"external_forces",
	"update_spatial_hash",
	"compute_densities",
	"compute_pressure_forces",
	"apply_viscosity",
	"integrate",
}

// gpuParticleGPU2D is the GPU-resident particle layout: every vector
// is padded to 16 bytes so WGSL's storage-buffer alignment rules
// (spec §3 "16-byte aligned") are satisfied without a packing shim.
type gpuParticleGPU2D struct {
	Position          [2]float32
	_pad0             [2]float32
	PredictedPosition [2]float32
	_pad1             [2]float32
	Velocity          [2]float32
	Radius            float32
	_pad2             float32
	Density           float32
	NearDensity       float32
	Pressure          float32
	NearPressure      float32
}

// gpuParams2D is the per-dispatch uniform block: the scalar config the
// CPU Solver2D closes over plus the two fields (BitonicStage/Step)
// that change on every sub-dispatch of the sort. Size is padded to a
// 16-byte multiple per WGSL's uniform address-space layout rules.
type gpuParams2D struct {
	BoundsMin, BoundsMax   [2]float32
	Gravity                [2]float32
	SmoothingRadius        float32
	TargetDensity          float32
	PressureMultiplier     float32
	NearPressureMultiplier float32
	ViscosityStrength      float32
	CollisionDamping       float32
	ParticleMass           float32
	SubDt                  float32
	MaxSpeed               float32
	SpikyPow2              float32
	SpikyPow3              float32
	SpikyPow2Deriv         float32
	SpikyPow3Deriv         float32
	Poly6                  float32
	ParticleCount          uint32
	TableSize              uint32
	BitonicStage           uint32
	BitonicStep            uint32
	MouseActive            uint32
	MouseAttract           uint32
	MousePosition          [2]float32
	MouseRadius            float32
	MouseStrength          float32
	_pad                   [2]float32
}

// GPUBackend2D dispatches the six SPH passes and the bitonic sort as
// wgpu compute pipelines instead of worker-pool ParallelFor calls.
// Grounded on gpu_operations.go's device/queue bring-up,
// voxelrt/rt/gpu/gizmo_pass.go's explicit BindGroupLayout +
// PipelineLayout construction (so one bind group serves every pass
// sharing the layout), and voxelrt/rt/gpu/manager_hiz.go's
// MapAsync/Poll/GetMappedRange readback pattern. It implements the
// same Solver2D-shaped surface (AddParticle/Clear/Step/Particles) so
// callers pick CPU or GPU at construction without touching call sites.
type GPUBackend2D struct {
	cfg Config2D
	log logging.Logger

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	bindGroupLayout *wgpu.BindGroupLayout
	pipelineLayout  *wgpu.PipelineLayout
	pipelines       map[string]*wgpu.ComputePipeline
	sortPipe        *wgpu.ComputePipeline

	particleBuffer *wgpu.Buffer
	uniformBuffer  *wgpu.Buffer
	lookupBuffer   *wgpu.Buffer
	startIdxBuffer *wgpu.Buffer
	stagingBuffer  *wgpu.Buffer
	bindGroup      *wgpu.BindGroup

	particles []Particle2D
	capacity  int
}

// NewGPUBackend2D initializes a headless wgpu device (no surface: this
// is a compute-only backend, spec's data-parallel variant has no
// presentation surface). Returns errs.ErrGPUUnavailable, wrapped with
// the underlying adapter/device error, if no compatible adapter can
// be acquired rather than silently falling back to the CPU path.
func NewGPUBackend2D(cfg Config2D, log logging.Logger) (*GPUBackend2D, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log = logging.OrNop(log)

	instance := wgpu.CreateInstance(nil)
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("sph: request adapter: %w: %w", errs.ErrGPUUnavailable, err)
	}
	device, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{Label: "sph-compute-device"})
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("sph: request device: %w: %w", errs.ErrGPUUnavailable, err)
	}
	queue := device.GetQueue()

	b := &GPUBackend2D{
		cfg:       cfg,
		log:       log,
		instance:  instance,
		adapter:   adapter,
		device:    device,
		queue:     queue,
		pipelines: make(map[string]*wgpu.ComputePipeline, len(gpuPassNames)),
	}

	bgl, err := device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "sph-bgl",
		Entries: []wgpu.BindGroupLayoutEntry{
			{Binding: 0, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeStorage}},
			{Binding: 1, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeUniform}},
			{Binding: 2, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeStorage}},
			{Binding: 3, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeStorage}},
		},
	})
	if err != nil {
		b.Release()
		return nil, fmt.Errorf("sph: create bind group layout: %w: %w", errs.ErrGPUUnavailable, err)
	}
	b.bindGroupLayout = bgl

	layout, err := device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{BindGroupLayouts: []*wgpu.BindGroupLayout{bgl}})
	if err != nil {
		b.Release()
		return nil, fmt.Errorf("sph: create pipeline layout: %w: %w", errs.ErrGPUUnavailable, err)
	}
	b.pipelineLayout = layout

	for _, name := range gpuPassNames {
		pipeline, err := b.createComputePipeline(name, sphPassWGSL(name))
		if err != nil {
			b.Release()
			return nil, fmt.Errorf("sph: compile pass %q: %w: %w", name, errs.ErrGPUUnavailable, err)
		}
		b.pipelines[name] = pipeline
	}
	sortPipe, err := b.createComputePipeline("bitonic_sort", bitonicSortWGSL)
	if err != nil {
		b.Release()
		return nil, fmt.Errorf("sph: compile bitonic sort: %w: %w", errs.ErrGPUUnavailable, err)
	}
	b.sortPipe = sortPipe

	uniformBuffer, err := device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "sph-params",
		Size:  uint64(unsafe.Sizeof(gpuParams2D{})),
		Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		b.Release()
		return nil, fmt.Errorf("sph: create params buffer: %w: %w", errs.ErrGPUUnavailable, err)
	}
	b.uniformBuffer = uniformBuffer

	return b, nil
}

func (b *GPUBackend2D) createComputePipeline(label, source string) (*wgpu.ComputePipeline, error) {
	shader, err := b.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: source},
	})
	if err != nil {
		return nil, err
	}
	defer shader.Release()

	return b.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  label,
		Layout: b.pipelineLayout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     shader,
			EntryPoint: "main",
		},
	})
}

// Release frees every wgpu resource this backend owns. Callers that
// construct a GPUBackend2D must call Release when finished with it;
// there is no finalizer, matching the teacher's own explicit-Release
// discipline for GPU resources.
func (b *GPUBackend2D) Release() {
	for _, p := range b.pipelines {
		if p != nil {
			p.Release()
		}
	}
	if b.sortPipe != nil {
		b.sortPipe.Release()
	}
	releaseBuffer(b.particleBuffer)
	releaseBuffer(b.uniformBuffer)
	releaseBuffer(b.lookupBuffer)
	releaseBuffer(b.startIdxBuffer)
	releaseBuffer(b.stagingBuffer)
	if b.bindGroup != nil {
		b.bindGroup.Release()
	}
	if b.pipelineLayout != nil {
		b.pipelineLayout.Release()
	}
	if b.bindGroupLayout != nil {
		b.bindGroupLayout.Release()
	}
	if b.device != nil {
		b.device.Release()
	}
	if b.adapter != nil {
		b.adapter.Release()
	}
	if b.instance != nil {
		b.instance.Release()
	}
}

func releaseBuffer(buf *wgpu.Buffer) {
	if buf != nil {
		buf.Release()
	}
}

func (b *GPUBackend2D) AddParticle(p Particle2D) error {
	if p.Radius == 0 {
		p.Radius = defaultParticleRadius
	}
	b.particles = append(b.particles, p)
	return nil
}

func (b *GPUBackend2D) Clear() {
	b.particles = b.particles[:0]
}

func (b *GPUBackend2D) Particles() []Particle2D { return b.particles }

// ensureBuffers (re)allocates the fixed buffer-binding-order set —
// particles, spatial-lookup entries, start-indices (spec §6) —
// whenever the particle count grows past the previously allocated
// capacity, and rebuilds the shared bind group against the new
// buffers.
func (b *GPUBackend2D) ensureBuffers() {
	n := len(b.particles)
	if n <= b.capacity && b.bindGroup != nil {
		return
	}
	padded := nextPowerOfTwo(n)
	if padded > b.capacity {
		b.capacity = padded
	}
	padded = b.capacity

	releaseBuffer(b.particleBuffer)
	releaseBuffer(b.lookupBuffer)
	releaseBuffer(b.startIdxBuffer)
	releaseBuffer(b.stagingBuffer)

	particleStride := uint64(unsafe.Sizeof(gpuParticleGPU2D{}))
	b.particleBuffer, _ = b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "sph-particles",
		Size:  particleStride * uint64(padded),
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc,
	})
	b.lookupBuffer, _ = b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "sph-spatial-lookup",
		Size:  8 * uint64(padded), // (index uint32, cellKey uint32) per entry
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst,
	})
	b.startIdxBuffer, _ = b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "sph-start-indices",
		Size:  4 * uint64(padded),
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst,
	})
	b.stagingBuffer, _ = b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "sph-particles-staging",
		Size:  particleStride * uint64(padded),
		Usage: wgpu.BufferUsageCopyDst | wgpu.BufferUsageMapRead,
	})

	bindGroup, err := b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "sph-bind-group",
		Layout: b.bindGroupLayout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: b.particleBuffer, Size: wgpu.WholeSize},
			{Binding: 1, Buffer: b.uniformBuffer, Size: wgpu.WholeSize},
			{Binding: 2, Buffer: b.lookupBuffer, Size: wgpu.WholeSize},
			{Binding: 3, Buffer: b.startIdxBuffer, Size: wgpu.WholeSize},
		},
	})
	if err != nil {
		b.log.Errorf("sph gpu: create bind group: %v", err)
		return
	}
	if b.bindGroup != nil {
		b.bindGroup.Release()
	}
	b.bindGroup = bindGroup
}

// uploadParticles serializes b.particles (padded with zero rows up to
// capacity) into particleBuffer.
func (b *GPUBackend2D) uploadParticles() {
	buf := new(bytes.Buffer)
	buf.Grow(int(unsafe.Sizeof(gpuParticleGPU2D{})) * b.capacity)
	for _, p := range b.particles {
		row := gpuParticleGPU2D{
			Position:          [2]float32{p.Position.X(), p.Position.Y()},
			PredictedPosition: [2]float32{p.PredictedPosition.X(), p.PredictedPosition.Y()},
			Velocity:          [2]float32{p.Velocity.X(), p.Velocity.Y()},
			Radius:            p.Radius,
			Density:           p.Density,
			NearDensity:       p.NearDensity,
			Pressure:          p.Pressure,
			NearPressure:      p.NearPressure,
		}
		binary.Write(buf, binary.LittleEndian, row)
	}
	var zero gpuParticleGPU2D
	for i := len(b.particles); i < b.capacity; i++ {
		binary.Write(buf, binary.LittleEndian, zero)
	}
	b.queue.WriteBuffer(b.particleBuffer, 0, buf.Bytes())
}

// uploadParams serializes the current config plus the sub-dispatch
// bitonic stage/step into uniformBuffer. Called before each substep's
// external_forces pass, before every sort sub-dispatch (BitonicStage/
// BitonicStep change on each), and once more before update_spatial_hash,
// whose upload the remaining passes of the substep reuse.
func (b *GPUBackend2D) uploadParams(subDt, maxSpeed float32, stage, step uint32) {
	factors := newKernelFactors2D(b.cfg.SmoothingRadius)
	n := len(b.particles)
	params := gpuParams2D{
		BoundsMin:              [2]float32{b.cfg.BoundsMin.X(), b.cfg.BoundsMin.Y()},
		BoundsMax:              [2]float32{b.cfg.BoundsMax.X(), b.cfg.BoundsMax.Y()},
		Gravity:                [2]float32{b.cfg.Gravity.X(), b.cfg.Gravity.Y()},
		SmoothingRadius:        b.cfg.SmoothingRadius,
		TargetDensity:          b.cfg.TargetDensity,
		PressureMultiplier:     b.cfg.PressureMultiplier,
		NearPressureMultiplier: b.cfg.NearPressureMultiplier,
		ViscosityStrength:      b.cfg.ViscosityStrength,
		CollisionDamping:       b.cfg.CollisionDamping,
		ParticleMass:           b.cfg.ParticleMass,
		SubDt:                  subDt,
		MaxSpeed:               maxSpeed,
		SpikyPow2:              factors.spikyPow2,
		SpikyPow3:              factors.spikyPow3,
		SpikyPow2Deriv:         factors.spikyPow2Deriv,
		SpikyPow3Deriv:         factors.spikyPow3Deriv,
		Poly6:                  factors.poly6,
		ParticleCount:          uint32(n),
		TableSize:              uint32(b.capacity),
		BitonicStage:           stage,
		BitonicStep:            step,
	}
	if b.cfg.MouseActive {
		params.MouseActive = 1
	}
	if b.cfg.MouseAttract {
		params.MouseAttract = 1
	}
	params.MousePosition = [2]float32{b.cfg.MousePosition.X(), b.cfg.MousePosition.Y()}
	params.MouseRadius = b.cfg.MouseRadius
	params.MouseStrength = b.cfg.MouseStrength

	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, params)
	b.queue.WriteBuffer(b.uniformBuffer, 0, buf.Bytes())
}

// Step advances the fluid by dt split into cfg.Iterations substeps,
// each running the six-pass pipeline plus the bitonic sort's
// log2(N_padded) stage/step dispatches (spec §4.D/§6). Results are
// read back into b.particles once, after the last substep.
func (b *GPUBackend2D) Step(dt float32) {
	n := len(b.particles)
	if n == 0 {
		return
	}
	b.ensureBuffers()
	b.uploadParticles()

	subDt := dt * b.cfg.timeScaleOrOne() / float32(b.cfg.Iterations)
	maxSpeed := 0.8 * b.cfg.SmoothingRadius / subDt
	workgroups := uint32((n + 63) / 64)

	for it := 0; it < b.cfg.Iterations; it++ {
		b.uploadParams(subDt, maxSpeed, 0, 0)
		b.dispatch(b.pipelines["external_forces"], workgroups)
		b.dispatchBitonicSort(n, subDt, maxSpeed)
		b.uploadParams(subDt, maxSpeed, 0, 0)
		b.dispatch(b.pipelines["update_spatial_hash"], workgroups)
		b.dispatch(b.pipelines["compute_densities"], workgroups)
		b.dispatch(b.pipelines["compute_pressure_forces"], workgroups)
		b.dispatch(b.pipelines["apply_viscosity"], workgroups)
		b.dispatch(b.pipelines["integrate"], workgroups)
	}

	b.readback()
}

func (b *GPUBackend2D) dispatch(pipeline *wgpu.ComputePipeline, workgroups uint32) {
	if pipeline == nil || b.bindGroup == nil {
		return
	}
	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		b.log.Errorf("sph gpu: create command encoder: %v", err)
		return
	}
	computePass := encoder.BeginComputePass(nil)
	computePass.SetPipeline(pipeline)
	computePass.SetBindGroup(0, b.bindGroup, nil)
	computePass.DispatchWorkgroups(workgroups, 1, 1)
	computePass.End()

	cmd, err := encoder.Finish(nil)
	if err != nil {
		b.log.Errorf("sph gpu: finish command buffer: %v", err)
		return
	}
	b.queue.Submit(cmd)
}

// dispatchBitonicSort issues the stage/step double loop of the
// bitonic network as separate dispatches, reuploading BitonicStage and
// BitonicStep before each, matching the CPU path's bitonicSort in
// hash.go exactly in structure.
func (b *GPUBackend2D) dispatchBitonicSort(n int, subDt, maxSpeed float32) {
	padded := b.capacity
	numStages := 0
	for (1 << numStages) < padded {
		numStages++
	}
	workgroups := uint32((padded/2 + 63) / 64)

	for stage := 0; stage < numStages; stage++ {
		for step := 0; step <= stage; step++ {
			b.uploadParams(subDt, maxSpeed, uint32(stage), uint32(step))
			b.dispatch(b.sortPipe, workgroups)
		}
	}
}

// readback copies particleBuffer back to the CPU through stagingBuffer
// and parses the result into b.particles, grounded on
// voxelrt/rt/gpu/manager_hiz.go's MapAsync/Poll/GetMappedRange/Unmap
// sequence.
func (b *GPUBackend2D) readback() {
	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		b.log.Errorf("sph gpu: create readback encoder: %v", err)
		return
	}
	stride := uint64(unsafe.Sizeof(gpuParticleGPU2D{}))
	size := stride * uint64(b.capacity)
	encoder.CopyBufferToBuffer(b.particleBuffer, 0, b.stagingBuffer, 0, size)
	cmd, err := encoder.Finish(nil)
	if err != nil {
		b.log.Errorf("sph gpu: finish readback command buffer: %v", err)
		return
	}
	b.queue.Submit(cmd)

	mapped := false
	b.stagingBuffer.MapAsync(wgpu.MapModeRead, 0, size, func(status wgpu.BufferMapAsyncStatus) {
		if status == wgpu.BufferMapAsyncStatusSuccess {
			mapped = true
		} else {
			b.log.Errorf("sph gpu: readback map failed: %d", status)
		}
	})
	b.device.Poll(true, nil)
	if !mapped {
		return
	}

	data := b.stagingBuffer.GetMappedRange(0, uint(size))
	n := len(b.particles)
	for i := 0; i < n; i++ {
		row := data[uint64(i)*stride : uint64(i+1)*stride]
		p := &b.particles[i]
		p.Position = mgl32Vec2FromBytes(row[0:8])
		p.PredictedPosition = mgl32Vec2FromBytes(row[16:24])
		p.Velocity = mgl32Vec2FromBytes(row[32:40])
		p.Radius = float32FromBytes(row[40:44])
		p.Density = float32FromBytes(row[48:52])
		p.NearDensity = float32FromBytes(row[52:56])
		p.Pressure = float32FromBytes(row[56:60])
		p.NearPressure = float32FromBytes(row[60:64])
	}
	b.stagingBuffer.Unmap()
}

func float32FromBytes(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

func mgl32Vec2FromBytes(b []byte) mgl32.Vec2 {
	return mgl32.Vec2{float32FromBytes(b[0:4]), float32FromBytes(b[4:8])}
}

// sphPassHeaderWGSL is the binding/struct prelude shared by every SPH
// compute pass and the bitonic sort shader, mirroring solver2d.go's
// Config2D/Particle2D field set and hash.go's hash/entry layout.
const sphPassHeaderWGSL = `
struct Particle {
  position: vec2<f32>,
  _pad0: vec2<f32>,
  predicted: vec2<f32>,
  _pad1: vec2<f32>,
  velocity: vec2<f32>,
  radius: f32,
  _pad2: f32,
  density: f32,
  near_density: f32,
  pressure: f32,
  near_pressure: f32,
}

struct Params {
  bounds_min: vec2<f32>,
  bounds_max: vec2<f32>,
  gravity: vec2<f32>,
  h: f32,
  target_density: f32,
  pressure_mult: f32,
  near_pressure_mult: f32,
  viscosity: f32,
  damping: f32,
  particle_mass: f32,
  sub_dt: f32,
  max_speed: f32,
  spiky_pow2: f32,
  spiky_pow3: f32,
  spiky_pow2_deriv: f32,
  spiky_pow3_deriv: f32,
  poly6: f32,
  particle_count: u32,
  table_size: u32,
  bitonic_stage: u32,
  bitonic_step: u32,
  mouse_active: u32,
  mouse_attract: u32,
  mouse_position: vec2<f32>,
  mouse_radius: f32,
  mouse_strength: f32,
}

struct LookupEntry {
  index: u32,
  cell_key: u32,
}

@group(0) @binding(0) var<storage, read_write> particles: array<Particle>;
@group(0) @binding(1) var<uniform> params: Params;
@group(0) @binding(2) var<storage, read_write> lookup: array<LookupEntry>;
@group(0) @binding(3) var<storage, read_write> start_indices: array<u32>;

fn cell_coord(pos: vec2<f32>) -> vec2<i32> {
  return vec2<i32>(floor((pos - params.bounds_min) / params.h));
}

fn cell_key(coord: vec2<i32>) -> u32 {
  let h = (u32(coord.x) * 15823u) ^ (u32(coord.y) * 9737333u);
  return h % params.table_size;
}

fn density_kernel(r: f32) -> f32 {
  if (r >= params.h) { return 0.0; }
  let d = params.h - r;
  return params.spiky_pow2 * d * d;
}

fn near_density_kernel(r: f32) -> f32 {
  if (r >= params.h) { return 0.0; }
  let d = params.h - r;
  return params.spiky_pow3 * d * d * d;
}

fn density_kernel_deriv(r: f32) -> f32 {
  if (r >= params.h || r <= 0.0) { return 0.0; }
  return -params.spiky_pow2_deriv * (params.h - r);
}

fn near_density_kernel_deriv(r: f32) -> f32 {
  if (r >= params.h || r <= 0.0) { return 0.0; }
  let d = params.h - r;
  return -params.spiky_pow3_deriv * d * d;
}

fn viscosity_kernel(r: f32) -> f32 {
  if (r >= params.h) { return 0.0; }
  let d = params.h * params.h - r * r;
  return params.poly6 * d * d * d;
}

// for_each_neighbor scans the 3x3 neighbor cell block around pos
// (spec §4.D "9 neighbor cells in 2D") via the sorted lookup table
// built by the update_spatial_hash pass.
fn for_each_neighbor_density(i: u32, pos: vec2<f32>) -> vec2<f32> {
  var density = 0.0;
  var near_density = 0.0;
  let base = cell_coord(pos);
  for (var dy = -1; dy <= 1; dy = dy + 1) {
    for (var dx = -1; dx <= 1; dx = dx + 1) {
      let key = cell_key(base + vec2<i32>(dx, dy));
      var idx = start_indices[key];
      loop {
        if (idx >= arrayLength(&lookup) || lookup[idx].cell_key != key) { break; }
        let j = lookup[idx].index;
        let r = distance(pos, particles[j].predicted);
        density = density + density_kernel(r);
        near_density = near_density + near_density_kernel(r);
        idx = idx + 1u;
      }
    }
  }
  return vec2<f32>(density, near_density);
}
`

// sphPassWGSL returns the full shader (shared header plus this pass's
// compute body) for one SPH dispatch point. Kernel math mirrors
// kernels.go's CPU formulas one-for-one; only the dispatch mechanism
// differs between backends.
func sphPassWGSL(pass string) string {
	var body string
	switch pass {
	case "external_forces":
		body = `
@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
  let i = gid.x;
  if (i >= params.particle_count) { return; }
  var v = particles[i].velocity + params.gravity * params.sub_dt;
  if (params.mouse_active != 0u) {
    let to_mouse = params.mouse_position - particles[i].position;
    let dist = length(to_mouse);
    if (dist < params.mouse_radius && dist > 1e-6) {
      var dir = to_mouse / dist;
      if (params.mouse_attract == 0u) { dir = -dir; }
      let strength = params.mouse_strength * (1.0 - dist / params.mouse_radius);
      v = v + dir * (strength * params.sub_dt);
    }
  }
  particles[i].velocity = v;
  particles[i].predicted = particles[i].position + v * (1.0 / 120.0);
}
`
	case "update_spatial_hash":
		body = `
@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
  let i = gid.x;
  if (i >= params.table_size) { return; }
  if (i < params.particle_count) {
    lookup[i].index = i;
    lookup[i].cell_key = cell_key(cell_coord(particles[i].predicted));
  } else {
    lookup[i].index = 0xffffffffu;
    lookup[i].cell_key = 0xffffffffu;
  }
  if (i == 0u || lookup[i - 1u].cell_key != lookup[i].cell_key) {
    if (lookup[i].cell_key < params.table_size) {
      start_indices[lookup[i].cell_key] = i;
    }
  }
}
`
	case "compute_densities":
		body = `
@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
  let i = gid.x;
  if (i >= params.particle_count) { return; }
  let d = for_each_neighbor_density(i, particles[i].predicted);
  particles[i].density = d.x;
  particles[i].near_density = d.y;
  particles[i].pressure = params.pressure_mult * (d.x - params.target_density);
  particles[i].near_pressure = params.near_pressure_mult * d.y;
}
`
	case "compute_pressure_forces":
		body = `
@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
  let i = gid.x;
  if (i >= params.particle_count) { return; }
  let pi = particles[i];
  if (pi.density <= 0.0) { return; }
  var force = vec2<f32>(0.0, 0.0);
  let base = cell_coord(pi.predicted);
  for (var dy = -1; dy <= 1; dy = dy + 1) {
    for (var dx = -1; dx <= 1; dx = dx + 1) {
      let key = cell_key(base + vec2<i32>(dx, dy));
      var idx = start_indices[key];
      loop {
        if (idx >= arrayLength(&lookup) || lookup[idx].cell_key != key) { break; }
        let j = lookup[idx].index;
        if (j != i) {
          let pj = particles[j];
          let delta = pj.predicted - pi.predicted;
          let r = length(delta);
          if (r < params.h && r > 1e-7) {
            let dir = delta / r;
            let shared_pressure = 0.5 * (pi.pressure + pj.pressure);
            let shared_near_pressure = 0.5 * (pi.near_pressure + pj.near_pressure);
            if (pj.density > 1e-7) {
              force = force + dir * (shared_pressure * density_kernel_deriv(r) / pj.density);
            }
            if (pj.near_density > 1e-7) {
              force = force + dir * (shared_near_pressure * near_density_kernel_deriv(r) / pj.near_density);
            }
          }
        }
        idx = idx + 1u;
      }
    }
  }
  particles[i].velocity = pi.velocity + force * (params.sub_dt / pi.density);
}
`
	case "apply_viscosity":
		body = `
@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
  let i = gid.x;
  if (i >= params.particle_count) { return; }
  let pi = particles[i];
  var delta = vec2<f32>(0.0, 0.0);
  let base = cell_coord(pi.predicted);
  for (var dy = -1; dy <= 1; dy = dy + 1) {
    for (var dx = -1; dx <= 1; dx = dx + 1) {
      let key = cell_key(base + vec2<i32>(dx, dy));
      var idx = start_indices[key];
      loop {
        if (idx >= arrayLength(&lookup) || lookup[idx].cell_key != key) { break; }
        let j = lookup[idx].index;
        if (j != i) {
          let pj = particles[j];
          let r = distance(pi.predicted, pj.predicted);
          if (r < params.h) {
            delta = delta + (pj.velocity - pi.velocity) * viscosity_kernel(r);
          }
        }
        idx = idx + 1u;
      }
    }
  }
  particles[i].velocity = pi.velocity + delta * (params.viscosity * params.sub_dt);
}
`
	case "integrate":
		body = `
@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
  let i = gid.x;
  if (i >= params.particle_count) { return; }
  var v = particles[i].velocity;
  let speed = length(v);
  if (speed > params.max_speed && speed > 0.0) {
    v = v * (params.max_speed / speed);
  }
  var pos = particles[i].position + v * params.sub_dt;
  let r = particles[i].radius;
  let lo = params.bounds_min + vec2<f32>(r, r);
  let hi = params.bounds_max - vec2<f32>(r, r);
  if (pos.x < lo.x) { pos.x = lo.x; v.x = -v.x * params.damping; }
  else if (pos.x > hi.x) { pos.x = hi.x; v.x = -v.x * params.damping; }
  if (pos.y < lo.y) { pos.y = lo.y; v.y = -v.y * params.damping; }
  else if (pos.y > hi.y) { pos.y = hi.y; v.y = -v.y * params.damping; }
  particles[i].position = pos;
  particles[i].velocity = v;
}
`
	}
	return sphPassHeaderWGSL + body
}

// bitonicSortWGSL is the Batcher network compare-exchange pass,
// mirroring hash.go's bitonicSort formulas: groupWidth =
// 1<<(stage-step), groupHeight = 2*groupWidth-1, indexLeft =
// hIndex + (groupHeight+1)*(i/groupWidth), with the right-hand offset
// groupHeight-2*hIndex on a stage's first step and groupWidth after.
// The CPU orchestrator reuploads bitonic_stage/bitonic_step through
// Params before every sub-dispatch.
const bitonicSortWGSL = sphPassHeaderWGSL + `
@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
  let i = gid.x;
  let group_width = 1u << (params.bitonic_stage - params.bitonic_step);
  let group_height = 2u * group_width - 1u;
  let h_index = i & (group_width - 1u);
  var right_step = group_width;
  if (params.bitonic_step == 0u) {
    right_step = group_height - 2u * h_index;
  }
  let index_left = h_index + (group_height + 1u) * (i / group_width);
  let index_right = index_left + right_step;
  if (index_right >= params.table_size) { return; }
  if (lookup[index_left].cell_key > lookup[index_right].cell_key) {
    let tmp = lookup[index_left];
    lookup[index_left] = lookup[index_right];
    lookup[index_right] = tmp;
  }
}
`
